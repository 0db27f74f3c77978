package pattern

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule pairs a compiled regex with the response token it suggests. Response
// may reference capture groups ("$1") which are expanded against the match.
type Rule struct {
	Pattern  string `yaml:"pattern"`
	Response string `yaml:"response"`

	re *regexp.Regexp
}

// Regexp returns the compiled pattern.
func (r *Rule) Regexp() *regexp.Regexp { return r.re }

// Set groups the ordered rules for one prompt type. Rules are evaluated in
// file order: the first matching rule within a set wins.
type Set struct {
	Type           PromptType `yaml:"type"`
	BaseConfidence float64    `yaml:"base_confidence"`
	Rules          []Rule     `yaml:"rules"`
}

// Registry is the immutable collection of prompt pattern sets. It is built
// once at startup and passed into detectors by value reference; it is never
// mutated afterwards, so concurrent readers need no locking.
type Registry struct {
	sets []*Set
}

// NewRegistry validates and compiles the given sets into a registry.
// Intended for tests and for callers that assemble sets programmatically.
func NewRegistry(sets ...*Set) (*Registry, error) {
	seen := make(map[PromptType]bool, len(sets))
	compiled := make([]*Set, 0, len(sets))
	for _, s := range sets {
		if err := compileSet(s); err != nil {
			return nil, err
		}
		if seen[s.Type] {
			return nil, fmt.Errorf("duplicate pattern set for type %q", s.Type)
		}
		seen[s.Type] = true
		compiled = append(compiled, s)
	}
	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].Type.Priority() > compiled[j].Type.Priority()
	})
	return &Registry{sets: compiled}, nil
}

// Load reads every pattern YAML file from dir, writing the shipped defaults
// first if the directory holds none. A malformed file is a startup failure:
// monitoring must not begin with a silently skipped rule.
func Load(dir string) (*Registry, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("pattern dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pattern dir: %w", err)
	}
	if err := ensureDefaults(dir); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read pattern dir: %w", err)
	}

	var sets []*Set
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		set, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return NewRegistry(sets...)
}

// Sets returns the pattern sets in descending type-priority order.
func (r *Registry) Sets() []*Set {
	return r.sets
}

// Set returns the pattern set for a type, or nil if none is registered.
func (r *Registry) Set(t PromptType) *Set {
	for _, s := range r.sets {
		if s.Type == t {
			return s
		}
	}
	return nil
}

func loadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern file %q: %w", path, err)
	}
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse pattern file %q: %w", path, err)
	}
	if err := compileSet(&set); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &set, nil
}

func compileSet(s *Set) error {
	if s == nil {
		return errors.New("pattern set is required")
	}
	if !s.Type.Valid() {
		return fmt.Errorf("unknown prompt type %q", s.Type)
	}
	if s.BaseConfidence <= 0 || s.BaseConfidence > 1 {
		return fmt.Errorf("base_confidence %v for type %q out of (0,1]", s.BaseConfidence, s.Type)
	}
	if len(s.Rules) == 0 {
		return fmt.Errorf("pattern set %q has no rules", s.Type)
	}
	for i := range s.Rules {
		rule := &s.Rules[i]
		if strings.TrimSpace(rule.Pattern) == "" {
			return fmt.Errorf("pattern set %q rule %d: empty pattern", s.Type, i)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("pattern set %q rule %d: %w", s.Type, i, err)
		}
		rule.re = re
	}
	return nil
}
