package detector

import (
	"strings"
	"time"

	"github.com/user/yesman/internal/collector"
	"github.com/user/yesman/internal/pattern"
)

const (
	defaultConfidenceFloor = 0.30

	// A match whose end lies within this many bytes of the buffer tail is
	// treated as fully end-anchored. Prompts render as the last lines of a
	// pane, so anything deeper is progressively suspect.
	endAnchorSlack = 160

	minMatchQuality = 0.4
)

// DetectedPrompt is the one-shot result of classifying pane output. It is
// consumed once by the response engine and discarded.
type DetectedPrompt struct {
	PaneID            string
	Type              pattern.PromptType
	MatchedText       string
	CandidateResponse string
	RawConfidence     float64
	DetectedAt        time.Time
}

// Detector matches pane text against an immutable pattern registry. Multiple
// detectors with different registries can coexist; nothing is shared.
type Detector struct {
	registry *pattern.Registry
	floor    float64
}

// New builds a detector over the given registry. floor <= 0 selects the
// default minimum absolute confidence.
func New(registry *pattern.Registry, floor float64) *Detector {
	if floor <= 0 {
		floor = defaultConfidenceFloor
	}
	return &Detector{registry: registry, floor: floor}
}

// Detect classifies the delta's new text, falling back to the tail of the
// full buffer for prompts that appeared without a fresh delta (terminal
// redraws). Returns nil when no pattern clears the confidence floor.
func (d *Detector) Detect(delta *collector.ContentDelta) *DetectedPrompt {
	if delta == nil {
		return nil
	}
	if p := d.scan(delta.PaneID, delta.NewText); p != nil {
		return p
	}
	if delta.FullText != delta.NewText {
		return d.scan(delta.PaneID, tailOf(delta.FullText, endAnchorSlack*2))
	}
	return nil
}

func (d *Detector) scan(paneID, text string) *DetectedPrompt {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var best *DetectedPrompt
	for _, set := range d.registry.Sets() {
		cand := matchSet(set, text)
		if cand == nil {
			continue
		}
		if cand.RawConfidence < d.floor {
			continue
		}
		// Sets are ordered by type priority, so a strict > keeps the
		// higher-priority type on exact confidence ties.
		if best == nil || cand.RawConfidence > best.RawConfidence {
			cand.PaneID = paneID
			cand.DetectedAt = time.Now().UTC()
			best = cand
		}
	}
	return best
}

// matchSet evaluates a set's rules in order; the first matching rule wins
// within the set.
func matchSet(set *pattern.Set, text string) *DetectedPrompt {
	for i := range set.Rules {
		rule := &set.Rules[i]
		re := rule.Regexp()
		loc := re.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}

		matched := text[loc[0]:loc[1]]
		response := rule.Response
		if strings.Contains(response, "$") {
			response = string(re.ExpandString(nil, response, text, loc))
		}

		return &DetectedPrompt{
			Type:              set.Type,
			MatchedText:       strings.TrimSpace(matched),
			CandidateResponse: response,
			RawConfidence:     set.BaseConfidence * matchQuality(text, loc[1]),
		}
	}
	return nil
}

// matchQuality rewards matches anchored at the end of the visible text and
// penalizes matches buried in scrollback.
func matchQuality(text string, matchEnd int) float64 {
	tail := len(text) - matchEnd
	if tail <= endAnchorSlack {
		return 1.0
	}
	q := 1.0 - float64(tail-endAnchorSlack)/float64(len(text))
	if q < minMatchQuality {
		q = minMatchQuality
	}
	return q
}

func tailOf(text string, n int) string {
	if len(text) <= n {
		return text
	}
	cut := text[len(text)-n:]
	// Align to a line boundary so patterns anchored at line starts still fire.
	if idx := strings.IndexByte(cut, '\n'); idx >= 0 {
		return cut[idx+1:]
	}
	return cut
}
