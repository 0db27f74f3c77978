package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Merge modes for the local config file.
const (
	ModeMerge = "merge"
	ModeLocal = "local"
)

// Duration wraps time.Duration so YAML values like "500ms" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Token       string `yaml:"token"`
	TmuxSession string `yaml:"tmux_session"`

	// ExecCommand, when set, runs the agent in a managed PTY instead
	// of attaching to a tmux session.
	ExecCommand string `yaml:"exec_command,omitempty"`

	DataDir    string `yaml:"data_dir"`
	PatternDir string `yaml:"pattern_dir"`

	CaptureLines int `yaml:"capture_lines"`

	PollInterval  Duration `yaml:"poll_interval"`
	ResponseDelay Duration `yaml:"response_delay"`
	GraceWindow   Duration `yaml:"grace_window"`
	Cooldown      Duration `yaml:"cooldown"`

	AutoThreshold   float64 `yaml:"auto_threshold"`
	EscalateFloor   float64 `yaml:"escalate_floor"`
	ConfidenceFloor float64 `yaml:"confidence_floor"`

	RestartBudget        int `yaml:"restart_budget"`
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`

	RecomputeEvery    int      `yaml:"recompute_every"`
	RecomputeInterval Duration `yaml:"recompute_interval"`
	MaxRecords        int      `yaml:"max_records"`

	// AutoSelect maps a prompt type to the token used when a pattern
	// rule captures no response of its own.
	AutoSelect map[string]string `yaml:"auto_select"`

	// Mode is read from the local file only: "merge" overlays the
	// local file on the global one, "local" ignores the global file.
	Mode string `yaml:"mode,omitempty"`

	globalPath string
}

func defaults() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Host:                 "127.0.0.1",
		Port:                 8876,
		TmuxSession:          "ai-coding",
		DataDir:              filepath.Join(home, ".yesman"),
		PatternDir:           filepath.Join(home, ".yesman", "patterns"),
		CaptureLines:         500,
		PollInterval:         Duration(1 * time.Second),
		ResponseDelay:        Duration(500 * time.Millisecond),
		GraceWindow:          Duration(1 * time.Minute),
		Cooldown:             Duration(10 * time.Second),
		AutoThreshold:        0.85,
		EscalateFloor:        0.5,
		ConfidenceFloor:      0.3,
		RestartBudget:        3,
		MaxConsecutiveErrors: 5,
		RecomputeEvery:       25,
		RecomputeInterval:    Duration(5 * time.Minute),
		MaxRecords:           1000,
		AutoSelect: map[string]string{
			"yes_no":          "y",
			"numbered_choice": "1",
			"binary_choice":   "1",
			"trust_confirm":   "1",
		},
	}
}

// Load builds the effective configuration: defaults, then the global
// file, then the local file (per its merge mode), then flags. A
// missing token is generated and persisted to the global file.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	globalPath := filepath.Join(home, ".yesman", "yesman.yaml")
	localPath := filepath.Join(".yesman", "yesman.yaml")

	cfg, err := loadFiles(globalPath, localPath)
	if err != nil {
		return nil, err
	}

	flag.StringVar(&cfg.Host, "host", cfg.Host, "listen address")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "server port (1-65535)")
	flag.StringVar(&cfg.Token, "token", cfg.Token, "authentication token (auto-generated if empty)")
	flag.StringVar(&cfg.TmuxSession, "session", cfg.TmuxSession, "tmux session name")
	flag.StringVar(&cfg.ExecCommand, "exec", cfg.ExecCommand, "run this command in a managed pty instead of attaching to tmux")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the sqlite database")
	flag.StringVar(&cfg.PatternDir, "patterns", cfg.PatternDir, "directory of prompt pattern files")
	flag.Parse()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = token
		if err := cfg.saveGlobal(); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	return cfg, nil
}

// loadFiles applies the global and local config files over the
// defaults. Either file may be absent.
func loadFiles(globalPath, localPath string) (*Config, error) {
	cfg := defaults()
	cfg.globalPath = globalPath

	localMode, err := peekMode(localPath)
	if err != nil {
		return nil, err
	}

	if localMode != ModeLocal {
		if err := applyFile(cfg, globalPath); err != nil {
			return nil, err
		}
	}
	if err := applyFile(cfg, localPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile overlays the file's fields onto cfg. Fields absent from
// the file keep their current values.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// peekMode reads only the merge mode from the local file.
func peekMode(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ModeMerge, nil
		}
		return "", fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var probe struct {
		Mode string `yaml:"mode"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	switch probe.Mode {
	case "", ModeMerge:
		return ModeMerge, nil
	case ModeLocal:
		return ModeLocal, nil
	default:
		return "", fmt.Errorf("invalid config mode %q in %s", probe.Mode, path)
	}
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if c.AutoThreshold <= c.EscalateFloor {
		return fmt.Errorf("auto_threshold (%v) must exceed escalate_floor (%v)", c.AutoThreshold, c.EscalateFloor)
	}
	if c.EscalateFloor < 0 || c.AutoThreshold > 1 {
		return fmt.Errorf("thresholds must stay within [0, 1]")
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence_floor must stay within [0, 1]")
	}
	return nil
}

func (c *Config) saveGlobal() error {
	if err := os.MkdirAll(filepath.Dir(c.globalPath), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.globalPath, data, 0600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
