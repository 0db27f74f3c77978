package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDefaultsWhenNoFilesExist(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadFiles(filepath.Join(dir, "global.yaml"), filepath.Join(dir, "local.yaml"))
	if err != nil {
		t.Fatalf("loadFiles() error = %v", err)
	}
	if cfg.Port != 8876 {
		t.Errorf("Port = %d, want default 8876", cfg.Port)
	}
	if cfg.PollInterval.Std() != time.Second {
		t.Errorf("PollInterval = %v, want 1s", cfg.PollInterval.Std())
	}
	if cfg.AutoThreshold != 0.85 || cfg.EscalateFloor != 0.5 {
		t.Errorf("thresholds = %v/%v", cfg.AutoThreshold, cfg.EscalateFloor)
	}
	if cfg.AutoSelect["yes_no"] != "y" {
		t.Errorf("AutoSelect = %v", cfg.AutoSelect)
	}
}

func TestGlobalFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	global := writeConfig(t, dir, "global.yaml", "port: 9000\npoll_interval: 250ms\n")

	cfg, err := loadFiles(global, filepath.Join(dir, "local.yaml"))
	if err != nil {
		t.Fatalf("loadFiles() error = %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	if cfg.PollInterval.Std() != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", cfg.PollInterval.Std())
	}
	// Untouched fields keep their defaults.
	if cfg.AutoThreshold != 0.85 {
		t.Errorf("AutoThreshold = %v, want default", cfg.AutoThreshold)
	}
}

func TestLocalMergeMode(t *testing.T) {
	dir := t.TempDir()
	global := writeConfig(t, dir, "global.yaml", "port: 9000\ntmux_session: global-sess\n")
	local := writeConfig(t, dir, "local.yaml", "mode: merge\ntmux_session: local-sess\n")

	cfg, err := loadFiles(global, local)
	if err != nil {
		t.Fatalf("loadFiles() error = %v", err)
	}
	// Local wins where both set a value; global fills the rest.
	if cfg.TmuxSession != "local-sess" {
		t.Errorf("TmuxSession = %q, want local-sess", cfg.TmuxSession)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want global 9000", cfg.Port)
	}
}

func TestLocalOnlyMode(t *testing.T) {
	dir := t.TempDir()
	global := writeConfig(t, dir, "global.yaml", "port: 9000\ntmux_session: global-sess\n")
	local := writeConfig(t, dir, "local.yaml", "mode: local\ntmux_session: local-sess\n")

	cfg, err := loadFiles(global, local)
	if err != nil {
		t.Fatalf("loadFiles() error = %v", err)
	}
	if cfg.TmuxSession != "local-sess" {
		t.Errorf("TmuxSession = %q, want local-sess", cfg.TmuxSession)
	}
	// The global file is ignored entirely in local mode.
	if cfg.Port != 8876 {
		t.Errorf("Port = %d, want default 8876", cfg.Port)
	}
}

func TestInvalidModeRejected(t *testing.T) {
	dir := t.TempDir()
	local := writeConfig(t, dir, "local.yaml", "mode: isolated\n")

	if _, err := loadFiles(filepath.Join(dir, "global.yaml"), local); err == nil {
		t.Error("loadFiles() accepted invalid mode")
	}
}

func TestMalformedYAMLRejected(t *testing.T) {
	dir := t.TempDir()
	global := writeConfig(t, dir, "global.yaml", "port: [not a port\n")

	if _, err := loadFiles(global, filepath.Join(dir, "local.yaml")); err == nil {
		t.Error("loadFiles() accepted malformed YAML")
	}
}

func TestInvalidDurationRejected(t *testing.T) {
	dir := t.TempDir()
	global := writeConfig(t, dir, "global.yaml", "poll_interval: soon\n")

	if _, err := loadFiles(global, filepath.Join(dir, "local.yaml")); err == nil {
		t.Error("loadFiles() accepted invalid duration")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"port too low", func(c *Config) { c.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Port = 70000 }, true},
		{"inverted thresholds", func(c *Config) { c.AutoThreshold = 0.4; c.EscalateFloor = 0.5 }, true},
		{"threshold above one", func(c *Config) { c.AutoThreshold = 1.5 }, true},
		{"negative floor", func(c *Config) { c.ConfidenceFloor = -0.1 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(cfg)
			err := cfg.validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestSaveGlobalRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := defaults()
	cfg.globalPath = filepath.Join(dir, "sub", "yesman.yaml")
	cfg.Token = "abc123"
	cfg.Port = 9001

	if err := cfg.saveGlobal(); err != nil {
		t.Fatalf("saveGlobal() error = %v", err)
	}

	loaded, err := loadFiles(cfg.globalPath, filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatalf("loadFiles() error = %v", err)
	}
	if loaded.Token != "abc123" || loaded.Port != 9001 {
		t.Errorf("loaded = token %q port %d", loaded.Token, loaded.Port)
	}
	if loaded.PollInterval.Std() != time.Second {
		t.Errorf("PollInterval did not round-trip: %v", loaded.PollInterval.Std())
	}
}
