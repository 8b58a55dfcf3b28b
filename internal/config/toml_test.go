package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[memory]
high-percent = 75.0
critical-percent = 90.0

[worker]
queue-capacity = 10

[compute]
cadence-keys = 15
chars-per-page = 2000.0

[session]
mode = "lite"
acceleration = true

[feed]
wpm = 80
error-rate = 0.05
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Memory.HighPercent == nil || *cfg.Memory.HighPercent != 75 {
		t.Fatalf("high-percent not parsed: %+v", cfg.Memory)
	}
	if cfg.Worker.QueueCapacity == nil || *cfg.Worker.QueueCapacity != 10 {
		t.Fatalf("queue-capacity not parsed: %+v", cfg.Worker)
	}
	if cfg.Compute.CadenceKeys == nil || *cfg.Compute.CadenceKeys != 15 {
		t.Fatalf("cadence-keys not parsed: %+v", cfg.Compute)
	}
	if cfg.Session.Mode == nil || *cfg.Session.Mode != "lite" {
		t.Fatalf("mode not parsed: %+v", cfg.Session)
	}
	if cfg.Session.Acceleration == nil || !*cfg.Session.Acceleration {
		t.Fatalf("acceleration not parsed: %+v", cfg.Session)
	}
	if cfg.Feed.WPM == nil || *cfg.Feed.WPM != 80 {
		t.Fatalf("wpm not parsed: %+v", cfg.Feed)
	}
	if cfg.Memory.IntervalSeconds != nil {
		t.Fatalf("absent keys must stay nil, got %v", *cfg.Memory.IntervalSeconds)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if cfg.Session.Mode != nil {
		t.Fatalf("expected zero config for missing file")
	}
}

func TestLoadConfigEmptyPath(t *testing.T) {
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[memory\nbroken"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected decode error")
	}
}
