package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Polling.FastInterval != 1500*time.Millisecond {
		t.Fatalf("expected default fast interval, got %s", cfg.Polling.FastInterval)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[polling]
fast_interval = "500ms"

[capture]
mode = "stream"
backend = "fifo"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Polling.FastInterval != 500*time.Millisecond {
		t.Fatalf("fast interval not overlaid: %s", cfg.Polling.FastInterval)
	}
	if cfg.Capture.Mode != "stream" || cfg.Capture.Backend != "fifo" {
		t.Fatalf("capture not overlaid: %+v", cfg.Capture)
	}
	// Unspecified polling field must still carry the default.
	if cfg.Polling.ReconcileInterval != 10*time.Second {
		t.Fatalf("reconcile interval lost default: %s", cfg.Polling.ReconcileInterval)
	}
}

func TestValidateRejectsOutOfRangeFastInterval(t *testing.T) {
	cfg := Default()
	cfg.Polling.FastInterval = 100 * time.Millisecond
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation error for sub-250ms fast interval")
	}
	cfg.Polling.FastInterval = 90 * time.Second
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation error for >60s fast interval")
	}
}

func TestValidateRejectsUnknownCaptureMode(t *testing.T) {
	cfg := Default()
	cfg.Capture.Mode = "bogus"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation error for unknown capture mode")
	}
}

func TestEnvOverridesApplied(t *testing.T) {
	t.Setenv("NTMD_POLLING_FAST_INTERVAL", "2s")
	t.Setenv("NTMD_CAPTURE_MODE", "off")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Polling.FastInterval != 2*time.Second {
		t.Fatalf("env override for fast_interval not applied: %s", cfg.Polling.FastInterval)
	}
	if cfg.Capture.Mode != "off" {
		t.Fatalf("env override for capture.mode not applied: %s", cfg.Capture.Mode)
	}
}

func TestDiffReportsChanges(t *testing.T) {
	old := Default()
	next := Default()
	next.Capture.Mode = "stream"
	next.Logging.Level = "debug"

	changes := Diff(old, next)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d: %v", len(changes), changes)
	}
}
