package config

import (
	"fmt"
	"time"
)

// Validate checks the boundary rules from the testable-properties section:
// the fast-poll interval is clamped to [250ms, 60s], capture/logging enums
// are recognized values, and numeric budgets are non-negative.
func Validate(cfg *Config) error {
	if cfg.Polling.FastInterval < 250*time.Millisecond || cfg.Polling.FastInterval > 60*time.Second {
		return fmt.Errorf("config: polling.fast_interval must be in [250ms, 60s], got %s", cfg.Polling.FastInterval)
	}
	if cfg.Polling.ReconcileInterval < 10*time.Second || cfg.Polling.ReconcileInterval > 60*time.Second {
		return fmt.Errorf("config: polling.reconcile_interval must be in [10s, 60s], got %s", cfg.Polling.ReconcileInterval)
	}
	if cfg.Polling.MaxConcurrentCommands <= 0 {
		return fmt.Errorf("config: polling.max_concurrent_commands must be positive")
	}
	if cfg.Exec.StdoutCapKB <= 0 {
		return fmt.Errorf("config: exec.stdout_cap_kb must be positive")
	}

	switch cfg.Capture.Mode {
	case "off", "on-demand", "stream":
	default:
		return fmt.Errorf("config: capture.mode must be one of off|on-demand|stream, got %q", cfg.Capture.Mode)
	}
	switch cfg.Capture.Backend {
	case "fifo", "disk":
	default:
		return fmt.Errorf("config: capture.backend must be one of fifo|disk, got %q", cfg.Capture.Backend)
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: logging.format must be one of json|text, got %q", cfg.Logging.Format)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level must be one of debug|info|warn|error, got %q", cfg.Logging.Level)
	}

	for _, t := range cfg.Redaction.ApplyTo {
		switch t {
		case "output_preview", "diagnostics_bundle", "logs":
		default:
			return fmt.Errorf("config: redaction.apply_to has unrecognized target %q", t)
		}
	}

	if cfg.Maintenance.MinuteSamplesRetentionHours <= 0 {
		return fmt.Errorf("config: maintenance.minute_samples_retention_hours must be positive")
	}
	if cfg.Maintenance.EventsRetentionDays <= 0 {
		return fmt.Errorf("config: maintenance.events_retention_days must be positive")
	}

	return nil
}

// Diff reports human-readable descriptions of safely-reloadable differences
// between two validated configs, mirroring the teacher's config.Diff but
// scoped to NTMD's sections. Used by supervision to log what a hot reload
// actually changed.
func Diff(old, new *Config) []string {
	var changes []string
	add := func(format string, args ...any) {
		changes = append(changes, fmt.Sprintf(format, args...))
	}

	if old.Polling.FastInterval != new.Polling.FastInterval {
		add("polling.fast_interval: %s -> %s", old.Polling.FastInterval, new.Polling.FastInterval)
	}
	if old.Polling.ReconcileInterval != new.Polling.ReconcileInterval {
		add("polling.reconcile_interval: %s -> %s", old.Polling.ReconcileInterval, new.Polling.ReconcileInterval)
	}
	if old.Capture.Mode != new.Capture.Mode {
		add("capture.mode: %s -> %s", old.Capture.Mode, new.Capture.Mode)
	}
	if old.Security.RequireAuth != new.Security.RequireAuth {
		add("security.require_auth: %v -> %v", old.Security.RequireAuth, new.Security.RequireAuth)
	}
	if old.Logging.Level != new.Logging.Level {
		add("logging.level: %s -> %s", old.Logging.Level, new.Logging.Level)
	}
	if old.Maintenance.RollupInterval != new.Maintenance.RollupInterval {
		add("maintenance.rollup_interval: %s -> %s", old.Maintenance.RollupInterval, new.Maintenance.RollupInterval)
	}
	if old.Detection.PackDir != new.Detection.PackDir {
		add("detection.pack_dir: %s -> %s", old.Detection.PackDir, new.Detection.PackDir)
	}

	return changes
}
