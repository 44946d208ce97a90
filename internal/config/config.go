// Package config loads and validates the TOML configuration surface
// described in the external-interfaces section of the spec: server,
// exec, polling, security, capture, privacy, redaction, stream_limits,
// maintenance, detection, and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvPrefix is the prefix used for <PREFIX>_<SECTION>_<KEY> environment
// overrides, e.g. NTMD_POLLING_FAST_INTERVAL.
const EnvPrefix = "NTMD"

type Config struct {
	Server      ServerConfig      `toml:"server" json:"server"`
	Exec        ExecConfig        `toml:"exec" json:"exec"`
	Polling     PollingConfig     `toml:"polling" json:"polling"`
	Security    SecurityConfig    `toml:"security" json:"security"`
	Capture     CaptureConfig     `toml:"capture" json:"capture"`
	Privacy     PrivacyConfig     `toml:"privacy" json:"privacy"`
	Redaction   RedactionConfig   `toml:"redaction" json:"redaction"`
	StreamLimits StreamLimitsConfig `toml:"stream_limits" json:"stream_limits"`
	Maintenance MaintenanceConfig `toml:"maintenance" json:"maintenance"`
	Detection   DetectionConfig   `toml:"detection" json:"detection"`
	Logging     LoggingConfig     `toml:"logging" json:"logging"`
}

type ServerConfig struct {
	BindAddress string `toml:"bind_address" json:"bind_address"`
}

type ExecConfig struct {
	TmuxFastTimeout       time.Duration `toml:"tmux_fast_timeout" json:"tmux_fast_timeout"`
	ManagerReconcileTimeout time.Duration `toml:"manager_reconcile_timeout" json:"manager_reconcile_timeout"`
	MarkdownTimeout       time.Duration `toml:"markdown_timeout" json:"markdown_timeout"`
	TailTimeout           time.Duration `toml:"tail_timeout" json:"tail_timeout"`
	StdoutCapKB           int           `toml:"stdout_cap_kb" json:"stdout_cap_kb"`
	KillOnTimeout         bool          `toml:"kill_on_timeout" json:"kill_on_timeout"`
}

type PollingConfig struct {
	FastInterval          time.Duration `toml:"fast_interval" json:"fast_interval"`
	ReconcileInterval      time.Duration `toml:"reconcile_interval" json:"reconcile_interval"`
	IdleBackoffMax        time.Duration `toml:"idle_backoff_max" json:"idle_backoff_max"`
	MaxConcurrentCommands int           `toml:"max_concurrent_commands" json:"max_concurrent_commands"`
	SampleInterval        time.Duration `toml:"sample_interval" json:"sample_interval"`
	CaptureFallbackInterval time.Duration `toml:"capture_fallback_interval" json:"capture_fallback_interval"`
	RetentionDays         int           `toml:"retention_days" json:"retention_days"`
}

type SecurityConfig struct {
	RequireAuth               bool    `toml:"require_auth" json:"require_auth"`
	ReadTokenFile             string  `toml:"read_token_file" json:"read_token_file"`
	AdminTokenFile            string  `toml:"admin_token_file" json:"admin_token_file"`
	BodySizeCapBytes          int64   `toml:"body_size_cap_bytes" json:"body_size_cap_bytes"`
	RateLimitPerSecond        float64 `toml:"rate_limit_per_second" json:"rate_limit_per_second"`
	AdminActionsEnabled       bool    `toml:"admin_actions_enabled" json:"admin_actions_enabled"`
	TokenRotateOnStart        bool    `toml:"token_rotate_on_start" json:"token_rotate_on_start"`
	EnforceTokenFilePermissions bool  `toml:"enforce_token_file_permissions" json:"enforce_token_file_permissions"`
}

type CaptureConfig struct {
	Mode           string `toml:"mode" json:"mode"` // off | on-demand | stream
	PersistPreview bool   `toml:"persist_preview" json:"persist_preview"`
	Backend        string `toml:"backend" json:"backend"` // fifo | disk
	PreviewLines   int    `toml:"preview_lines" json:"preview_lines"`
	PreviewBytes   int    `toml:"preview_bytes" json:"preview_bytes"`
}

type PrivacyConfig struct {
	SessionCaptureAllowlist []string `toml:"session_capture_allowlist" json:"session_capture_allowlist"`
	ShowCaptureBanner       bool     `toml:"show_capture_banner" json:"show_capture_banner"`
}

type RedactionConfig struct {
	Patterns       []string `toml:"patterns" json:"patterns"`
	Replacement    string   `toml:"replacement" json:"replacement"`
	MaxScanBytes   int      `toml:"max_scan_bytes" json:"max_scan_bytes"`
	ApplyTo        []string `toml:"apply_to" json:"apply_to"` // subset of output_preview, diagnostics_bundle, logs
}

type StreamLimitsConfig struct {
	TotalMB      int `toml:"total_mb" json:"total_mb"`
	RotateMB     int `toml:"rotate_mb" json:"rotate_mb"`
	MaxFilesPerPane int `toml:"max_files_per_pane" json:"max_files_per_pane"`
}

type MaintenanceConfig struct {
	RollupInterval          time.Duration `toml:"rollup_interval" json:"rollup_interval"`
	VacuumInterval          time.Duration `toml:"vacuum_interval" json:"vacuum_interval"`
	MaxDBMB                 int           `toml:"max_db_mb" json:"max_db_mb"`
	MinuteSamplesRetentionHours int       `toml:"minute_samples_retention_hours" json:"minute_samples_retention_hours"`
	EventsRetentionDays     int           `toml:"events_retention_days" json:"events_retention_days"`
	SessionsRetentionDays   int           `toml:"sessions_retention_days" json:"sessions_retention_days"`
}

type DetectionConfig struct {
	CompactPatterns    []string `toml:"compact_patterns" json:"compact_patterns"`
	EscalationPatterns []string `toml:"escalation_patterns" json:"escalation_patterns"`
	PackDir            string   `toml:"pack_dir" json:"pack_dir"`
}

type LoggingConfig struct {
	Level         string `toml:"level" json:"level"`
	File          string `toml:"file" json:"file"`
	RotationSizeMB int   `toml:"rotation_size_mb" json:"rotation_size_mb"`
	RotationCount int    `toml:"rotation_count" json:"rotation_count"`
	Format        string `toml:"format" json:"format"` // json | text
}

// Load reads and parses a TOML config file, applies environment overrides,
// fills any unset fields from defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: decoding %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the built-in defaults (still
// env-overridden and validated) when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg := Default()
			applyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
	}
	return Load(path)
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress: "127.0.0.1:0",
		},
		Exec: ExecConfig{
			TmuxFastTimeout:        2 * time.Second,
			ManagerReconcileTimeout: 5 * time.Second,
			MarkdownTimeout:        3 * time.Second,
			TailTimeout:            2 * time.Second,
			StdoutCapKB:            256,
			KillOnTimeout:          true,
		},
		Polling: PollingConfig{
			FastInterval:            1500 * time.Millisecond,
			ReconcileInterval:       10 * time.Second,
			IdleBackoffMax:          60 * time.Second,
			MaxConcurrentCommands:   4,
			SampleInterval:          60 * time.Second,
			CaptureFallbackInterval: 30 * time.Second,
			RetentionDays:           30,
		},
		Security: SecurityConfig{
			RequireAuth:                 true,
			BodySizeCapBytes:            1 << 20,
			RateLimitPerSecond:          20,
			AdminActionsEnabled:         true,
			TokenRotateOnStart:          false,
			EnforceTokenFilePermissions: true,
		},
		Capture: CaptureConfig{
			Mode:         "on-demand",
			Backend:      "disk",
			PreviewLines: 200,
			PreviewBytes: 64 * 1024,
		},
		Privacy: PrivacyConfig{
			ShowCaptureBanner: true,
		},
		Redaction: RedactionConfig{
			Replacement:  "[redacted]",
			MaxScanBytes: 64 * 1024,
			ApplyTo:      []string{"output_preview", "diagnostics_bundle", "logs"},
		},
		StreamLimits: StreamLimitsConfig{
			TotalMB:         512,
			RotateMB:        32,
			MaxFilesPerPane: 8,
		},
		Maintenance: MaintenanceConfig{
			RollupInterval:              10 * time.Minute,
			VacuumInterval:              24 * time.Hour,
			MaxDBMB:                     2048,
			MinuteSamplesRetentionHours: 72,
			EventsRetentionDays:         30,
			SessionsRetentionDays:       90,
		},
		Detection: DetectionConfig{
			CompactPatterns:    []string{"compacting conversation", "context window"},
			EscalationPatterns: []string{"please confirm", "cannot proceed", "fatal:"},
		},
		Logging: LoggingConfig{
			Level:          "info",
			RotationSizeMB: 64,
			RotationCount:  5,
			Format:         "json",
		},
	}
}

func defaultConfigDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config")
}

// DefaultConfigPath returns the default XDG-compliant config file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "ntmd", "config.toml")
}

func defaultStateDir() string {
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state")
}

// DefaultDataDir returns the default per-user data directory holding the
// store file and single-instance lock.
func DefaultDataDir() string {
	return filepath.Join(defaultStateDir(), "ntmd")
}
