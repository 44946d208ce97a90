package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides scans for NTMD_<SECTION>_<KEY> environment variables and
// applies the ones we recognize. Only scalar, frequently-tuned fields are
// covered; list/map fields are configured via the TOML file only.
func applyEnvOverrides(cfg *Config) {
	get := func(section, key string) (string, bool) {
		return os.LookupEnv(strings.ToUpper(EnvPrefix + "_" + section + "_" + key))
	}

	if v, ok := get("SERVER", "BIND_ADDRESS"); ok {
		cfg.Server.BindAddress = v
	}

	if v, ok := get("EXEC", "STDOUT_CAP_KB"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Exec.StdoutCapKB = n
		}
	}
	if v, ok := get("EXEC", "KILL_ON_TIMEOUT"); ok {
		cfg.Exec.KillOnTimeout = parseBool(v, cfg.Exec.KillOnTimeout)
	}

	if v, ok := get("POLLING", "FAST_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Polling.FastInterval = d
		}
	}
	if v, ok := get("POLLING", "RECONCILE_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Polling.ReconcileInterval = d
		}
	}
	if v, ok := get("POLLING", "MAX_CONCURRENT_COMMANDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Polling.MaxConcurrentCommands = n
		}
	}

	if v, ok := get("SECURITY", "REQUIRE_AUTH"); ok {
		cfg.Security.RequireAuth = parseBool(v, cfg.Security.RequireAuth)
	}
	if v, ok := get("SECURITY", "READ_TOKEN_FILE"); ok {
		cfg.Security.ReadTokenFile = v
	}
	if v, ok := get("SECURITY", "ADMIN_TOKEN_FILE"); ok {
		cfg.Security.AdminTokenFile = v
	}
	if v, ok := get("SECURITY", "RATE_LIMIT_PER_SECOND"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Security.RateLimitPerSecond = f
		}
	}

	if v, ok := get("CAPTURE", "MODE"); ok {
		cfg.Capture.Mode = v
	}

	if v, ok := get("LOGGING", "LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get("LOGGING", "FORMAT"); ok {
		cfg.Logging.Format = v
	}
	if v, ok := get("LOGGING", "FILE"); ok {
		cfg.Logging.File = v
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
