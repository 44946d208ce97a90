package supervise

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/ntmd/ntmd/internal/config"
)

// ConfigProvider implements rpc.ConfigProvider: an atomically-swapped
// current config plus a patch/reload surface restricted to the
// hot-reloadable sections config.Diff tracks. Grounded on the teacher's
// config.Diff reload-safety split (internal/config/config.go), generalized
// from "diff and log" into "validate, swap, and report what changed".
type ConfigProvider struct {
	path    string
	current atomic.Pointer[config.Config]
	onApply func(old, new *config.Config)
}

// hotReloadableSections are the top-level config sections ApplyPatch/
// Reload may change without a restart; everything else (server bind
// address, exec timeouts, stream limits) requires a process restart to
// take effect, matching spec.md's hot-reload/restart-required split.
var hotReloadableSections = map[string]bool{
	"polling":   true,
	"capture":   true,
	"privacy":   true,
	"redaction": true,
	"detection": true,
	"security":  true,
	"logging":   true,
}

// NewConfigProvider wraps an already-loaded config. onApply, if non-nil, is
// called after every successful swap so callers (e.g. the detector
// provider, the redaction pipeline) can pick up the new values.
func NewConfigProvider(path string, initial *config.Config, onApply func(old, new *config.Config)) *ConfigProvider {
	p := &ConfigProvider{path: path, onApply: onApply}
	p.current.Store(initial)
	return p
}

func (p *ConfigProvider) Current() *config.Config { return p.current.Load() }

// CurrentConfig returns the live config as a plain map, keyed exactly as
// the TOML file and JSON patches are, via the json tags mirroring the toml
// tags added to every config.Config field.
func (p *ConfigProvider) CurrentConfig() map[string]any {
	return toMap(p.current.Load())
}

// ApplyPatch merges patch into a copy of the current config one
// hot-reloadable section at a time, validates the result, and only then
// swaps it in — an invalid patch leaves the previous config in place and
// returns an error, per spec.md's "invalid reload leaves previous config"
// rule.
func (p *ConfigProvider) ApplyPatch(ctx context.Context, patch map[string]any) (map[string]any, error) {
	old := p.current.Load()
	candidate := *old // shallow copy; sections are replaced wholesale below

	for section, value := range patch {
		if !hotReloadableSections[section] {
			return nil, fmt.Errorf("config: section %q is not hot-reloadable", section)
		}
		if err := applySection(&candidate, section, value); err != nil {
			return nil, fmt.Errorf("config: applying patch to %q: %w", section, err)
		}
	}

	if err := config.Validate(&candidate); err != nil {
		return nil, err
	}

	p.current.Store(&candidate)
	if p.onApply != nil {
		p.onApply(old, &candidate)
	}
	return toMap(&candidate), nil
}

// Reload re-reads the config file from disk, validates it, and swaps it in
// on success, leaving the running config untouched on any failure.
func (p *ConfigProvider) Reload(ctx context.Context) (map[string]any, error) {
	old := p.current.Load()
	next, err := config.Load(p.path)
	if err != nil {
		return nil, err
	}
	p.current.Store(next)
	if p.onApply != nil {
		p.onApply(old, next)
	}
	return toMap(next), nil
}

func toMap(cfg *config.Config) map[string]any {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// applySection merges value's fields into the named section of cfg: since
// cfg starts as a copy of the current config, any field a patch omits keeps
// its prior value rather than zeroing out, so callers may send a partial
// section.
func applySection(cfg *config.Config, section string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	switch section {
	case "polling":
		return json.Unmarshal(raw, &cfg.Polling)
	case "capture":
		return json.Unmarshal(raw, &cfg.Capture)
	case "privacy":
		return json.Unmarshal(raw, &cfg.Privacy)
	case "redaction":
		return json.Unmarshal(raw, &cfg.Redaction)
	case "detection":
		return json.Unmarshal(raw, &cfg.Detection)
	case "security":
		return json.Unmarshal(raw, &cfg.Security)
	case "logging":
		return json.Unmarshal(raw, &cfg.Logging)
	default:
		return fmt.Errorf("unknown section %q", section)
	}
}
