package supervise

import (
	"context"
	"testing"
	"time"

	"github.com/ntmd/ntmd/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Polling.FastInterval = 1500 * time.Millisecond
	return cfg
}

func TestConfigProviderApplyPatchHotReloadableSection(t *testing.T) {
	p := NewConfigProvider("", testConfig(), nil)

	_, err := p.ApplyPatch(context.Background(), map[string]any{
		"polling": map[string]any{"fast_interval": int64(2 * time.Second)},
	})
	if err != nil {
		t.Fatalf("expected patch to apply, got %v", err)
	}
	if p.Current().Polling.FastInterval != 2*time.Second {
		t.Fatalf("expected fast_interval to be updated to 2s, got %s", p.Current().Polling.FastInterval)
	}
}

func TestConfigProviderRejectsNonHotReloadableSection(t *testing.T) {
	p := NewConfigProvider("", testConfig(), nil)
	before := p.Current()

	_, err := p.ApplyPatch(context.Background(), map[string]any{
		"server": map[string]any{"bind_address": "0.0.0.0:9999"},
	})
	if err == nil {
		t.Fatalf("expected restart-required section to be rejected")
	}
	if p.Current() != before {
		t.Fatalf("rejected patch must leave the previous config in place")
	}
}

func TestConfigProviderRejectsInvalidPatch(t *testing.T) {
	p := NewConfigProvider("", testConfig(), nil)
	before := p.Current()

	_, err := p.ApplyPatch(context.Background(), map[string]any{
		"polling": map[string]any{"fast_interval": int64(999 * time.Second)}, // outside [250ms,60s]
	})
	if err == nil {
		t.Fatalf("expected validation failure for out-of-range fast_interval")
	}
	if p.Current() != before {
		t.Fatalf("invalid patch must leave the previous config in place")
	}
}

func TestConfigProviderOnApplyCalledOnSuccess(t *testing.T) {
	var calledOld, calledNew *config.Config
	p := NewConfigProvider("", testConfig(), func(old, new *config.Config) {
		calledOld, calledNew = old, new
	})

	cfg, err := p.ApplyPatch(context.Background(), map[string]any{
		"detection": map[string]any{
			"compact_patterns":    []string{"new pattern"},
			"escalation_patterns": []string{},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calledOld == nil || calledNew == nil {
		t.Fatalf("expected onApply callback to run")
	}
	if cfg["detection"] == nil {
		t.Fatalf("expected returned map to include the detection section")
	}
}

func TestConfigProviderCurrentConfigRoundTrips(t *testing.T) {
	p := NewConfigProvider("", testConfig(), nil)
	m := p.CurrentConfig()
	if m["polling"] == nil {
		t.Fatalf("expected CurrentConfig to include a polling section")
	}
}
