package supervise

import (
	"context"
	"time"

	"github.com/ntmd/ntmd/internal/config"
	"github.com/ntmd/ntmd/internal/rpc"
)

// Fixed per-pane debounce windows from the detector pipeline spec: 60s for
// compact tail-pattern matches, 30s for escalation matches. Not currently
// config-exposed — only the pattern lists are hot-reloadable.
const (
	compactDebounceDefault    = 60 * time.Second
	escalationDebounceDefault = 30 * time.Second
)

// ReloadableCollector is the subset of collector.Collector the detector
// provider needs to push new pattern/debounce settings into a running
// source's detector pipeline without restarting its polling loops.
type ReloadableCollector interface {
	ReloadDetectors(compactPatterns, escalationPatterns []string, compactDebounce, escalationDebounce time.Duration)
}

// DetectorsProvider implements rpc.DetectorsProvider: enumerates the
// detector pipeline's current pattern configuration and, on reload, pushes
// the latest config.Detection patterns into every running collector.
type DetectorsProvider struct {
	configs    func() *config.Config
	collectors func() []ReloadableCollector
}

func NewDetectorsProvider(configs func() *config.Config, collectors func() []ReloadableCollector) *DetectorsProvider {
	return &DetectorsProvider{configs: configs, collectors: collectors}
}

func (p *DetectorsProvider) ListDetectors() []rpc.DetectorInfo {
	cfg := p.configs()
	return []rpc.DetectorInfo{
		{Name: "compact", Kind: "compact", Patterns: len(cfg.Detection.CompactPatterns)},
		{Name: "escalation", Kind: "escalation", Patterns: len(cfg.Detection.EscalationPatterns)},
	}
}

func (p *DetectorsProvider) ReloadDetectors(ctx context.Context) ([]rpc.DetectorInfo, error) {
	cfg := p.configs()
	for _, c := range p.collectors() {
		c.ReloadDetectors(
			cfg.Detection.CompactPatterns,
			cfg.Detection.EscalationPatterns,
			compactDebounceDefault,
			escalationDebounceDefault,
		)
	}
	return p.ListDetectors(), nil
}
