package supervise

import (
	"context"

	"github.com/ntmd/ntmd/internal/model"
)

// Summary is the process-wide health rollup: the worst status across all
// tracked sources, using the same three-value severity ordering (ok <
// degraded < disconnected) the teacher's sourceHealth.statusLocked applies
// per-source (internal/monitor/health.go), generalized here from one
// source's discover/parse failure counters to a cross-source rollup over
// model.Source.Status, which the collector and its command runner's
// circuit breaker already maintain per source.
type Summary struct {
	Status  model.SourceStatus
	Sources []SourceHealth
}

type SourceHealth struct {
	SourceID  string
	Kind      string
	Status    model.SourceStatus
	LastError string
}

// SourceLister is the read path health aggregation needs; satisfied by
// internal/store.Store.
type SourceLister interface {
	ListSources(ctx context.Context) ([]*model.Source, error)
}

// Aggregate rolls every tracked source's status up into one Summary, using
// the worst (highest-severity) status as the overall value.
func Aggregate(ctx context.Context, sources SourceLister) (Summary, error) {
	srcs, err := sources.ListSources(ctx)
	if err != nil {
		return Summary{}, err
	}

	worst := model.SourceOK
	out := make([]SourceHealth, 0, len(srcs))
	for _, s := range srcs {
		out = append(out, SourceHealth{SourceID: s.ID, Kind: s.Kind, Status: s.Status, LastError: s.LastError})
		if severity(s.Status) > severity(worst) {
			worst = s.Status
		}
	}
	return Summary{Status: worst, Sources: out}, nil
}

func severity(s model.SourceStatus) int {
	switch s {
	case model.SourceDisconnected:
		return 2
	case model.SourceDegraded:
		return 1
	default:
		return 0
	}
}
