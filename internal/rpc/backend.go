package rpc

import (
	"context"

	"github.com/ntmd/ntmd/internal/eventbus"
	"github.com/ntmd/ntmd/internal/model"
)

// ReadStore is the subset of the store the RPC core needs for every read
// and core method. Kept narrow and separate from store.Store so handlers
// can be tested against an in-memory fake.
type ReadStore interface {
	ListSources(ctx context.Context) ([]*model.Source, error)
	ListSessions(ctx context.Context, sourceID string) ([]*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListPanes(ctx context.Context, sessionID string) ([]*model.Pane, error)
	GetPane(ctx context.Context, id string) (*model.Pane, error)
	ReadEventsSince(ctx context.Context, sinceID int64, limit int) ([]model.Event, error)
	ListEscalations(ctx context.Context, pendingOnly bool, limit int) ([]model.Event, error)
	StatsSummary(ctx context.Context, sessionID string) (model.DailyStat, error)
	StatsHourly(ctx context.Context, sessionID string, sinceHour, untilHour int64) ([]model.HourlyStat, error)
	StatsDaily(ctx context.Context, sessionID string, sinceDay, untilDay int64) ([]model.DailyStat, error)
	LatestEventID(ctx context.Context) (int64, error)
}

// EventBus is the subset of the bus the RPC core subscribes through.
type EventBus interface {
	Subscribe(ctx context.Context, id string, sinceEventID int64) (*eventbus.Subscription, []model.Event, error)
}

// Actions is every admin/convenience mutating operation. Implemented by the
// supervision layer, which knows how to reach the right collector/execrunner
// for a given pane or session.
type Actions interface {
	SessionKill(ctx context.Context, sessionID string) error
	PaneSend(ctx context.Context, paneID, text string) error
	PaneOutputPreview(ctx context.Context, paneID string, lines, bytes int) (string, error)
	DismissEscalation(ctx context.Context, dedupeHash string) error
	AttachCommand(ctx context.Context, paneID string) (string, error)
}

// ConfigProvider exposes the live config for config.get/set/reload.
type ConfigProvider interface {
	CurrentConfig() map[string]any
	ApplyPatch(ctx context.Context, patch map[string]any) (map[string]any, error)
	Reload(ctx context.Context) (map[string]any, error)
}

// DetectorsProvider exposes the active detector pattern packs.
type DetectorsProvider interface {
	ListDetectors() []DetectorInfo
	ReloadDetectors(ctx context.Context) ([]DetectorInfo, error)
}

// DetectorInfo describes one loaded detector pattern pack.
type DetectorInfo struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"` // compact | escalation
	Patterns int    `json:"patterns"`
}

// Diagnostics builds the diagnostics bundle for diagnostics.get. Returns a
// plain map so the rpc package never needs to import the supervision
// package's Bundle type.
type Diagnostics interface {
	Collect(ctx context.Context) (map[string]any, error)
}
