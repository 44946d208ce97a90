package supervise

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ntmd/ntmd/internal/config"
	"github.com/ntmd/ntmd/internal/store"
)

// Maintainer drives the daemon's background upkeep: rolling minute samples
// into hourly/daily aggregates and pruning/vacuuming the store on the
// intervals config.MaintenanceConfig names. Grounded on the teacher's use of
// a single long-lived process with no external scheduler; generalized here
// into an explicit cron.Cron since NTMD has several independent periodic
// jobs instead of the teacher's one ad-hoc ticker.
type Maintainer struct {
	store  *store.Store
	cfg    func() *config.Config
	logger *slog.Logger
	cron   *cron.Cron
}

func NewMaintainer(st *store.Store, cfg func() *config.Config, logger *slog.Logger) *Maintainer {
	return &Maintainer{
		store:  st,
		cfg:    cfg,
		logger: logger,
		cron:   cron.New(),
	}
}

// Start schedules the rollup and vacuum/prune jobs and runs them in the
// background until ctx is cancelled. Rollup runs on config's RollupInterval
// (aggregating the just-finished hour/day); vacuum+prune run on
// VacuumInterval. Both default to sane values via config.Default if unset.
func (m *Maintainer) Start(ctx context.Context) {
	rollupSpec := everySpec(m.cfg().Maintenance.RollupInterval, time.Hour)
	vacuumSpec := everySpec(m.cfg().Maintenance.VacuumInterval, 24*time.Hour)

	m.cron.AddFunc(rollupSpec, func() { m.runRollup(ctx) })
	m.cron.AddFunc(vacuumSpec, func() { m.runPruneAndVacuum(ctx) })
	m.cron.Start()

	go func() {
		<-ctx.Done()
		m.cron.Stop()
	}()
}

func (m *Maintainer) runRollup(ctx context.Context) {
	now := time.Now().UTC()
	hourStart := now.Truncate(time.Hour).Add(-time.Hour)
	if err := m.store.RollupHourly(ctx, hourStart); err != nil {
		m.logger.Error("hourly rollup failed", "error", err, "hour", hourStart)
		return
	}
	dayStart := now.Truncate(24 * time.Hour).AddDate(0, 0, -1)
	if err := m.store.RollupDaily(ctx, dayStart, 0); err != nil {
		m.logger.Error("daily rollup failed", "error", err, "day", dayStart)
	}
}

func (m *Maintainer) runPruneAndVacuum(ctx context.Context) {
	mc := m.cfg().Maintenance
	rcfg := store.RetentionConfig{
		MinuteSamplesRetention: time.Duration(mc.MinuteSamplesRetentionHours) * time.Hour,
		EventsRetention:        time.Duration(mc.EventsRetentionDays) * 24 * time.Hour,
		AggregatesRetention:    time.Duration(mc.SessionsRetentionDays) * 24 * time.Hour,
		MaxDBBytes:             int64(mc.MaxDBMB) * 1024 * 1024,
	}
	result, err := m.store.Prune(ctx, rcfg, time.Now().UTC())
	if err != nil {
		m.logger.Error("prune failed", "error", err)
		return
	}
	m.logger.Info("prune complete",
		"minute_samples_deleted", result.MinuteSamplesDeleted,
		"events_deleted", result.EventsDeleted,
		"aggregates_deleted", result.AggregatesDeleted)

	if err := m.store.Vacuum(ctx); err != nil {
		m.logger.Error("vacuum failed", "error", err)
	}
}

// everySpec turns a duration into a cron "@every" spec, falling back to def
// when d is zero (unconfigured).
func everySpec(d, def time.Duration) string {
	if d <= 0 {
		d = def
	}
	return "@every " + d.String()
}
