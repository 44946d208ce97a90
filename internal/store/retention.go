package store

import (
	"context"
	"database/sql"
	"time"
)

// RetentionConfig bounds how long rows survive before pruning.
type RetentionConfig struct {
	MinuteSamplesRetention time.Duration
	EventsRetention        time.Duration
	AggregatesRetention    time.Duration
	MaxDBBytes             int64
}

// PruneResult reports how many rows were removed from each table, for
// logging by the maintenance scheduler.
type PruneResult struct {
	MinuteSamplesDeleted int64
	EventsDeleted        int64
	AggregatesDeleted    int64
}

// Prune removes rows older than their configured retention, in the order
// the spec mandates: oldest minute samples, then oldest events, then oldest
// aggregates, stopping once the soft db-size budget is met. Event rows are
// deleted by age but the cursor space they occupied is never reused.
func (s *Store) Prune(ctx context.Context, cfg RetentionConfig, now time.Time) (PruneResult, error) {
	val, err := s.write(ctx, func(db *sql.DB) (any, error) {
		var res PruneResult

		if ok, err := underBudget(db, cfg.MaxDBBytes); err != nil {
			return nil, err
		} else if ok {
			return res, nil
		}
		r, err := db.ExecContext(ctx, "DELETE FROM pane_minute_samples WHERE minute_start < ?",
			now.Add(-cfg.MinuteSamplesRetention).Unix())
		if err != nil {
			return nil, err
		}
		res.MinuteSamplesDeleted, _ = r.RowsAffected()

		if ok, err := underBudget(db, cfg.MaxDBBytes); err != nil {
			return nil, err
		} else if ok {
			return res, nil
		}
		r, err = db.ExecContext(ctx, "DELETE FROM events WHERE detected_at < ?",
			now.Add(-cfg.EventsRetention).Unix())
		if err != nil {
			return nil, err
		}
		res.EventsDeleted, _ = r.RowsAffected()

		if ok, err := underBudget(db, cfg.MaxDBBytes); err != nil {
			return nil, err
		} else if ok {
			return res, nil
		}
		cutoff := now.Add(-cfg.AggregatesRetention).Unix()
		r, err = db.ExecContext(ctx, "DELETE FROM hourly_stats WHERE hour_start < ?", cutoff)
		if err != nil {
			return nil, err
		}
		n1, _ := r.RowsAffected()
		r, err = db.ExecContext(ctx, "DELETE FROM daily_stats WHERE day_start < ?", cutoff)
		if err != nil {
			return nil, err
		}
		n2, _ := r.RowsAffected()
		res.AggregatesDeleted = n1 + n2

		return res, nil
	})
	if err != nil {
		return PruneResult{}, err
	}
	return val.(PruneResult), nil
}

// underBudget reports whether the database file is already at or below
// maxBytes (0 means no budget, always prune by age only).
func underBudget(db *sql.DB, maxBytes int64) (bool, error) {
	if maxBytes <= 0 {
		return false, nil
	}
	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return false, err
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return false, err
	}
	return pageCount*pageSize <= maxBytes, nil
}

// Vacuum reclaims space after pruning. Scheduled separately (and less
// frequently) from Prune by the maintenance scheduler.
func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.write(ctx, func(db *sql.DB) (any, error) {
		_, err := db.ExecContext(ctx, "VACUUM")
		return nil, err
	})
	return err
}
