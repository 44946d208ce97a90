package store

import (
	"context"
	"database/sql"
	"time"
)

// RollupHourly aggregates minute samples into hourly_stats rows for the
// hour starting at hourStart, for every session touched by a pane sample in
// that hour. Run periodically by the maintenance scheduler.
func (s *Store) RollupHourly(ctx context.Context, hourStart time.Time) error {
	_, err := s.write(ctx, func(db *sql.DB) (any, error) {
		_, err := db.ExecContext(ctx, `
			INSERT INTO hourly_stats(hour_start, session_id, compacts, active_minutes, estimated_tokens)
			SELECT ?,
				p.session_id,
				(SELECT COUNT(*) FROM events e WHERE e.session_id = p.session_id AND e.type = 'compact'
					AND e.detected_at >= ? AND e.detected_at < ?),
				COUNT(*) FILTER (WHERE ms.status IN ('active','waiting')),
				COALESCE(SUM(ms.estimated_tokens), 0)
			FROM pane_minute_samples ms
			JOIN panes p ON p.id = ms.pane_id
			WHERE ms.minute_start >= ? AND ms.minute_start < ?
			GROUP BY p.session_id
			ON CONFLICT(hour_start, session_id) DO UPDATE SET
				compacts=excluded.compacts,
				active_minutes=excluded.active_minutes,
				estimated_tokens=excluded.estimated_tokens
		`, hourStart.Unix(), hourStart.Unix(), hourStart.Add(time.Hour).Unix(),
			hourStart.Unix(), hourStart.Add(time.Hour).Unix())
		return nil, err
	})
	return err
}

// RollupDaily aggregates hourly_stats rows into daily_stats for the UTC day
// starting at dayStart, recording utcOffsetSeconds so the day boundary stays
// stable across DST transitions for report consumers.
func (s *Store) RollupDaily(ctx context.Context, dayStart time.Time, utcOffsetSeconds int) error {
	_, err := s.write(ctx, func(db *sql.DB) (any, error) {
		_, err := db.ExecContext(ctx, `
			INSERT INTO daily_stats(day_start, session_id, compacts, active_minutes, estimated_tokens, utc_offset_seconds)
			SELECT ?, session_id, SUM(compacts), SUM(active_minutes), SUM(estimated_tokens), ?
			FROM hourly_stats
			WHERE hour_start >= ? AND hour_start < ?
			GROUP BY session_id
			ON CONFLICT(day_start, session_id) DO UPDATE SET
				compacts=excluded.compacts,
				active_minutes=excluded.active_minutes,
				estimated_tokens=excluded.estimated_tokens,
				utc_offset_seconds=excluded.utc_offset_seconds
		`, dayStart.Unix(), utcOffsetSeconds, dayStart.Unix(), dayStart.Add(24*time.Hour).Unix())
		return nil, err
	})
	return err
}
