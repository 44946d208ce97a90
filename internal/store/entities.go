package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ntmd/ntmd/internal/model"
)

// UpsertSource inserts or updates a Source row, keyed by its unique
// (kind, distro, socket) triple.
func (s *Store) UpsertSource(ctx context.Context, src *model.Source) error {
	_, err := s.write(ctx, func(db *sql.DB) (any, error) {
		meta, err := json.Marshal(src.Metadata)
		if err != nil {
			return nil, err
		}
		_, err = db.ExecContext(ctx, `
			INSERT INTO sources(id, kind, distro, socket, created_at, last_seen_at, status, last_error, metadata)
			VALUES(?,?,?,?,?,?,?,?,?)
			ON CONFLICT(kind, distro, socket) DO UPDATE SET
				last_seen_at=excluded.last_seen_at,
				status=excluded.status,
				last_error=excluded.last_error,
				metadata=excluded.metadata
		`, src.ID, src.Kind, src.Distro, src.Socket, src.CreatedAt.Unix(), src.LastSeenAt.Unix(),
			src.Status.String(), src.LastError, string(meta))
		return nil, err
	})
	return err
}

// UpsertSession inserts or updates a Session row by its internal id.
func (s *Store) UpsertSession(ctx context.Context, sess *model.Session) error {
	_, err := s.write(ctx, func(db *sql.DB) (any, error) {
		meta, err := json.Marshal(sess.Metadata)
		if err != nil {
			return nil, err
		}
		var endedAt any
		if !sess.EndedAt.IsZero() {
			endedAt = sess.EndedAt.Unix()
		}
		_, err = db.ExecContext(ctx, `
			INSERT INTO sessions(id, source_id, external_id, name, created_at, last_seen_at, ended_at, status, status_reason, pane_count, metadata)
			VALUES(?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET
				external_id=excluded.external_id,
				last_seen_at=excluded.last_seen_at,
				ended_at=excluded.ended_at,
				status=excluded.status,
				status_reason=excluded.status_reason,
				pane_count=excluded.pane_count,
				metadata=excluded.metadata
		`, sess.ID, sess.SourceID, sess.ExternalID, sess.Name, sess.CreatedAt.Unix(), sess.LastSeenAt.Unix(),
			endedAt, sess.Status.String(), sess.StatusReason, sess.PaneCount, string(meta))
		return nil, err
	})
	return err
}

// UpsertPane inserts or updates a Pane row by its internal id.
func (s *Store) UpsertPane(ctx context.Context, p *model.Pane) error {
	_, err := s.write(ctx, func(db *sql.DB) (any, error) {
		var lastActivity, endedAt any
		if !p.LastActivityAt.IsZero() {
			lastActivity = p.LastActivityAt.Unix()
		}
		if !p.EndedAt.IsZero() {
			endedAt = p.EndedAt.Unix()
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO panes(id, session_id, external_pane_id, external_window, pid, display_index, agent_type,
				created_at, last_seen_at, last_activity_at, ended_at, current_command, status, status_reason)
			VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET
				external_pane_id=excluded.external_pane_id,
				pid=excluded.pid,
				last_seen_at=excluded.last_seen_at,
				last_activity_at=excluded.last_activity_at,
				ended_at=excluded.ended_at,
				current_command=excluded.current_command,
				agent_type=excluded.agent_type,
				status=excluded.status,
				status_reason=excluded.status_reason
		`, p.ID, p.SessionID, p.ExternalPaneID, p.ExternalWindow, p.PID, p.DisplayIndex, p.AgentType.String(),
			p.CreatedAt.Unix(), p.LastSeenAt.Unix(), lastActivity, endedAt, p.CurrentCommand, p.Status.String(), p.StatusReason)
		return nil, err
	})
	return err
}

// InsertEvents batch-inserts events in one transaction, assigning cursor ids
// in order. Rows whose dedupe_hash collides with an existing row are
// silently skipped (INSERT OR IGNORE) per the spec's idempotence contract;
// the caller receives back only the events that were actually persisted,
// each with its assigned ID.
func (s *Store) InsertEvents(ctx context.Context, events []model.Event) ([]model.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}
	val, err := s.write(ctx, func(db *sql.DB) (any, error) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO events(session_id, pane_id, type, detected_at, origin, confidence,
				severity, status, trigger, message, context_before, context_after, payload, dedupe_hash)
			VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		`)
		if err != nil {
			return nil, err
		}
		defer stmt.Close()

		inserted := make([]model.Event, 0, len(events))
		for _, ev := range events {
			payload, err := json.Marshal(ev.Payload)
			if err != nil {
				return nil, err
			}
			var dedupe any
			if ev.DedupeHash != "" {
				dedupe = ev.DedupeHash
			}
			res, err := stmt.ExecContext(ctx, ev.SessionID, ev.PaneID, ev.Type.String(), ev.DetectedAt.Unix(),
				string(ev.Origin), ev.Confidence, ev.Severity, string(ev.Status), string(ev.Trigger), ev.Message,
				ev.ContextBefore, ev.ContextAfter, string(payload), dedupe)
			if err != nil {
				return nil, err
			}
			rows, err := res.RowsAffected()
			if err != nil {
				return nil, err
			}
			if rows == 0 {
				// Deduped away; the store contains exactly one row for this
				// hash already, per the invariant. Not an error.
				continue
			}
			id, err := res.LastInsertId()
			if err != nil {
				return nil, err
			}
			ev.ID = id
			inserted = append(inserted, ev)
		}

		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return inserted, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]model.Event), nil
}

// InsertMinuteSamples batch-inserts per-pane minute counters in one
// transaction.
func (s *Store) InsertMinuteSamples(ctx context.Context, samples []model.MinuteSample) error {
	if len(samples) == 0 {
		return nil
	}
	_, err := s.write(ctx, func(db *sql.DB) (any, error) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pane_minute_samples(minute_start, pane_id, status, output_lines, output_bytes, estimated_tokens)
			VALUES(?,?,?,?,?,?)
			ON CONFLICT(minute_start, pane_id) DO UPDATE SET
				status=excluded.status,
				output_lines=excluded.output_lines,
				output_bytes=excluded.output_bytes,
				estimated_tokens=excluded.estimated_tokens
		`)
		if err != nil {
			return nil, err
		}
		defer stmt.Close()

		for _, sm := range samples {
			if _, err := stmt.ExecContext(ctx, sm.MinuteStart.Unix(), sm.PaneID, sm.Status.String(),
				sm.OutputLines, sm.OutputBytes, sm.EstimatedTokens); err != nil {
				return nil, err
			}
		}
		return nil, tx.Commit()
	})
	return err
}

// ReadEventsSince returns events with id > sinceID, up to limit rows,
// ordered by id ascending, using the read-only connection pool.
func (s *Store) ReadEventsSince(ctx context.Context, sinceID int64, limit int) ([]model.Event, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, session_id, pane_id, type, detected_at, origin, confidence, severity, status, trigger,
			message, context_before, context_after, payload, dedupe_hash
		FROM events WHERE id > ? ORDER BY id ASC LIMIT ?
	`, sinceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// OldestEventID returns the smallest surviving event id, or 0 if the table
// is empty (meaning retention has not pruned anything yet, or there are no
// events at all).
func (s *Store) OldestEventID(ctx context.Context) (int64, error) {
	row := s.readDB.QueryRowContext(ctx, "SELECT COALESCE(MIN(id), 0) FROM events")
	var id int64
	err := row.Scan(&id)
	return id, err
}

// LatestEventID returns the current cursor high-water mark.
func (s *Store) LatestEventID(ctx context.Context) (int64, error) {
	row := s.readDB.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM events")
	var id int64
	err := row.Scan(&id)
	return id, err
}

func scanEvents(rows *sql.Rows) ([]model.Event, error) {
	var out []model.Event
	for rows.Next() {
		var ev model.Event
		var typeName, origin, status, trigger, payload string
		var paneID sql.NullString
		var dedupe sql.NullString
		var detectedAt int64
		if err := rows.Scan(&ev.ID, &ev.SessionID, &paneID, &typeName, &detectedAt, &origin, &ev.Confidence,
			&ev.Severity, &status, &trigger, &ev.Message, &ev.ContextBefore, &ev.ContextAfter, &payload, &dedupe); err != nil {
			return nil, err
		}
		ev.PaneID = paneID.String
		ev.Origin = model.EventOrigin(origin)
		ev.Status = model.EscalationStatus(status)
		ev.Trigger = model.EventTrigger(trigger)
		ev.DedupeHash = dedupe.String
		ev.DetectedAt = unixTime(detectedAt)
		if t, ok := parseEventType(typeName); ok {
			ev.Type = t
		}
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("store: decode event payload: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func parseEventType(s string) (model.EventType, bool) {
	switch s {
	case "compact":
		return model.EventCompact, true
	case "escalation":
		return model.EventEscalation, true
	case "pane.status":
		return model.EventPaneStatus, true
	case "session.status":
		return model.EventSessionStatus, true
	default:
		return 0, false
	}
}
