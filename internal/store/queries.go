package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ntmd/ntmd/internal/model"
)

// ListSessions returns every session row, optionally filtered to a single
// source, ordered by last_seen_at descending (most recently active first).
func (s *Store) ListSessions(ctx context.Context, sourceID string) ([]*model.Session, error) {
	query := `SELECT id, source_id, external_id, name, created_at, last_seen_at, ended_at, status, status_reason, pane_count, metadata FROM sessions`
	args := []any{}
	if sourceID != "" {
		query += " WHERE source_id = ?"
		args = append(args, sourceID)
	}
	query += " ORDER BY last_seen_at DESC"

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// GetSession returns one session by internal id, or nil if not found.
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, source_id, external_id, name, created_at, last_seen_at, ended_at, status, status_reason, pane_count, metadata
		FROM sessions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

// ListPanes returns every pane belonging to sessionID, ordered by
// display_index.
func (s *Store) ListPanes(ctx context.Context, sessionID string) ([]*model.Pane, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, session_id, external_pane_id, external_window, pid, display_index, agent_type,
			created_at, last_seen_at, last_activity_at, ended_at, current_command, status, status_reason
		FROM panes WHERE session_id = ? ORDER BY display_index ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPanes(rows)
}

// GetPane returns one pane by internal id, or nil if not found.
func (s *Store) GetPane(ctx context.Context, id string) (*model.Pane, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, session_id, external_pane_id, external_window, pid, display_index, agent_type,
			created_at, last_seen_at, last_activity_at, ended_at, current_command, status, status_reason
		FROM panes WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	panes, err := scanPanes(rows)
	if err != nil {
		return nil, err
	}
	if len(panes) == 0 {
		return nil, nil
	}
	return panes[0], nil
}

// ListSources returns every source row.
func (s *Store) ListSources(ctx context.Context) ([]*model.Source, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, kind, distro, socket, created_at, last_seen_at, status, last_error, metadata FROM sources`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Source
	for rows.Next() {
		var src model.Source
		var createdAt, lastSeenAt int64
		var status, metadata string
		if err := rows.Scan(&src.ID, &src.Kind, &src.Distro, &src.Socket, &createdAt, &lastSeenAt, &status, &src.LastError, &metadata); err != nil {
			return nil, err
		}
		src.CreatedAt = unixTime(createdAt)
		src.LastSeenAt = unixTime(lastSeenAt)
		if st, ok := sourceStatusFromString(status); ok {
			src.Status = st
		}
		if err := json.Unmarshal([]byte(metadata), &src.Metadata); err != nil {
			return nil, fmt.Errorf("store: decode source metadata: %w", err)
		}
		out = append(out, &src)
	}
	return out, rows.Err()
}

// ListEscalations returns escalation events, optionally filtered to pending
// status only, newest first.
func (s *Store) ListEscalations(ctx context.Context, pendingOnly bool, limit int) ([]model.Event, error) {
	query := `SELECT id, session_id, pane_id, type, detected_at, origin, confidence, severity, status, trigger,
		message, context_before, context_after, payload, dedupe_hash FROM events WHERE type = 'escalation'`
	if pendingOnly {
		query += " AND status = 'pending'"
	}
	query += " ORDER BY id DESC LIMIT ?"

	rows, err := s.readDB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// DismissEscalation marks the pending escalation event identified by
// dedupeHash as dismissed. Returns sql.ErrNoRows if no pending escalation
// with that hash exists.
func (s *Store) DismissEscalation(ctx context.Context, dedupeHash string) error {
	val, err := s.write(ctx, func(db *sql.DB) (any, error) {
		res, err := db.ExecContext(ctx,
			`UPDATE events SET status = 'dismissed' WHERE dedupe_hash = ? AND type = 'escalation' AND status = 'pending'`,
			dedupeHash)
		if err != nil {
			return nil, err
		}
		return res.RowsAffected()
	})
	if err != nil {
		return err
	}
	if val.(int64) == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordDaemonRun inserts the startup row for this process instance into
// daemon_runs, used by health.get/capabilities.get to report run identity
// and by diagnostics to correlate log output with a specific run.
func (s *Store) RecordDaemonRun(ctx context.Context, runID, version string, protocolVersion, schemaVersion int, startedAt int64, capabilityFlags string) error {
	_, err := s.write(ctx, func(db *sql.DB) (any, error) {
		_, err := db.ExecContext(ctx,
			`INSERT INTO daemon_runs (id, started_at, version, protocol_version, schema_version, capability_flags) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, startedAt, version, protocolVersion, schemaVersion, capabilityFlags)
		return nil, err
	})
	return err
}

// EndDaemonRun stamps ended_at on a previously recorded run, called during
// graceful shutdown.
func (s *Store) EndDaemonRun(ctx context.Context, runID string, endedAt int64) error {
	_, err := s.write(ctx, func(db *sql.DB) (any, error) {
		_, err := db.ExecContext(ctx, `UPDATE daemon_runs SET ended_at = ? WHERE id = ?`, endedAt, runID)
		return nil, err
	})
	return err
}

// StatsHourly returns hourly rollup rows for sessionID within [sinceHour, untilHour].
func (s *Store) StatsHourly(ctx context.Context, sessionID string, sinceHour, untilHour int64) ([]model.HourlyStat, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT hour_start, session_id, compacts, active_minutes, estimated_tokens
		FROM hourly_stats WHERE session_id = ? AND hour_start BETWEEN ? AND ?
		ORDER BY hour_start ASC`, sessionID, sinceHour, untilHour)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.HourlyStat
	for rows.Next() {
		var h model.HourlyStat
		var hourStart int64
		if err := rows.Scan(&hourStart, &h.SessionID, &h.Compacts, &h.ActiveMinutes, &h.EstimatedTokens); err != nil {
			return nil, err
		}
		h.HourStart = unixTime(hourStart)
		out = append(out, h)
	}
	return out, rows.Err()
}

// StatsDaily returns daily rollup rows for sessionID within [sinceDay, untilDay].
func (s *Store) StatsDaily(ctx context.Context, sessionID string, sinceDay, untilDay int64) ([]model.DailyStat, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT day_start, session_id, compacts, active_minutes, estimated_tokens, utc_offset_seconds
		FROM daily_stats WHERE session_id = ? AND day_start BETWEEN ? AND ?
		ORDER BY day_start ASC`, sessionID, sinceDay, untilDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DailyStat
	for rows.Next() {
		var d model.DailyStat
		var dayStart int64
		if err := rows.Scan(&dayStart, &d.SessionID, &d.Compacts, &d.ActiveMinutes, &d.EstimatedTokens, &d.UTCOffsetSeconds); err != nil {
			return nil, err
		}
		d.DayStart = unixTime(dayStart)
		out = append(out, d)
	}
	return out, rows.Err()
}

// StatsSummary aggregates all-time compacts/active-minutes/tokens per
// session from the daily rollups, used by stats.summary.
func (s *Store) StatsSummary(ctx context.Context, sessionID string) (model.DailyStat, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(compacts),0), COALESCE(SUM(active_minutes),0), COALESCE(SUM(estimated_tokens),0)
		FROM daily_stats WHERE session_id = ?`, sessionID)
	var summary model.DailyStat
	summary.SessionID = sessionID
	err := row.Scan(&summary.Compacts, &summary.ActiveMinutes, &summary.EstimatedTokens)
	return summary, err
}

func scanSessions(rows *sql.Rows) ([]*model.Session, error) {
	var out []*model.Session
	for rows.Next() {
		var sess model.Session
		var createdAt, lastSeenAt int64
		var endedAt sql.NullInt64
		var status, metadata string
		if err := rows.Scan(&sess.ID, &sess.SourceID, &sess.ExternalID, &sess.Name, &createdAt, &lastSeenAt,
			&endedAt, &status, &sess.StatusReason, &sess.PaneCount, &metadata); err != nil {
			return nil, err
		}
		sess.CreatedAt = unixTime(createdAt)
		sess.LastSeenAt = unixTime(lastSeenAt)
		if endedAt.Valid {
			sess.EndedAt = unixTime(endedAt.Int64)
		}
		if st, ok := sessionStatusFromString(status); ok {
			sess.Status = st
		}
		if err := json.Unmarshal([]byte(metadata), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("store: decode session metadata: %w", err)
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func scanPanes(rows *sql.Rows) ([]*model.Pane, error) {
	var out []*model.Pane
	for rows.Next() {
		var p model.Pane
		var createdAt, lastSeenAt int64
		var lastActivity, endedAt sql.NullInt64
		var agentType, status string
		if err := rows.Scan(&p.ID, &p.SessionID, &p.ExternalPaneID, &p.ExternalWindow, &p.PID, &p.DisplayIndex,
			&agentType, &createdAt, &lastSeenAt, &lastActivity, &endedAt, &p.CurrentCommand, &status, &p.StatusReason); err != nil {
			return nil, err
		}
		p.CreatedAt = unixTime(createdAt)
		p.LastSeenAt = unixTime(lastSeenAt)
		if lastActivity.Valid {
			p.LastActivityAt = unixTime(lastActivity.Int64)
		}
		if endedAt.Valid {
			p.EndedAt = unixTime(endedAt.Int64)
		}
		if at, ok := agentTypeFromString(agentType); ok {
			p.AgentType = at
		}
		if st, ok := paneStatusFromString(status); ok {
			p.Status = st
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func sourceStatusFromString(s string) (model.SourceStatus, bool) {
	switch s {
	case "ok":
		return model.SourceOK, true
	case "degraded":
		return model.SourceDegraded, true
	case "disconnected":
		return model.SourceDisconnected, true
	default:
		return 0, false
	}
}

func sessionStatusFromString(s string) (model.SessionStatus, bool) {
	switch s {
	case "active":
		return model.SessionActive, true
	case "waiting":
		return model.SessionWaiting, true
	case "idle":
		return model.SessionIdle, true
	case "ended":
		return model.SessionEnded, true
	case "unknown":
		return model.SessionUnknown, true
	default:
		return 0, false
	}
}

func paneStatusFromString(s string) (model.PaneStatus, bool) {
	switch s {
	case "active":
		return model.PaneActive, true
	case "waiting":
		return model.PaneWaiting, true
	case "idle":
		return model.PaneIdle, true
	case "ended":
		return model.PaneEnded, true
	case "unknown":
		return model.PaneUnknown, true
	default:
		return 0, false
	}
}

func agentTypeFromString(s string) (model.AgentType, bool) {
	switch s {
	case "unknown":
		return model.AgentUnknown, true
	case "claude":
		return model.AgentClaude, true
	case "codex":
		return model.AgentCodex, true
	case "gemini":
		return model.AgentGemini, true
	case "shell":
		return model.AgentShell, true
	default:
		return 0, false
	}
}
