// Package store is the durable SQLite-backed persistence layer. All writes
// go through a single writer actor (runWriter in store.go); readers use separate
// read-only connections. Migrations are forward-only and numbered; a
// meta.schema_version row records the applied version.
package store

// CurrentSchemaVersion is the schema version this binary understands. The
// store refuses to start if the on-disk schema is newer (exit code 3).
const CurrentSchemaVersion = 1

// migrations are applied in order, each in its own transaction, which also
// sets meta.schema_version to that migration's number.
var migrations = []string{
	migration001,
}

const migration001 = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS daemon_runs (
	id               TEXT PRIMARY KEY,
	started_at       INTEGER NOT NULL,
	ended_at         INTEGER,
	version          TEXT NOT NULL,
	protocol_version INTEGER NOT NULL,
	schema_version   INTEGER NOT NULL,
	capability_flags TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sources (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	distro       TEXT NOT NULL,
	socket       TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	last_seen_at INTEGER NOT NULL,
	status       TEXT NOT NULL,
	last_error   TEXT NOT NULL DEFAULT '',
	metadata     TEXT NOT NULL DEFAULT '{}',
	UNIQUE(kind, distro, socket)
);

CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	source_id     TEXT NOT NULL REFERENCES sources(id),
	external_id   TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	last_seen_at  INTEGER NOT NULL,
	ended_at      INTEGER,
	status        TEXT NOT NULL,
	status_reason TEXT NOT NULL DEFAULT '',
	pane_count    INTEGER NOT NULL DEFAULT 0,
	metadata      TEXT NOT NULL DEFAULT '{}'
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active_name_per_source
	ON sessions(source_id, name) WHERE status != 'ended';

CREATE TABLE IF NOT EXISTS panes (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL REFERENCES sessions(id),
	external_pane_id TEXT NOT NULL DEFAULT '',
	external_window  TEXT NOT NULL DEFAULT '',
	pid              INTEGER NOT NULL DEFAULT 0,
	display_index    INTEGER NOT NULL DEFAULT 0,
	agent_type       TEXT NOT NULL DEFAULT 'unknown',
	created_at       INTEGER NOT NULL,
	last_seen_at     INTEGER NOT NULL,
	last_activity_at INTEGER,
	ended_at         INTEGER,
	current_command  TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	status_reason    TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_panes_external_per_session
	ON panes(session_id, external_pane_id) WHERE external_pane_id != '';

CREATE TABLE IF NOT EXISTS events (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id     TEXT NOT NULL,
	pane_id        TEXT NOT NULL DEFAULT '',
	type           TEXT NOT NULL,
	detected_at    INTEGER NOT NULL,
	origin         TEXT NOT NULL,
	confidence     REAL NOT NULL DEFAULT 0,
	severity       TEXT NOT NULL DEFAULT 'info',
	status         TEXT NOT NULL DEFAULT '',
	trigger        TEXT NOT NULL DEFAULT 'auto',
	message        TEXT NOT NULL DEFAULT '',
	context_before INTEGER NOT NULL DEFAULT 0,
	context_after  INTEGER NOT NULL DEFAULT 0,
	payload        TEXT NOT NULL DEFAULT '{}',
	dedupe_hash    TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedupe_hash
	ON events(dedupe_hash) WHERE dedupe_hash IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_pane ON events(pane_id);

CREATE TABLE IF NOT EXISTS pane_minute_samples (
	minute_start     INTEGER NOT NULL,
	pane_id          TEXT NOT NULL,
	status           TEXT NOT NULL,
	output_lines     INTEGER NOT NULL DEFAULT 0,
	output_bytes     INTEGER NOT NULL DEFAULT 0,
	estimated_tokens INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (minute_start, pane_id)
);

CREATE TABLE IF NOT EXISTS hourly_stats (
	hour_start       INTEGER NOT NULL,
	session_id       TEXT NOT NULL,
	compacts         INTEGER NOT NULL DEFAULT 0,
	active_minutes   INTEGER NOT NULL DEFAULT 0,
	estimated_tokens INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (hour_start, session_id)
);

CREATE TABLE IF NOT EXISTS daily_stats (
	day_start          INTEGER NOT NULL,
	session_id         TEXT NOT NULL,
	compacts           INTEGER NOT NULL DEFAULT 0,
	active_minutes     INTEGER NOT NULL DEFAULT 0,
	estimated_tokens   INTEGER NOT NULL DEFAULT 0,
	utc_offset_seconds INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (day_start, session_id)
);
`
