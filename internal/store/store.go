package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrSchemaTooNew is returned by Open when the on-disk schema_version is
// greater than CurrentSchemaVersion; the caller should exit(3).
var ErrSchemaTooNew = errors.New("store: on-disk schema is newer than this binary understands")

// ErrClosed is returned by write/read calls made after Close.
var ErrClosed = errors.New("store: closed")

// Store owns the single SQLite file. All mutation is funneled through one
// writer actor goroutine that owns writeDB exclusively; readDB is a
// separate, read-only connection pool used directly by callers (the spec
// permits concurrent readers so long as the writer is the sole mutator).
//
// This generalizes the teacher's session.Store (one mutex guarding an
// in-memory map) from an in-memory single-owner to a durable single-writer
// actor guarding a *sql.DB.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB

	cmds chan writeCmd
	wg   sync.WaitGroup

	// closeMu guards against a send on s.cmds racing Close's close(s.cmds):
	// write holds the read side across its closed-check and send, Close
	// takes the write side before closing cmds, so no send can be
	// mid-flight when cmds is closed.
	closeMu   sync.RWMutex
	closeOnce sync.Once
	closed    chan struct{}
}

type writeCmd struct {
	fn    func(*sql.DB) (any, error)
	reply chan writeResult
}

type writeResult struct {
	val any
	err error
}

// Open opens (creating if needed) the store at path, applies pending
// migrations, and starts the writer actor.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)"

	writeDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open write connection: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	if err := applyPragmas(writeDB); err != nil {
		writeDB.Close()
		return nil, err
	}

	if err := migrate(writeDB); err != nil {
		writeDB.Close()
		return nil, err
	}

	readDB, err := sql.Open("sqlite", path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("store: open read connection: %w", err)
	}
	readDB.SetMaxOpenConns(4)

	s := &Store{
		writeDB: writeDB,
		readDB:  readDB,
		cmds:    make(chan writeCmd, 64),
		closed:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.runWriter()
	return s, nil
}

func applyPragmas(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: pragma %q: %w", stmt, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	var current int
	row := db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'")
	var raw string
	err := row.Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
	case err != nil:
		// meta table doesn't exist yet on a brand-new file; treat as version 0.
		current = 0
	default:
		fmt.Sscanf(raw, "%d", &current)
	}

	if current > CurrentSchemaVersion {
		return ErrSchemaTooNew
	}

	for i := current; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("store: begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO meta(key, value) VALUES('schema_version', ?) "+
				"ON CONFLICT(key) DO UPDATE SET value=excluded.value",
			fmt.Sprintf("%d", i+1),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) runWriter() {
	defer s.wg.Done()
	for cmd := range s.cmds {
		val, err := cmd.fn(s.writeDB)
		cmd.reply <- writeResult{val: val, err: err}
	}
}

// write submits fn to the writer actor and blocks for its result. Every
// mutation in this package goes through this one chokepoint.
//
// closeMu.RLock is held across the closed-check and the send to cmds so
// Close cannot close cmds while a send is in flight (see the field comment
// on closeMu) — without it, a write could pass the non-blocking closed
// check and then block on the send just as Close closes cmds, panicking.
func (s *Store) write(ctx context.Context, fn func(*sql.DB) (any, error)) (any, error) {
	reply := make(chan writeResult, 1)

	s.closeMu.RLock()
	select {
	case <-s.closed:
		s.closeMu.RUnlock()
		return nil, ErrClosed
	default:
	}
	select {
	case s.cmds <- writeCmd{fn: fn, reply: reply}:
		s.closeMu.RUnlock()
	case <-s.closed:
		s.closeMu.RUnlock()
		return nil, ErrClosed
	case <-ctx.Done():
		s.closeMu.RUnlock()
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IntegrityCheck runs SQLite's integrity_check against the write connection,
// used on restart after a crash and by the crash-recovery test scenario.
func (s *Store) IntegrityCheck(ctx context.Context) error {
	row := s.writeDB.QueryRowContext(ctx, "PRAGMA integrity_check")
	var result string
	if err := row.Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("store: integrity check failed: %s", result)
	}
	return nil
}

// Close flushes the writer and releases both connections.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		// Taking the write lock here blocks until every write() holding
		// the read lock has either sent (and released) or bailed out via
		// s.closed/ctx.Done, so no send can still be in flight once cmds
		// closes.
		s.closeMu.Lock()
		close(s.cmds)
		s.closeMu.Unlock()
	})
	s.wg.Wait()
	err1 := s.writeDB.Close()
	err2 := s.readDB.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
