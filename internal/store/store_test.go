package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ntmd/ntmd/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ntmd.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSession(t *testing.T, s *Store) *model.Session {
	t.Helper()
	ctx := context.Background()
	src := &model.Source{ID: model.NewID(), Kind: "tmux", Distro: "debian", CreatedAt: time.Now(), LastSeenAt: time.Now(), Status: model.SourceOK}
	if err := s.UpsertSource(ctx, src); err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}
	sess := &model.Session{ID: model.NewID(), SourceID: src.ID, Name: "main", CreatedAt: time.Now(), LastSeenAt: time.Now(), Status: model.SessionActive}
	if err := s.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	return sess
}

func TestInsertEventsAssignsIncreasingCursor(t *testing.T) {
	s := newTestStore(t)
	sess := seedSession(t, s)
	ctx := context.Background()

	events := []model.Event{
		{SessionID: sess.ID, Type: model.EventCompact, DetectedAt: time.Now(), Origin: model.OriginStructured, Message: "a"},
		{SessionID: sess.ID, Type: model.EventCompact, DetectedAt: time.Now(), Origin: model.OriginStructured, Message: "b"},
	}
	inserted, err := s.InsertEvents(ctx, events)
	if err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}
	if len(inserted) != 2 {
		t.Fatalf("expected 2 inserted, got %d", len(inserted))
	}
	if inserted[1].ID <= inserted[0].ID {
		t.Fatalf("expected strictly increasing ids, got %d then %d", inserted[0].ID, inserted[1].ID)
	}
}

func TestInsertEventsDedupeIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	sess := seedSession(t, s)
	ctx := context.Background()

	ev := model.Event{SessionID: sess.ID, Type: model.EventCompact, DetectedAt: time.Now(), Origin: model.OriginStructured, DedupeHash: "fixed-hash"}
	first, err := s.InsertEvents(ctx, []model.Event{ev})
	if err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 inserted row")
	}

	second, err := s.InsertEvents(ctx, []model.Event{ev})
	if err != nil {
		t.Fatalf("InsertEvents (repeat): %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected 0 new rows on repeat dedupe hash, got %d", len(second))
	}

	latest, err := s.LatestEventID(ctx)
	if err != nil {
		t.Fatalf("LatestEventID: %v", err)
	}
	if latest != first[0].ID {
		t.Fatalf("expected latest id to remain %d, got %d", first[0].ID, latest)
	}
}

func TestReadEventsSince(t *testing.T) {
	s := newTestStore(t)
	sess := seedSession(t, s)
	ctx := context.Background()

	var batch []model.Event
	for i := 0; i < 5; i++ {
		batch = append(batch, model.Event{SessionID: sess.ID, Type: model.EventPaneStatus, DetectedAt: time.Now(), Origin: model.OriginStructured})
	}
	inserted, err := s.InsertEvents(ctx, batch)
	if err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}

	mid := inserted[2].ID
	rest, err := s.ReadEventsSince(ctx, mid, 100)
	if err != nil {
		t.Fatalf("ReadEventsSince: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 events after cursor %d, got %d", mid, len(rest))
	}
}

func TestIntegrityCheck(t *testing.T) {
	s := newTestStore(t)
	if err := s.IntegrityCheck(context.Background()); err != nil {
		t.Fatalf("IntegrityCheck: %v", err)
	}
}
