package detect

import (
	"testing"
	"time"

	"github.com/ntmd/ntmd/internal/model"
)

func TestCompactStructuredCounterIncrease(t *testing.T) {
	d := NewCompactDetector(nil, 60*time.Second)
	now := time.Now()

	_, fired := d.Observe(CompactObservation{
		PaneID: "p1", SessionID: "s1", ObservedAt: now,
		HasStructured: true, CompactCount: 2, ContextTokens: 94000,
	})
	if fired {
		t.Fatalf("first observation must not fire (no prior baseline)")
	}

	ev, fired := d.Observe(CompactObservation{
		PaneID: "p1", SessionID: "s1", ObservedAt: now.Add(time.Second),
		HasStructured: true, CompactCount: 3, ContextTokens: 310,
	})
	if !fired {
		t.Fatalf("expected compact event on counter increase")
	}
	if ev.Confidence < 0.9 {
		t.Fatalf("expected confidence >= 0.9, got %f", ev.Confidence)
	}
	if ev.ContextBefore != 94000 {
		t.Fatalf("expected contextBefore=94000, got %d", ev.ContextBefore)
	}
	if ev.DedupeHash == "" {
		t.Fatalf("expected non-empty dedupe hash")
	}
}

func TestCompactContextDropFallback(t *testing.T) {
	d := NewCompactDetector(nil, 60*time.Second)
	now := time.Now()

	d.Observe(CompactObservation{PaneID: "p1", SessionID: "s1", ObservedAt: now, HasStructured: true, CompactCount: 1, ContextTokens: 30000})
	ev, fired := d.Observe(CompactObservation{PaneID: "p1", SessionID: "s1", ObservedAt: now.Add(time.Second), HasStructured: true, CompactCount: 1, ContextTokens: 1000})
	if !fired {
		t.Fatalf("expected context-drop compact event")
	}
	if ev.Confidence != 0.75 {
		t.Fatalf("expected confidence 0.75, got %f", ev.Confidence)
	}
}

func TestCompactTailPatternDebounced(t *testing.T) {
	d := NewCompactDetector([]string{"compacting conversation"}, 60*time.Second)
	now := time.Now()

	_, fired := d.Observe(CompactObservation{PaneID: "p1", SessionID: "s1", ObservedAt: now, TailChunk: "compacting conversation now"})
	if !fired {
		t.Fatalf("expected tail-pattern compact event")
	}

	_, firedAgain := d.Observe(CompactObservation{PaneID: "p1", SessionID: "s1", ObservedAt: now.Add(time.Second), TailChunk: "compacting conversation now"})
	if firedAgain {
		t.Fatalf("expected debounce to suppress second event within window")
	}
}

func TestDedupeHashStableWithinMinuteBucket(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 10, 0, time.UTC)
	later := base.Add(20 * time.Second)
	h1 := DedupeHash(model.EventCompact, "p1", base, "x")
	h2 := DedupeHash(model.EventCompact, "p1", later, "x")
	if h1 != h2 {
		t.Fatalf("expected same hash within the same minute bucket, got %s vs %s", h1, h2)
	}
}
