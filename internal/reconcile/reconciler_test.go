package reconcile

import (
	"testing"
	"time"

	"github.com/ntmd/ntmd/internal/model"
)

func baseSnapshot(sourceID string, at time.Time, active bool) Snapshot {
	return Snapshot{
		SourceID:   sourceID,
		ObservedAt: at,
		Sessions: []SessionObservation{
			{
				ExternalSessionID: "sess-1",
				Name:              "main",
				Panes: []PaneObservation{
					{
						ExternalPaneID: "pane-1",
						DisplayIndex:   0,
						PID:            100,
						ActivePattern:  active,
						ObservedAt:     at,
					},
				},
			},
		},
	}
}

func TestApplyCreatesSessionAndPane(t *testing.T) {
	r := New(DefaultConfig())
	now := time.Now()
	res := r.Apply(baseSnapshot("src-1", now, true))

	if len(res.UpsertedSessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(res.UpsertedSessions))
	}
	if len(res.UpsertedPanes) != 1 {
		t.Fatalf("expected 1 pane, got %d", len(res.UpsertedPanes))
	}
	if res.UpsertedPanes[0].Status != model.PaneActive {
		t.Fatalf("expected active pane, got %s", res.UpsertedPanes[0].Status)
	}
}

func TestApplyTwiceIsIdempotentOnEvents(t *testing.T) {
	r := New(DefaultConfig())
	now := time.Now()
	snap := baseSnapshot("src-1", now, true)

	first := r.Apply(snap)
	if len(first.Events) == 0 {
		t.Fatalf("expected events on first application")
	}

	second := r.Apply(snap)
	if len(second.Events) != 0 {
		t.Fatalf("expected no new events on repeat application, got %+v", second.Events)
	}
}

func TestEndedRequiresKConsecutiveMisses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EndedAfterMissedCycles = 3
	r := New(cfg)
	now := time.Now()

	r.Apply(baseSnapshot("src-1", now, true))

	empty := Snapshot{SourceID: "src-1", ObservedAt: now}
	for i := 0; i < 2; i++ {
		res := r.Apply(empty)
		for _, ev := range res.Events {
			if ev.Type == model.EventSessionStatus {
				t.Fatalf("session ended before K misses: %+v", ev)
			}
		}
	}

	res := r.Apply(empty)
	foundEnded := false
	for _, ev := range res.Events {
		if ev.Type == model.EventSessionStatus && ev.Payload["next"] == "ended" {
			foundEnded = true
		}
	}
	if !foundEnded {
		t.Fatalf("expected session ended event after K misses")
	}
}

func TestDegradedSourceSuppressesEndedTransition(t *testing.T) {
	r := New(DefaultConfig())
	now := time.Now()
	r.Apply(baseSnapshot("src-1", now, true))

	degraded := Snapshot{SourceID: "src-1", ObservedAt: now, Degraded: true}
	for i := 0; i < 10; i++ {
		res := r.Apply(degraded)
		for _, ev := range res.Events {
			if ev.Payload["next"] == "ended" {
				t.Fatalf("ended event emitted while source degraded: %+v", ev)
			}
		}
	}
}

func TestExternalIDReplacesSyntheticKey(t *testing.T) {
	r := New(DefaultConfig())
	now := time.Now()

	noExternal := Snapshot{
		SourceID:   "src-1",
		ObservedAt: now,
		Sessions: []SessionObservation{
			{
				Name: "main",
				Panes: []PaneObservation{
					{DisplayIndex: 0, PID: 100, ObservedAt: now},
				},
			},
		},
	}
	first := r.Apply(noExternal)
	if len(first.UpsertedPanes) != 1 {
		t.Fatalf("expected 1 pane")
	}
	paneID := first.UpsertedPanes[0].ID

	withExternal := noExternal
	withExternal.Sessions[0].Panes[0].ExternalPaneID = "pane-42"
	withExternal.ObservedAt = now.Add(time.Second)

	second := r.Apply(withExternal)
	if len(second.UpsertedPanes) != 1 {
		t.Fatalf("expected 1 pane")
	}
	if second.UpsertedPanes[0].ID != paneID {
		t.Fatalf("expected same pane identity to survive external id linkage, got %s vs %s", second.UpsertedPanes[0].ID, paneID)
	}
	if second.UpsertedPanes[0].ExternalPaneID != "pane-42" {
		t.Fatalf("external id not linked: %+v", second.UpsertedPanes[0])
	}
}
