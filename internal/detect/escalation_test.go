package detect

import (
	"testing"
	"time"

	"github.com/ntmd/ntmd/internal/model"
)

func TestEscalationGatedByPromptAndActivity(t *testing.T) {
	d := NewEscalationDetector(nil, 30*time.Second)
	now := time.Now()

	ev, fired := d.Observe(EscalationObservation{
		PaneID: "p1", SessionID: "s1", ObservedAt: now,
		TailChunk: "Please confirm proceed?", PromptLike: true, RecentActivity: true,
	})
	if !fired {
		t.Fatalf("expected escalation event")
	}
	if ev.Status != model.EscalationPending {
		t.Fatalf("expected pending status, got %s", ev.Status)
	}
}

func TestEscalationDebounceSuppressesSecondEvent(t *testing.T) {
	d := NewEscalationDetector(nil, 30*time.Second)
	now := time.Now()
	d.Observe(EscalationObservation{PaneID: "p1", SessionID: "s1", ObservedAt: now, PromptLike: true, RecentActivity: true})

	_, fired := d.Observe(EscalationObservation{PaneID: "p1", SessionID: "s1", ObservedAt: now.Add(5 * time.Second), PromptLike: true, RecentActivity: true})
	if fired {
		t.Fatalf("expected debounce to suppress second escalation within window")
	}
}

func TestEscalationResolvesWhenPromptClears(t *testing.T) {
	d := NewEscalationDetector(nil, 30*time.Second)
	now := time.Now()
	d.Observe(EscalationObservation{PaneID: "p1", SessionID: "s1", ObservedAt: now, PromptLike: true, RecentActivity: true})

	ev, fired := d.Observe(EscalationObservation{PaneID: "p1", SessionID: "s1", ObservedAt: now.Add(31 * time.Second), PromptLike: false, PromptCleared: true})
	if !fired {
		t.Fatalf("expected resolve event")
	}
	if ev.Status != model.EscalationResolved {
		t.Fatalf("expected resolved status, got %s", ev.Status)
	}
}

func TestEscalationFatalPhraseBypassesPromptGate(t *testing.T) {
	d := NewEscalationDetector([]string{"cannot proceed"}, 30*time.Second)
	now := time.Now()
	ev, fired := d.Observe(EscalationObservation{PaneID: "p1", SessionID: "s1", ObservedAt: now, TailChunk: "fatal: cannot proceed without credentials"})
	if !fired {
		t.Fatalf("expected escalation on fatal phrase without prompt gating")
	}
	if ev.Severity != "critical" {
		t.Fatalf("expected critical severity for fatal phrase, got %s", ev.Severity)
	}
}

func TestResolveOnPaneEnded(t *testing.T) {
	d := NewEscalationDetector(nil, 30*time.Second)
	now := time.Now()
	d.Observe(EscalationObservation{PaneID: "p1", SessionID: "s1", ObservedAt: now, PromptLike: true, RecentActivity: true})

	ev, fired := d.ResolveOnPaneEnded("p1", "s1", now.Add(time.Minute))
	if !fired {
		t.Fatalf("expected forced resolve on pane ended")
	}
	if ev.Status != model.EscalationResolved {
		t.Fatalf("expected resolved status")
	}

	_, firedTwice := d.ResolveOnPaneEnded("p1", "s1", now.Add(2*time.Minute))
	if firedTwice {
		t.Fatalf("expected no-op on second ResolveOnPaneEnded call")
	}
}
