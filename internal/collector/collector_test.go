package collector

import (
	"testing"
	"time"

	"github.com/ntmd/ntmd/internal/parser"
	"github.com/ntmd/ntmd/internal/reconcile"
)

func TestBuildSnapshotGroupsRowsBySession(t *testing.T) {
	rows := []parser.PaneRow{
		{SessionName: "b", WindowIndex: 0, PaneIndex: 0, PanePID: 10, CurrentCommand: "bash"},
		{SessionName: "a", WindowIndex: 0, PaneIndex: 0, PanePID: 11, CurrentCommand: "node", TailLine: "Continue? (y/n)"},
		{SessionName: "a", WindowIndex: 0, PaneIndex: 1, PanePID: 12, CurrentCommand: "zsh"},
	}
	snap := buildSnapshot("src-1", rows, time.Now(), false)

	if len(snap.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(snap.Sessions))
	}
	if snap.Sessions[0].Name != "a" || snap.Sessions[1].Name != "b" {
		t.Fatalf("expected deterministic sorted order a,b; got %s,%s", snap.Sessions[0].Name, snap.Sessions[1].Name)
	}
	if len(snap.Sessions[0].Panes) != 2 {
		t.Fatalf("expected 2 panes under session a, got %d", len(snap.Sessions[0].Panes))
	}
	if !snap.Sessions[0].Panes[0].PromptLike {
		t.Fatalf("expected first pane of session a to be prompt-like")
	}
	if !snap.Sessions[0].Panes[0].ActivePattern {
		t.Fatalf("expected node command to register as an active pattern")
	}
}

func TestMergeRobotSessionsAttachesToExistingTmuxSession(t *testing.T) {
	snap := reconcile.Snapshot{
		Sessions: []reconcile.SessionObservation{
			{Name: "work", Panes: []reconcile.PaneObservation{{SessionName: "work", DisplayIndex: 0}}},
		},
	}
	mergeRobotSessions(&snap, []parser.RobotSession{
		{SessionID: "ext-7", Name: "work", AgentType: "claude", CompactCount: 3, ContextTokens: 4000},
	})

	if snap.Sessions[0].ExternalSessionID != "ext-7" {
		t.Fatalf("expected external session id to be set, got %q", snap.Sessions[0].ExternalSessionID)
	}
	if !snap.Sessions[0].Panes[0].HasStructured {
		t.Fatalf("expected pane to be marked structured after merge")
	}
	if snap.Sessions[0].Panes[0].CompactCount != 3 {
		t.Fatalf("expected compact count 3, got %d", snap.Sessions[0].Panes[0].CompactCount)
	}
}

func TestMergeRobotSessionsAddsManagerOnlySession(t *testing.T) {
	snap := reconcile.Snapshot{}
	mergeRobotSessions(&snap, []parser.RobotSession{
		{SessionID: "ext-9", Name: "detached", AgentType: "codex"},
	})
	if len(snap.Sessions) != 1 {
		t.Fatalf("expected manager-only session to be appended, got %d sessions", len(snap.Sessions))
	}
	if len(snap.Sessions[0].Panes) != 1 || !snap.Sessions[0].Panes[0].HasStructured {
		t.Fatalf("expected one synthetic structured pane for the manager-only session")
	}
}

func TestNextIntervalBacksOffWhenIdleAndResetsOnActivity(t *testing.T) {
	c := &Collector{cfg: Config{ReconcileInterval: 10 * time.Second, IdleBackoffMax: 40 * time.Second}}

	next := c.nextInterval(10*time.Second, false)
	if next != 20*time.Second {
		t.Fatalf("expected backoff to double to 20s, got %s", next)
	}
	next = c.nextInterval(next, false)
	if next != 40*time.Second {
		t.Fatalf("expected backoff to cap at 40s, got %s", next)
	}
	next = c.nextInterval(next, true)
	if next != 10*time.Second {
		t.Fatalf("expected activity to reset interval to base 10s, got %s", next)
	}
}

func TestReconcilerExternalLookupsResolveAfterApply(t *testing.T) {
	r := reconcile.New(reconcile.DefaultConfig())
	now := time.Now()
	r.Apply(reconcile.Snapshot{
		SourceID: "src-1",
		Sessions: []reconcile.SessionObservation{
			{Name: "main", Panes: []reconcile.PaneObservation{{SessionName: "main", DisplayIndex: 0, PID: 123}}},
		},
		ObservedAt: now,
	})

	sessionID := r.SessionIDForExternal("src-1", "", "main")
	if sessionID == "" {
		t.Fatalf("expected session id to resolve after Apply")
	}
	paneID := r.PaneIDForExternal("src-1", "main", "", 0, 123)
	if paneID == "" {
		t.Fatalf("expected pane id to resolve after Apply")
	}
}

func TestLooksPromptLikeAndActivePattern(t *testing.T) {
	if !looksPromptLike("Waiting for input... (y/n)") {
		t.Fatalf("expected prompt-like detection")
	}
	if looksPromptLike("compiling package foo") {
		t.Fatalf("did not expect prompt-like match")
	}
	if !looksActivePattern("python3") {
		t.Fatalf("expected python3 to register as active")
	}
	if looksActivePattern("bash") {
		t.Fatalf("did not expect bash to register as active")
	}
}
