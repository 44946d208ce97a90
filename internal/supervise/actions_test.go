package supervise

import (
	"context"
	"testing"

	"github.com/ntmd/ntmd/internal/config"
	"github.com/ntmd/ntmd/internal/model"
	"github.com/ntmd/ntmd/internal/redact"
	"github.com/ntmd/ntmd/internal/rpc"
)

type fakeReadStore struct {
	sessions map[string]*model.Session
	panes    map[string]*model.Pane
	dismissed []string
}

func (f *fakeReadStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return f.sessions[id], nil
}

func (f *fakeReadStore) GetPane(ctx context.Context, id string) (*model.Pane, error) {
	return f.panes[id], nil
}

func (f *fakeReadStore) DismissEscalation(ctx context.Context, dedupeHash string) error {
	f.dismissed = append(f.dismissed, dedupeHash)
	return nil
}

func newTestActions(store *fakeReadStore, privacy config.PrivacyConfig, redaction config.RedactionConfig) *Actions {
	return NewActions(store, nil, "", redact.NewCaptureFilter(privacy), redact.New(redaction))
}

func TestPaneTargetFormatsSessionWindowPane(t *testing.T) {
	sess := &model.Session{Name: "work"}
	pane := &model.Pane{ExternalWindow: "2", DisplayIndex: 3}
	if got := paneTarget(sess, pane); got != "work:2.3" {
		t.Fatalf("expected work:2.3, got %q", got)
	}
}

func TestResolvePaneNotFound(t *testing.T) {
	store := &fakeReadStore{sessions: map[string]*model.Session{}, panes: map[string]*model.Pane{}}
	actions := newTestActions(store, config.PrivacyConfig{}, config.RedactionConfig{})

	_, _, err := actions.resolvePane(context.Background(), "missing-pane")
	if err == nil {
		t.Fatalf("expected an error for a missing pane")
	}
	rerr, ok := err.(*rpc.Error)
	if !ok {
		t.Fatalf("expected *rpc.Error, got %T", err)
	}
	if rerr.Code != rpc.CodeNotFound {
		t.Fatalf("expected CodeNotFound, got %s", rerr.Code)
	}
}

func TestResolvePaneOrphanedFromSession(t *testing.T) {
	store := &fakeReadStore{
		sessions: map[string]*model.Session{},
		panes:    map[string]*model.Pane{"p1": {ID: "p1", SessionID: "missing-session"}},
	}
	actions := newTestActions(store, config.PrivacyConfig{}, config.RedactionConfig{})

	_, _, err := actions.resolvePane(context.Background(), "p1")
	if err == nil {
		t.Fatalf("expected an error when the owning session is missing")
	}
	if rerr := err.(*rpc.Error); rerr.Code != rpc.CodeNotFound {
		t.Fatalf("expected CodeNotFound, got %s", rerr.Code)
	}
}

func TestSessionKillNotFound(t *testing.T) {
	store := &fakeReadStore{sessions: map[string]*model.Session{}}
	actions := newTestActions(store, config.PrivacyConfig{}, config.RedactionConfig{})

	err := actions.SessionKill(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected not-found error for missing session")
	}
	if rerr := err.(*rpc.Error); rerr.Code != rpc.CodeNotFound {
		t.Fatalf("expected CodeNotFound, got %s", rerr.Code)
	}
}

func TestPaneSendForbiddenOutsideCaptureAllowlist(t *testing.T) {
	store := &fakeReadStore{
		sessions: map[string]*model.Session{"s1": {ID: "s1", Name: "personal-journal"}},
		panes:    map[string]*model.Pane{"p1": {ID: "p1", SessionID: "s1", ExternalWindow: "0", DisplayIndex: 0}},
	}
	actions := newTestActions(store, config.PrivacyConfig{SessionCaptureAllowlist: []string{"work-*"}}, config.RedactionConfig{})

	err := actions.PaneSend(context.Background(), "p1", "echo hi")
	if err == nil {
		t.Fatalf("expected forbidden error for a session outside the allowlist")
	}
	if rerr := err.(*rpc.Error); rerr.Code != rpc.CodeForbidden {
		t.Fatalf("expected CodeForbidden, got %s", rerr.Code)
	}
}

func TestPaneOutputPreviewForbiddenOutsideCaptureAllowlist(t *testing.T) {
	store := &fakeReadStore{
		sessions: map[string]*model.Session{"s1": {ID: "s1", Name: "personal-journal"}},
		panes:    map[string]*model.Pane{"p1": {ID: "p1", SessionID: "s1"}},
	}
	actions := newTestActions(store, config.PrivacyConfig{SessionCaptureAllowlist: []string{"work-*"}}, config.RedactionConfig{})

	_, err := actions.PaneOutputPreview(context.Background(), "p1", 10, 100)
	if err == nil {
		t.Fatalf("expected forbidden error for a session outside the allowlist")
	}
	if rerr := err.(*rpc.Error); rerr.Code != rpc.CodeForbidden {
		t.Fatalf("expected CodeForbidden, got %s", rerr.Code)
	}
}

func TestDismissEscalationDelegatesToStore(t *testing.T) {
	store := &fakeReadStore{}
	actions := newTestActions(store, config.PrivacyConfig{}, config.RedactionConfig{})

	if err := actions.DismissEscalation(context.Background(), "hash123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.dismissed) != 1 || store.dismissed[0] != "hash123" {
		t.Fatalf("expected store.DismissEscalation to be called with hash123, got %v", store.dismissed)
	}
}

func TestAttachCommandNeverInvokesTmux(t *testing.T) {
	store := &fakeReadStore{
		sessions: map[string]*model.Session{"s1": {ID: "s1", Name: "work"}},
		panes:    map[string]*model.Pane{"p1": {ID: "p1", SessionID: "s1"}},
	}
	actions := NewActions(store, nil, "mysock", redact.NewCaptureFilter(config.PrivacyConfig{}), redact.New(config.RedactionConfig{}))

	cmd, err := actions.AttachCommand(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "tmux -L mysock attach-session -t work"
	if cmd != want {
		t.Fatalf("expected %q, got %q", want, cmd)
	}
}
