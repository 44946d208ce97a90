package supervise

import (
	"context"
	"fmt"
	"strings"

	"github.com/ntmd/ntmd/internal/execrunner"
	"github.com/ntmd/ntmd/internal/model"
	"github.com/ntmd/ntmd/internal/redact"
	"github.com/ntmd/ntmd/internal/rpc"
)

const categoryTmuxAction = "tmux.action"

// ReadStore is the subset of internal/store.Store the action surface needs
// to resolve RPC identifiers (session/pane ids) down to tmux targets.
type ReadStore interface {
	GetSession(ctx context.Context, id string) (*model.Session, error)
	GetPane(ctx context.Context, id string) (*model.Pane, error)
	DismissEscalation(ctx context.Context, dedupeHash string) error
}

// Actions implements rpc.Actions: the admin-class mutating methods
// (sessionKill, paneSend), the read-class pane output preview, escalation
// dismissal, and the attach.command convenience method. Grounded on the
// collector's tmux invocation pattern (internal/collector/collector.go's
// listPanes), generalized from read-only listing to targeted mutation.
type Actions struct {
	store    ReadStore
	runner   *execrunner.Runner
	tmuxSock string
	capture  *redact.CaptureFilter
	redactor *redact.Redactor
}

func NewActions(store ReadStore, runner *execrunner.Runner, tmuxSocket string, capture *redact.CaptureFilter, redactor *redact.Redactor) *Actions {
	return &Actions{store: store, runner: runner, tmuxSock: tmuxSocket, capture: capture, redactor: redactor}
}

func (a *Actions) tmuxArgs(args ...string) []string {
	if a.tmuxSock != "" {
		return append([]string{"-L", a.tmuxSock}, args...)
	}
	return args
}

// paneTarget builds the "session:window.pane" tmux target string for a
// resolved pane, since tmux identifies panes positionally rather than by
// the durable ids NTMD tracks internally.
func paneTarget(sess *model.Session, pane *model.Pane) string {
	return fmt.Sprintf("%s:%s.%d", sess.Name, pane.ExternalWindow, pane.DisplayIndex)
}

func (a *Actions) resolvePane(ctx context.Context, paneID string) (*model.Session, *model.Pane, error) {
	pane, err := a.store.GetPane(ctx, paneID)
	if err != nil {
		return nil, nil, err
	}
	if pane == nil {
		return nil, nil, rpc.NewError(rpc.CodeNotFound, "pane not found")
	}
	sess, err := a.store.GetSession(ctx, pane.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		return nil, nil, rpc.NewError(rpc.CodeNotFound, "owning session not found")
	}
	return sess, pane, nil
}

// SessionKill runs `tmux kill-session` against the resolved session's name.
func (a *Actions) SessionKill(ctx context.Context, sessionID string) error {
	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return rpc.NewError(rpc.CodeNotFound, "session not found")
	}
	_, err = a.runner.Run(ctx, categoryTmuxAction, "tmux", a.tmuxArgs("kill-session", "-t", sess.Name)...)
	return err
}

// PaneSend runs `tmux send-keys` against the resolved pane's target,
// followed by Enter, matching how an interactive operator would submit
// text at a prompt.
func (a *Actions) PaneSend(ctx context.Context, paneID, text string) error {
	sess, pane, err := a.resolvePane(ctx, paneID)
	if err != nil {
		return err
	}
	target := paneTarget(sess, pane)
	if !a.capture.Allowed(sess.Name) {
		return rpc.NewError(rpc.CodeForbidden, "session is excluded from the capture allowlist")
	}
	_, err = a.runner.Run(ctx, categoryTmuxAction, "tmux", a.tmuxArgs("send-keys", "-t", target, text, "Enter")...)
	return err
}

// PaneOutputPreview runs `tmux capture-pane` against the resolved pane and
// returns the trailing lines/bytes, redacted per the configured patterns.
func (a *Actions) PaneOutputPreview(ctx context.Context, paneID string, lines, bytes int) (string, error) {
	sess, pane, err := a.resolvePane(ctx, paneID)
	if err != nil {
		return "", err
	}
	if !a.capture.Allowed(sess.Name) {
		return "", rpc.NewError(rpc.CodeForbidden, "session is excluded from the capture allowlist")
	}
	target := paneTarget(sess, pane)
	if lines <= 0 {
		lines = 200
	}
	res, err := a.runner.Run(ctx, categoryTmuxAction, "tmux",
		a.tmuxArgs("capture-pane", "-t", target, "-p", "-S", fmt.Sprintf("-%d", lines))...)
	if err != nil {
		return "", err
	}
	out := string(res.Stdout)
	if bytes > 0 && len(out) > bytes {
		out = out[len(out)-bytes:]
	}
	if a.redactor.Applies(redact.TargetOutputPreview) {
		out = a.redactor.Redact(out)
	}
	return out, nil
}

// DismissEscalation marks a pending escalation resolved by operator action.
func (a *Actions) DismissEscalation(ctx context.Context, dedupeHash string) error {
	if err := a.store.DismissEscalation(ctx, dedupeHash); err != nil {
		return err
	}
	return nil
}

// AttachCommand returns the host-side `tmux attach` invocation a client can
// run locally to attach to the pane's session, honoring the configured
// socket. This never runs anything itself — it is the convenience method
// spec.md describes for handing a ready-made command back to the caller.
func (a *Actions) AttachCommand(ctx context.Context, paneID string) (string, error) {
	sess, _, err := a.resolvePane(ctx, paneID)
	if err != nil {
		return "", err
	}
	parts := []string{"tmux"}
	if a.tmuxSock != "" {
		parts = append(parts, "-L", a.tmuxSock)
	}
	parts = append(parts, "attach-session", "-t", sess.Name)
	return strings.Join(parts, " "), nil
}
