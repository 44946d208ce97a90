package reconcile

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ntmd/ntmd/internal/model"
)

// Config bounds the reconciler's status-derivation thresholds.
type Config struct {
	// IdleThreshold is how long since last activity before a pane is
	// considered idle rather than active.
	IdleThreshold time.Duration
	// PromptWindow is how recently activity must have occurred for a
	// prompt-like tail to count as "waiting" rather than "idle".
	PromptWindow time.Duration
	// EndedAfterMissedCycles is K in the spec: a row only transitions to
	// ended after this many consecutive cycles without being observed.
	EndedAfterMissedCycles int
}

func DefaultConfig() Config {
	return Config{
		IdleThreshold:          5 * time.Minute,
		PromptWindow:           5 * time.Minute,
		EndedAfterMissedCycles: 3,
	}
}

type trackedPane struct {
	pane         *model.Pane
	key          string
	hasExternal  bool
	missedCycles int
}

type trackedSession struct {
	session      *model.Session
	panes        map[string]*trackedPane // keyed by pane.key
	missedCycles int
}

// Reconciler holds the live (source, session, pane) state table it was
// built from and applies successive Snapshots to it, in the manner of the
// teacher's Monitor.tracked map — generalized from one flat session map to
// the session/pane hierarchy and the spec's keying and ended rules.
type Reconciler struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*trackedSession // keyed by session identity key
}

func New(cfg Config) *Reconciler {
	return &Reconciler{cfg: cfg, sessions: make(map[string]*trackedSession)}
}

// Result is everything produced by one Apply call.
type Result struct {
	UpsertedSessions []*model.Session
	UpsertedPanes    []*model.Pane
	Events           []model.Event
}

func sessionKey(sourceID, externalID, name string) string {
	if externalID != "" {
		return "ext:" + sourceID + "|" + externalID
	}
	return "name:" + sourceID + "|" + name
}

// Apply reconciles one Snapshot against the reconciler's current state and
// returns the resulting upserts and events. It is deterministic: applying
// the same snapshot twice yields no new events on the second application.
func (r *Reconciler) Apply(snap Snapshot) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res Result
	seenSessionKeys := make(map[string]bool)

	for _, sobs := range snap.Sessions {
		key := sessionKey(snap.SourceID, sobs.ExternalSessionID, sobs.Name)
		seenSessionKeys[key] = true

		ts, existed := r.sessions[key]
		if !existed {
			sess := &model.Session{
				ID:         model.NewID(),
				SourceID:   snap.SourceID,
				ExternalID: sobs.ExternalSessionID,
				Name:       sobs.Name,
				CreatedAt:  snap.ObservedAt,
				LastSeenAt: snap.ObservedAt,
				Status:     model.SessionUnknown,
			}
			ts = &trackedSession{session: sess, panes: make(map[string]*trackedPane)}
			r.sessions[key] = ts
		} else if ts.session.ExternalID == "" && sobs.ExternalSessionID != "" {
			ts.session.ExternalID = sobs.ExternalSessionID
		}

		ts.session.LastSeenAt = snap.ObservedAt
		ts.missedCycles = 0

		seenPaneKeys := make(map[string]bool)
		for _, pobs := range sobs.Panes {
			tp := r.upsertPane(ts, pobs, snap.ObservedAt)
			seenPaneKeys[tp.key] = true

			if ev, ok := r.derivePaneStatus(ts.session, tp, pobs, snap.ObservedAt); ok {
				res.Events = append(res.Events, ev)
			}
			res.UpsertedPanes = append(res.UpsertedPanes, tp.pane)
		}

		// Panes not observed this cycle: bump miss counters, end after K.
		for pkey, tp := range ts.panes {
			if seenPaneKeys[pkey] {
				continue
			}
			tp.missedCycles++
			if tp.missedCycles >= r.cfg.EndedAfterMissedCycles && !snap.Degraded && tp.pane.Status != model.PaneEnded {
				prior := tp.pane.Status
				tp.pane.Status = model.PaneEnded
				tp.pane.StatusReason = model.ReasonMissedCycles
				tp.pane.EndedAt = snap.ObservedAt
				res.Events = append(res.Events, paneStatusEvent(ts.session.ID, tp.pane, prior, snap.ObservedAt))
			}
		}

		priorSessionStatus := ts.session.Status
		ts.session.Status = rollupSessionStatus(ts)
		ts.session.PaneCount = len(ts.panes)
		if ts.session.Status != priorSessionStatus {
			ts.session.StatusReason = model.ReasonRollupFromPanes
			res.Events = append(res.Events, sessionStatusEvent(ts.session, priorSessionStatus, snap.ObservedAt))
		}

		res.UpsertedSessions = append(res.UpsertedSessions, ts.session)
	}

	// Sessions belonging to this source not observed this cycle.
	for key, ts := range r.sessions {
		if ts.session.SourceID != snap.SourceID || seenSessionKeys[key] {
			continue
		}
		ts.missedCycles++
		if ts.missedCycles >= r.cfg.EndedAfterMissedCycles && !snap.Degraded && ts.session.Status != model.SessionEnded {
			prior := ts.session.Status
			ts.session.Status = model.SessionEnded
			ts.session.StatusReason = model.ReasonMissedCycles
			ts.session.EndedAt = snap.ObservedAt
			res.Events = append(res.Events, sessionStatusEvent(ts.session, prior, snap.ObservedAt))
			res.UpsertedSessions = append(res.UpsertedSessions, ts.session)
		}
	}

	return res
}

// upsertPane finds or creates the tracked pane for pobs within ts, applying
// the keying rule: external pane id when present, else a synthetic key
// derived from (session id, display index, pid) that is atomically
// replaced once an external id appears. The pane's creation time is not
// part of the synthetic key.
func (r *Reconciler) upsertPane(ts *trackedSession, pobs PaneObservation, now time.Time) *trackedPane {
	var lookupKey string
	if pobs.ExternalPaneID != "" {
		lookupKey = "ext:" + pobs.ExternalPaneID
	}

	if lookupKey != "" {
		if tp, ok := ts.panes[lookupKey]; ok {
			applyObservation(tp.pane, pobs, now)
			tp.missedCycles = 0
			return tp
		}
		// Might already be tracked under a synthetic key from a prior cycle
		// that had no external id yet; find it by display index and splice
		// the external id in atomically.
		for oldKey, tp := range ts.panes {
			if !tp.hasExternal && tp.pane.DisplayIndex == pobs.DisplayIndex {
				delete(ts.panes, oldKey)
				tp.key = lookupKey
				tp.hasExternal = true
				tp.pane.ExternalPaneID = pobs.ExternalPaneID
				tp.pane.StatusReason = model.ReasonExternalIDLinked
				applyObservation(tp.pane, pobs, now)
				tp.missedCycles = 0
				ts.panes[lookupKey] = tp
				return tp
			}
		}
	} else {
		lookupKey = "syn:" + fmt.Sprintf("%s-%d-%d", ts.session.ID, pobs.DisplayIndex, pobs.PID)
		if tp, ok := ts.panes[lookupKey]; ok {
			applyObservation(tp.pane, pobs, now)
			tp.missedCycles = 0
			return tp
		}
	}

	pane := &model.Pane{
		ID:             model.NewID(),
		SessionID:      ts.session.ID,
		ExternalPaneID: pobs.ExternalPaneID,
		ExternalWindow: pobs.ExternalWindow,
		DisplayIndex:   pobs.DisplayIndex,
		CreatedAt:      now,
		Status:         model.PaneUnknown,
	}
	applyObservation(pane, pobs, now)
	tp := &trackedPane{pane: pane, key: lookupKey, hasExternal: pobs.ExternalPaneID != ""}
	ts.panes[lookupKey] = tp
	return tp
}

func applyObservation(p *model.Pane, pobs PaneObservation, now time.Time) {
	p.LastSeenAt = now
	p.PID = pobs.PID
	p.CurrentCommand = pobs.CurrentCommand
	if pobs.AgentType != "" {
		if at, ok := parseAgentType(pobs.AgentType); ok {
			p.AgentType = at
		}
	}
	if pobs.ActivePattern || pobs.PromptLike || pobs.HasStructured {
		p.LastActivityAt = now
	}
}

func parseAgentType(s string) (model.AgentType, bool) {
	switch strings.ToLower(s) {
	case "claude":
		return model.AgentClaude, true
	case "codex":
		return model.AgentCodex, true
	case "gemini":
		return model.AgentGemini, true
	case "shell":
		return model.AgentShell, true
	default:
		return model.AgentUnknown, false
	}
}

// derivePaneStatus implements the §4.4 status-derivation table: dead flag
// wins outright; otherwise prompt-like-and-recent beats active-pattern,
// which beats the idle-threshold comparison.
func (r *Reconciler) derivePaneStatus(sess *model.Session, tp *trackedPane, pobs PaneObservation, now time.Time) (model.Event, bool) {
	p := tp.pane
	prior := p.Status

	var next model.PaneStatus
	var reason string

	switch {
	case pobs.Dead:
		next, reason = model.PaneEnded, model.ReasonDead
	case pobs.PromptLike && now.Sub(p.LastActivityAt) <= r.cfg.PromptWindow:
		next, reason = model.PaneWaiting, model.ReasonPromptWait
	case pobs.ActivePattern || now.Sub(p.LastActivityAt) <= r.cfg.IdleThreshold:
		next, reason = model.PaneActive, model.ReasonActivePattern
	default:
		next, reason = model.PaneIdle, model.ReasonIdleTimeout
	}

	p.Status = next
	p.StatusReason = reason
	if next == model.PaneEnded && p.EndedAt.IsZero() {
		p.EndedAt = now
	}

	if next == prior {
		return model.Event{}, false
	}
	return paneStatusEvent(sess.ID, p, prior, now), true
}

func rollupSessionStatus(ts *trackedSession) model.SessionStatus {
	sawLive := false
	anyWaiting := false
	for _, tp := range ts.panes {
		switch tp.pane.Status {
		case model.PaneActive:
			return model.SessionActive
		case model.PaneWaiting:
			anyWaiting = true
			sawLive = true
		case model.PaneIdle:
			sawLive = true
		}
	}
	if anyWaiting {
		return model.SessionWaiting
	}
	if sawLive {
		return model.SessionIdle
	}
	return model.SessionEnded
}

func paneStatusEvent(sessionID string, p *model.Pane, prior model.PaneStatus, now time.Time) model.Event {
	return model.Event{
		SessionID:  sessionID,
		PaneID:     p.ID,
		Type:       model.EventPaneStatus,
		DetectedAt: now,
		Origin:     model.OriginStructured,
		Confidence: 1.0,
		Severity:   "info",
		Trigger:    model.TriggerAuto,
		Message:    fmt.Sprintf("pane %s -> %s (%s)", prior, p.Status, p.StatusReason),
		Payload: map[string]any{
			"prior":  prior.String(),
			"next":   p.Status.String(),
			"reason": p.StatusReason,
		},
	}
}

func sessionStatusEvent(s *model.Session, prior model.SessionStatus, now time.Time) model.Event {
	return model.Event{
		SessionID:  s.ID,
		Type:       model.EventSessionStatus,
		DetectedAt: now,
		Origin:     model.OriginStructured,
		Confidence: 1.0,
		Severity:   "info",
		Trigger:    model.TriggerAuto,
		Message:    fmt.Sprintf("session %s -> %s (%s)", prior, s.Status, s.StatusReason),
		Payload: map[string]any{
			"prior":  prior.String(),
			"next":   s.Status.String(),
			"reason": s.StatusReason,
		},
	}
}

// SessionIDForExternal returns the durable session ID already tracked for
// (sourceID, externalSessionID, name), or "" if no such session has been
// reconciled yet. Read-only: never creates state, used by the fast loop to
// attach detector observations to an id without racing the reconcile loop.
func (r *Reconciler) SessionIDForExternal(sourceID, externalSessionID, name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ts, ok := r.sessions[sessionKey(sourceID, externalSessionID, name)]; ok {
		return ts.session.ID
	}
	return ""
}

// PaneIDForExternal returns the durable pane ID already tracked under the
// given session for the supplied keying fields, or "" if not yet known.
// Mirrors upsertPane's lookup order (external id, else synthetic key) but
// never creates a new tracked pane.
func (r *Reconciler) PaneIDForExternal(sourceID, sessionName, externalPaneID string, displayIndex, pid int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ts *trackedSession
	for _, candidate := range r.sessions {
		if candidate.session.SourceID == sourceID && candidate.session.Name == sessionName {
			ts = candidate
			break
		}
	}
	if ts == nil {
		return ""
	}

	if externalPaneID != "" {
		if tp, ok := ts.panes["ext:"+externalPaneID]; ok {
			return tp.pane.ID
		}
	}
	synKey := "syn:" + fmt.Sprintf("%s-%d-%d", ts.session.ID, displayIndex, pid)
	if tp, ok := ts.panes[synKey]; ok {
		return tp.pane.ID
	}
	for _, tp := range ts.panes {
		if !tp.hasExternal && tp.pane.DisplayIndex == displayIndex {
			return tp.pane.ID
		}
	}
	return ""
}
