package detect

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/ntmd/ntmd/internal/model"
)

// EscalationObservation is one cycle's sampled tail plus the gating signals
// the reconciler already derived.
type EscalationObservation struct {
	PaneID       string
	SessionID    string
	ObservedAt   time.Time
	TailChunk    string // last ~2KB of sampled output, ANSI-stripped
	PromptLike   bool
	RecentActivity bool
	PromptCleared bool // reconciler evidence the prompt condition is gone
}

type escalationPaneState struct {
	lastFire   time.Time
	pendingID  string // last emitted event's dedupe hash, for resolve tracking
	pending    bool
}

// EscalationDetector implements the gated pattern match from §4.5: fires on
// a prompt-like tail plus recent activity, or a fatal/cannot-proceed
// phrase, with a 30s per-pane debounce and pending->resolved lifecycle.
type EscalationDetector struct {
	mu           sync.Mutex
	state        map[string]*escalationPaneState
	fatalPatterns []*regexp.Regexp
	debounce     time.Duration
	contextBytes int
}

func NewEscalationDetector(fatalPatterns []string, debounce time.Duration) *EscalationDetector {
	d := &EscalationDetector{
		state:        make(map[string]*escalationPaneState),
		debounce:     debounce,
		contextBytes: 100,
	}
	for _, p := range fatalPatterns {
		if re, err := regexp.Compile(p); err == nil {
			d.fatalPatterns = append(d.fatalPatterns, re)
		}
	}
	return d
}

// Observe returns a new escalation event, a resolve event for a pending one,
// or nothing.
func (d *EscalationDetector) Observe(obs EscalationObservation) (model.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.state[obs.PaneID]
	if !ok {
		st = &escalationPaneState{}
		d.state[obs.PaneID] = st
	}

	if st.pending && (obs.PromptCleared || !obs.PromptLike) {
		st.pending = false
		return model.Event{
			SessionID:  obs.SessionID,
			PaneID:     obs.PaneID,
			Type:       model.EventEscalation,
			DetectedAt: obs.ObservedAt,
			Origin:     model.OriginTail,
			Confidence: 1.0,
			Severity:   "info",
			Status:     model.EscalationResolved,
			Trigger:    model.TriggerAuto,
			Message:    "escalation resolved",
			DedupeHash: st.pendingID + "-resolved",
		}, true
	}

	if obs.ObservedAt.Sub(st.lastFire) < d.debounce {
		return model.Event{}, false
	}

	fatal := matchesAny(d.fatalPatterns, obs.TailChunk)
	gated := (obs.PromptLike && obs.RecentActivity) || fatal
	if !gated {
		return model.Event{}, false
	}

	st.lastFire = obs.ObservedAt
	st.pending = true
	context := lastNBytes(obs.TailChunk, d.contextBytes)
	payloadSubset := fmt.Sprintf("escalation:%s", context)
	hash := DedupeHash(model.EventEscalation, obs.PaneID, obs.ObservedAt, payloadSubset)
	st.pendingID = hash

	severity := "warning"
	if fatal {
		severity = "critical"
	}

	return model.Event{
		SessionID:  obs.SessionID,
		PaneID:     obs.PaneID,
		Type:       model.EventEscalation,
		DetectedAt: obs.ObservedAt,
		Origin:     model.OriginTail,
		Confidence: 0.8,
		Severity:   severity,
		Status:     model.EscalationPending,
		Trigger:    model.TriggerAuto,
		Message:    "escalation detected",
		Payload:    map[string]any{"context": context, "fatal": fatal},
		DedupeHash: hash,
	}, true
}

// ResolveOnPaneEnded force-resolves a pending escalation when its pane
// transitions to ended, per the Open Question decision in DESIGN.md: a
// killed pane must not leave a permanently pending escalation.
func (d *EscalationDetector) ResolveOnPaneEnded(paneID, sessionID string, at time.Time) (model.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.state[paneID]
	if !ok || !st.pending {
		return model.Event{}, false
	}
	st.pending = false
	return model.Event{
		SessionID:  sessionID,
		PaneID:     paneID,
		Type:       model.EventEscalation,
		DetectedAt: at,
		Origin:     model.OriginHeuristic,
		Confidence: 1.0,
		Severity:   "info",
		Status:     model.EscalationResolved,
		Trigger:    model.TriggerAuto,
		Message:    "escalation resolved (pane ended)",
		DedupeHash: st.pendingID + "-resolved",
	}, true
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func lastNBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
