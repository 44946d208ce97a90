package detect

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/ntmd/ntmd/internal/model"
)

// CompactObservation is one reconciler delta plus the sampled tail the
// compact detector needs to evaluate its three priorities.
type CompactObservation struct {
	PaneID        string
	SessionID     string
	ObservedAt    time.Time
	HasStructured bool
	CompactCount  int
	ContextTokens int64
	TailChunk     string // newly observed tail bytes this cycle, already ANSI-stripped
}

type compactPaneState struct {
	lastCompactCount int
	haveCompactCount bool
	lastContextTokens int64
	haveContextTokens bool
	lastPatternFire  time.Time
}

// CompactDetector implements the three-priority compact rule from §4.5.
type CompactDetector struct {
	mu       sync.Mutex
	state    map[string]*compactPaneState
	patterns []*regexp.Regexp
	debounce time.Duration
}

func NewCompactDetector(patterns []string, debounce time.Duration) *CompactDetector {
	d := &CompactDetector{state: make(map[string]*compactPaneState), debounce: debounce}
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			d.patterns = append(d.patterns, re)
		}
	}
	return d
}

// Observe evaluates one observation and returns an event if any priority
// fires. Priority 1 (structured counter increase) beats priority 2 (context
// drop) beats priority 3 (tail pattern, debounced).
func (d *CompactDetector) Observe(obs CompactObservation) (model.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.state[obs.PaneID]
	if !ok {
		st = &compactPaneState{}
		d.state[obs.PaneID] = st
	}

	if obs.HasStructured {
		priorCompact := st.lastCompactCount
		hadCompact := st.haveCompactCount
		priorContext := st.lastContextTokens
		hadContext := st.haveContextTokens

		st.lastCompactCount = obs.CompactCount
		st.haveCompactCount = true
		st.lastContextTokens = obs.ContextTokens
		st.haveContextTokens = true

		if hadCompact && obs.CompactCount > priorCompact {
			return d.emit(obs, 0.95, "structured-counter", priorContext, obs.ContextTokens), true
		}

		if hadContext && priorContext > 20000 {
			drop := priorContext - obs.ContextTokens
			ratio := float64(obs.ContextTokens) / float64(priorContext)
			if drop > 10000 && ratio < 0.25 {
				return d.emit(obs, 0.75, "context-drop", priorContext, obs.ContextTokens), true
			}
		}
	}

	if obs.TailChunk != "" && len(d.patterns) > 0 {
		if obs.ObservedAt.Sub(st.lastPatternFire) < d.debounce {
			return model.Event{}, false
		}
		for _, re := range d.patterns {
			if re.MatchString(obs.TailChunk) {
				st.lastPatternFire = obs.ObservedAt
				return d.emit(obs, 0.6, "tail-pattern", st.lastContextTokens, st.lastContextTokens), true
			}
		}
	}

	return model.Event{}, false
}

func (d *CompactDetector) emit(obs CompactObservation, confidence float64, reason string, contextBefore, contextAfter int64) model.Event {
	payloadSubset := fmt.Sprintf("%s:%d:%d", reason, contextBefore, contextAfter)
	return model.Event{
		SessionID:     obs.SessionID,
		PaneID:        obs.PaneID,
		Type:          model.EventCompact,
		DetectedAt:    obs.ObservedAt,
		Origin:        originFor(reason),
		Confidence:    confidence,
		Severity:      "info",
		Trigger:       model.TriggerAuto,
		Message:       fmt.Sprintf("compact detected (%s)", reason),
		ContextBefore: contextBefore,
		ContextAfter:  contextAfter,
		Payload:       map[string]any{"reason": reason},
		DedupeHash:    DedupeHash(model.EventCompact, obs.PaneID, obs.ObservedAt, payloadSubset),
	}
}

func originFor(reason string) model.EventOrigin {
	if reason == "tail-pattern" {
		return model.OriginTail
	}
	return model.OriginStructured
}
