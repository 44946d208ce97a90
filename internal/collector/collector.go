// Package collector runs the two cooperative polling loops described in the
// external-interfaces section: a fast metadata loop that samples tmux pane
// rows on a short interval, and an adaptive structured reconcile loop that
// additionally consults the optional higher-level session manager and feeds
// a full Snapshot through the reconciler and detector pipeline. Generalized
// from the teacher's single-ticker Monitor.Start/poll into a dual-rate loop
// per source, each backed by the command runner's per-category circuit
// breakers (tmux.fast, tmux.capture, manager.reconcile).
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ntmd/ntmd/internal/detect"
	"github.com/ntmd/ntmd/internal/execrunner"
	"github.com/ntmd/ntmd/internal/model"
	"github.com/ntmd/ntmd/internal/parser"
	"github.com/ntmd/ntmd/internal/reconcile"
)

const (
	categoryTmuxFast    = "tmux.fast"
	categoryTmuxCapture = "tmux.capture"
	categoryManager     = "manager.reconcile"

	tmuxListPanesFormat = "#{session_name}|#{window_index}|#{pane_index}|#{pane_pid}|#{pane_dead}|#{pane_current_command}|#{pane_title}"
)

// Sink is the subset of the store the collector needs to persist reconciler
// output. Kept narrow so tests can supply an in-memory fake.
type Sink interface {
	UpsertSource(ctx context.Context, src *model.Source) error
	UpsertSession(ctx context.Context, sess *model.Session) error
	UpsertPane(ctx context.Context, p *model.Pane) error
}

// EventPublisher is the subset of the event bus the collector needs.
type EventPublisher interface {
	Publish(ctx context.Context, events []model.Event) error
}

// ManagerClient is implemented by whatever optional NTM manager probe is
// configured; nil means the source has no manager backend and the
// reconcile loop runs on tmux data alone.
type ManagerClient interface {
	// RobotStatus returns the manager's structured JSON status document,
	// or a markdown summary fallback when the manager only exposes that.
	RobotStatus(ctx context.Context, runner *execrunner.Runner) ([]parser.RobotSession, []parser.Warning, error)
}

// Config bounds one source's polling cadence and detector tuning.
type Config struct {
	FastInterval       time.Duration
	ReconcileInterval  time.Duration
	IdleBackoffMax     time.Duration
	TmuxSocket         string
	CompactPatterns    []string
	EscalationPatterns []string
	CompactDebounce    time.Duration
	EscalationDebounce time.Duration
	ReconcileConfig    reconcile.Config
}

// Collector owns one Source's full pipeline: command execution, parsing,
// reconciliation, detection, and publication.
type Collector struct {
	cfg     Config
	source  *model.Source
	runner  *execrunner.Runner
	sink    Sink
	events  EventPublisher
	manager ManagerClient
	logger  *slog.Logger

	reconciler *reconcile.Reconciler
	compact    atomic.Pointer[detect.CompactDetector]
	escalation atomic.Pointer[detect.EscalationDetector]

	mu          sync.Mutex
	lastTail    map[string]string // paneKey -> last captured tail, for detector TailChunk diffing
	consecutiveIdleCycles int
}

func New(cfg Config, source *model.Source, runner *execrunner.Runner, sink Sink, events EventPublisher, manager ManagerClient, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		cfg:        cfg,
		source:     source,
		runner:     runner,
		sink:       sink,
		events:     events,
		manager:    manager,
		logger:     logger.With("source", source.ID, "socket", cfg.TmuxSocket),
		reconciler: reconcile.New(cfg.ReconcileConfig),
		lastTail:   make(map[string]string),
	}
	c.compact.Store(detect.NewCompactDetector(cfg.CompactPatterns, cfg.CompactDebounce))
	c.escalation.Store(detect.NewEscalationDetector(cfg.EscalationPatterns, cfg.EscalationDebounce))
	return c
}

// ReloadDetectors rebuilds the compact/escalation detectors from new
// pattern and debounce settings, atomically swapping them in. In-flight
// Observe calls on the old detectors complete against their own state;
// the next sample cycle picks up the new ones. Per-pane debounce/counter
// history is intentionally dropped on reload — it restarts clean rather
// than trying to migrate state into differently-tuned detectors.
func (c *Collector) ReloadDetectors(compactPatterns, escalationPatterns []string, compactDebounce, escalationDebounce time.Duration) {
	c.compact.Store(detect.NewCompactDetector(compactPatterns, compactDebounce))
	c.escalation.Store(detect.NewEscalationDetector(escalationPatterns, escalationDebounce))
}

// Run starts both loops and blocks until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.fastLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.reconcileLoop(ctx)
	}()
	wg.Wait()
}

// fastLoop samples tmux pane metadata at a short, fixed interval. It does
// not touch the reconciler's session/pane state table directly; its job is
// cheap liveness and tail-pattern sampling for the detectors, clamped to
// [250ms, 60s] per the polling contract.
func (c *Collector) fastLoop(ctx context.Context) {
	interval := clamp(c.cfg.FastInterval, 250*time.Millisecond, 60*time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sampleFast(ctx)
		}
	}
}

func (c *Collector) sampleFast(ctx context.Context) {
	rows, err := c.listPanes(ctx)
	if err != nil {
		c.noteRunError(err)
		return
	}
	now := time.Now()
	for _, row := range rows {
		paneKey := fmt.Sprintf("%s:%d:%d", row.SessionName, row.WindowIndex, row.PaneIndex)
		tail := parser.StripANSI(row.TailLine)

		c.mu.Lock()
		prevTail := c.lastTail[paneKey]
		c.lastTail[paneKey] = tail
		c.mu.Unlock()

		if tail == prevTail {
			continue
		}

		paneID := c.reconciler.PaneIDForExternal(c.source.ID, row.SessionName, "", row.PaneIndex, row.PanePID)
		sessionID := c.reconciler.SessionIDForExternal(c.source.ID, "", row.SessionName)
		if paneID == "" {
			continue
		}

		if ev, ok := c.escalation.Load().Observe(detect.EscalationObservation{
			PaneID:         paneID,
			SessionID:      sessionID,
			ObservedAt:     now,
			TailChunk:      tail,
			PromptLike:     looksPromptLike(tail),
			RecentActivity: tail != prevTail,
		}); ok {
			c.publish(ctx, ev)
		}

		if ev, ok := c.compact.Load().Observe(detect.CompactObservation{
			PaneID:     paneID,
			SessionID:  sessionID,
			ObservedAt: now,
			TailChunk:  tail,
		}); ok {
			c.publish(ctx, ev)
		}
	}
}

// reconcileLoop runs the adaptive structured loop: a full tmux listing plus
// optional manager status, merged into a Snapshot and applied to the
// reconciler. The interval doubles after every cycle that produced no
// events, up to IdleBackoffMax, and resets to ReconcileInterval after a
// cycle that produced events.
func (c *Collector) reconcileLoop(ctx context.Context) {
	interval := clamp(c.cfg.ReconcileInterval, 10*time.Second, 60*time.Second)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			changed := c.reconcileOnce(ctx)
			interval = c.nextInterval(interval, changed)
			timer.Reset(interval)
		}
	}
}

func (c *Collector) nextInterval(current time.Duration, changed bool) time.Duration {
	base := clamp(c.cfg.ReconcileInterval, 10*time.Second, 60*time.Second)
	max := c.cfg.IdleBackoffMax
	if max <= 0 {
		max = base
	}
	if changed {
		c.consecutiveIdleCycles = 0
		return base
	}
	c.consecutiveIdleCycles++
	next := current * 2
	if next > max {
		next = max
	}
	if next < base {
		next = base
	}
	return next
}

func (c *Collector) reconcileOnce(ctx context.Context) bool {
	rows, err := c.listPanes(ctx)
	degraded := c.runner.Degraded(categoryTmuxFast)
	if err != nil {
		c.noteRunError(err)
		degraded = true
	}

	snap := buildSnapshot(c.source.ID, rows, time.Now(), degraded)

	if c.manager != nil {
		if sessions, _, merr := c.manager.RobotStatus(ctx, c.runner); merr == nil {
			mergeRobotSessions(&snap, sessions)
		} else {
			c.noteRunError(merr)
		}
	}

	result := c.reconciler.Apply(snap)

	c.persist(ctx, result)

	for _, ev := range result.Events {
		c.publish(ctx, ev)
		if ev.Type == model.EventPaneStatus && ev.Payload["next"] == model.PaneEnded.String() {
			// A pane transitioning to ended must force-resolve any pending
			// escalation rather than leave it stuck forever.
			if resolved, ok := c.escalation.Load().ResolveOnPaneEnded(ev.PaneID, ev.SessionID, ev.DetectedAt); ok {
				c.publish(ctx, resolved)
			}
		}
	}

	for _, sess := range result.UpsertedSessions {
		for _, ev := range c.structuredCompactEvents(sess, snap, time.Now()) {
			c.publish(ctx, ev)
		}
	}

	return len(result.Events) > 0
}

// structuredCompactEvents runs the compact detector's structured path for
// every session that carried manager data this cycle.
func (c *Collector) structuredCompactEvents(sess *model.Session, snap reconcile.Snapshot, now time.Time) []model.Event {
	var out []model.Event
	for _, sobs := range snap.Sessions {
		if sobs.Name != sess.Name {
			continue
		}
		for _, pobs := range sobs.Panes {
			if !pobs.HasStructured {
				continue
			}
			paneID := c.reconciler.PaneIDForExternal(snap.SourceID, sobs.Name, pobs.ExternalPaneID, pobs.DisplayIndex, pobs.PID)
			if paneID == "" {
				continue
			}
			if ev, ok := c.compact.Load().Observe(detect.CompactObservation{
				PaneID:        paneID,
				SessionID:     sess.ID,
				ObservedAt:    now,
				HasStructured: true,
				CompactCount:  pobs.CompactCount,
				ContextTokens: pobs.ContextTokens,
			}); ok {
				out = append(out, ev)
			}
		}
	}
	return out
}

func (c *Collector) persist(ctx context.Context, result reconcile.Result) {
	for _, sess := range result.UpsertedSessions {
		if err := c.sink.UpsertSession(ctx, sess); err != nil {
			c.logger.Error("upsert session failed", "err", err, "session", sess.ID)
		}
	}
	for _, pane := range result.UpsertedPanes {
		if err := c.sink.UpsertPane(ctx, pane); err != nil {
			c.logger.Error("upsert pane failed", "err", err, "pane", pane.ID)
		}
	}
}

func (c *Collector) publish(ctx context.Context, ev model.Event) {
	if err := c.events.Publish(ctx, []model.Event{ev}); err != nil {
		c.logger.Error("publish event failed", "err", err, "type", ev.Type.String())
	}
}

func (c *Collector) listPanes(ctx context.Context) ([]parser.PaneRow, error) {
	args := []string{"list-panes", "-a", "-F", tmuxListPanesFormat}
	if c.cfg.TmuxSocket != "" {
		args = append([]string{"-L", c.cfg.TmuxSocket}, args...)
	}
	res, err := c.runner.Run(ctx, categoryTmuxFast, "tmux", args...)
	if err != nil {
		if rerr, ok := err.(*execrunner.Error); ok && rerr.Kind == execrunner.NoSessions {
			return nil, nil
		}
		return nil, err
	}
	rows, warnings := parser.ParseTmuxPanes(string(res.Stdout))
	for _, w := range warnings {
		c.logger.Debug("tmux parse warning", "msg", w.Message)
	}
	return rows, nil
}

func (c *Collector) noteRunError(err error) {
	rerr, ok := err.(*execrunner.Error)
	if !ok {
		c.logger.Error("command runner error", "err", err)
		return
	}
	switch rerr.Kind {
	case execrunner.NotInstalled, execrunner.ServerUnavailable:
		c.source.Status = model.SourceDisconnected
	case execrunner.Timeout, execrunner.OutputCapExceeded:
		c.source.Status = model.SourceDegraded
	default:
		c.source.Status = model.SourceDegraded
	}
	c.source.LastError = rerr.Error()
	c.logger.Warn("command runner degraded source", "kind", rerr.Kind, "err", rerr)
}

func buildSnapshot(sourceID string, rows []parser.PaneRow, now time.Time, degraded bool) reconcile.Snapshot {
	bySession := make(map[string]*reconcile.SessionObservation)
	var order []string
	for _, row := range rows {
		sobs, ok := bySession[row.SessionName]
		if !ok {
			sobs = &reconcile.SessionObservation{Name: row.SessionName}
			bySession[row.SessionName] = sobs
			order = append(order, row.SessionName)
		}
		sobs.Panes = append(sobs.Panes, reconcile.PaneObservation{
			ExternalWindow: fmt.Sprintf("%d", row.WindowIndex),
			SessionName:    row.SessionName,
			DisplayIndex:   row.PaneIndex,
			PID:            row.PanePID,
			Dead:           row.PaneDead,
			CurrentCommand: row.CurrentCommand,
			PromptLike:     looksPromptLike(parser.StripANSI(row.TailLine)),
			ActivePattern:  looksActivePattern(row.CurrentCommand),
			ObservedAt:     now,
		})
	}
	sort.Strings(order)
	snap := reconcile.Snapshot{SourceID: sourceID, ObservedAt: now, Degraded: degraded}
	for _, name := range order {
		snap.Sessions = append(snap.Sessions, *bySession[name])
	}
	return snap
}

// mergeRobotSessions folds manager-reported structured session data into an
// already-built tmux snapshot, matching by session name. Manager-only
// sessions (no corresponding tmux rows this cycle, e.g. detached) are added
// as pane-less session observations so they still get tracked.
func mergeRobotSessions(snap *reconcile.Snapshot, robots []parser.RobotSession) {
	byName := make(map[int]*reconcile.SessionObservation)
	for i := range snap.Sessions {
		byName[i] = &snap.Sessions[i]
	}
	nameIndex := make(map[string]int)
	for i, s := range snap.Sessions {
		nameIndex[s.Name] = i
	}

	for _, r := range robots {
		idx, ok := nameIndex[r.Name]
		if !ok {
			snap.Sessions = append(snap.Sessions, reconcile.SessionObservation{
				ExternalSessionID: r.SessionID,
				Name:              r.Name,
				Panes: []reconcile.PaneObservation{{
					SessionName:   r.Name,
					AgentType:     r.AgentType,
					HasStructured: true,
					CompactCount:  r.CompactCount,
					ContextTokens: r.ContextTokens,
					ObservedAt:    snap.ObservedAt,
				}},
			})
			continue
		}
		snap.Sessions[idx].ExternalSessionID = r.SessionID
		for i := range snap.Sessions[idx].Panes {
			snap.Sessions[idx].Panes[i].AgentType = r.AgentType
			snap.Sessions[idx].Panes[i].HasStructured = true
			snap.Sessions[idx].Panes[i].CompactCount = r.CompactCount
			snap.Sessions[idx].Panes[i].ContextTokens = r.ContextTokens
		}
	}
}

func looksPromptLike(tail string) bool {
	lower := strings.ToLower(tail)
	for _, p := range []string{"continue?", "(y/n)", "proceed?", "press enter", "waiting for"} {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func looksActivePattern(currentCommand string) bool {
	switch currentCommand {
	case "node", "python", "python3", "ruby":
		return true
	default:
		return false
	}
}

func clamp(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
