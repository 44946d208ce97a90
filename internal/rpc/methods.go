package rpc

import (
	"context"
	"encoding/json"
)

// decodeParams unmarshals raw into dst, mapping any decode failure to
// INVALID_PARAMS rather than letting a malformed request panic or surface a
// raw JSON error.
func decodeParams(raw json.RawMessage, dst any) *Error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return NewError(CodeInvalidParams, "invalid params: "+err.Error())
	}
	return nil
}

// --- core ---

type HealthResult struct {
	Status          string `json:"status"` // ok | degraded
	InstanceID      string `json:"instanceId"`
	RunID           string `json:"runId"`
	Version         string `json:"version"`
	ProtocolVersion int    `json:"protocolVersion"`
}

func handleHealthGet(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	sources, err := d.Store.ListSources(ctx)
	if err != nil {
		return nil, NewError(CodeInternal, err.Error())
	}
	status := "ok"
	for _, src := range sources {
		if src.Status.String() != "ok" {
			status = "degraded"
			break
		}
	}
	return HealthResult{
		Status:          status,
		InstanceID:      d.InstanceID,
		RunID:           d.RunID,
		Version:         d.Version,
		ProtocolVersion: d.ProtocolVersion,
	}, nil
}

type CapabilitiesResult struct {
	ProtocolVersion int      `json:"protocolVersion"`
	Methods         []string `json:"methods"`
}

func handleCapabilitiesGet(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	methods := make([]string, 0, len(d.registry))
	for name := range d.registry {
		methods = append(methods, name)
	}
	return CapabilitiesResult{ProtocolVersion: d.ProtocolVersion, Methods: methods}, nil
}

type SnapshotResult struct {
	Sessions    []any `json:"sessions"`
	Events      []any `json:"events"`
	Stats       []any `json:"stats"`
	LastEventID int64 `json:"lastEventId"`
}

func handleSnapshotGet(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	sessions, err := d.Store.ListSessions(ctx, "")
	if err != nil {
		return nil, NewError(CodeInternal, err.Error())
	}
	lastID, err := d.Store.LatestEventID(ctx)
	if err != nil {
		return nil, NewError(CodeInternal, err.Error())
	}
	recent, err := d.Store.ReadEventsSince(ctx, 0, 500)
	if err != nil {
		return nil, NewError(CodeInternal, err.Error())
	}

	sessionsOut := make([]any, 0, len(sessions))
	for _, s := range sessions {
		sessionsOut = append(sessionsOut, s)
	}
	eventsOut := make([]any, 0, len(recent))
	for _, e := range recent {
		eventsOut = append(eventsOut, e)
	}

	return SnapshotResult{Sessions: sessionsOut, Events: eventsOut, Stats: nil, LastEventID: lastID}, nil
}

// --- read ---

type sourceIDParams struct {
	SourceID string `json:"sourceId"`
}

func handleSessionsList(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	var p sourceIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sessions, serr := d.Store.ListSessions(ctx, p.SourceID)
	if serr != nil {
		return nil, NewError(CodeInternal, serr.Error())
	}
	return sessions, nil
}

type sessionIDParams struct {
	SessionID string `json:"sessionId"`
}

func handleSessionsGet(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	var p sessionIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.SessionID == "" {
		return nil, NewError(CodeInvalidParams, "sessionId is required")
	}
	sess, serr := d.Store.GetSession(ctx, p.SessionID)
	if serr != nil {
		return nil, NewError(CodeInternal, serr.Error())
	}
	if sess == nil {
		return nil, NewError(CodeNotFound, "no such session")
	}
	panes, perr := d.Store.ListPanes(ctx, p.SessionID)
	if perr != nil {
		return nil, NewError(CodeInternal, perr.Error())
	}
	sess.Panes = panes
	return sess, nil
}

func handlePanesGet(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	var p struct {
		PaneID string `json:"paneId"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.PaneID == "" {
		return nil, NewError(CodeInvalidParams, "paneId is required")
	}
	pane, perr := d.Store.GetPane(ctx, p.PaneID)
	if perr != nil {
		return nil, NewError(CodeInternal, perr.Error())
	}
	if pane == nil {
		return nil, NewError(CodeNotFound, "no such pane")
	}
	return pane, nil
}

type outputPreviewResult struct {
	PaneID string `json:"paneId"`
	Text   string `json:"text"`
}

func handlePanesOutputPreview(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	var p struct {
		PaneID string `json:"paneId"`
		Lines  int    `json:"lines"`
		Bytes  int    `json:"bytes"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.PaneID == "" {
		return nil, NewError(CodeInvalidParams, "paneId is required")
	}
	if d.Actions == nil {
		return nil, NewError(CodeUnsupported, "on-demand capture not configured")
	}
	text, aerr := d.Actions.PaneOutputPreview(ctx, p.PaneID, p.Lines, p.Bytes)
	if aerr != nil {
		return nil, asError(aerr, CodeInternal)
	}
	return outputPreviewResult{PaneID: p.PaneID, Text: text}, nil
}

type eventsListResult struct {
	Events      []any `json:"events"`
	NextEventID int64 `json:"nextEventId"`
}

func handleEventsList(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	var p struct {
		SinceID int64 `json:"sinceId"`
		Limit   int   `json:"limit"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Limit <= 0 || p.Limit > 1000 {
		p.Limit = 200
	}
	events, eerr := d.Store.ReadEventsSince(ctx, p.SinceID, p.Limit)
	if eerr != nil {
		return nil, NewError(CodeInternal, eerr.Error())
	}
	next := p.SinceID
	out := make([]any, 0, len(events))
	for _, ev := range events {
		out = append(out, ev)
		if ev.ID > next {
			next = ev.ID
		}
	}
	return eventsListResult{Events: out, NextEventID: next + 1}, nil
}

func handleStatsSummary(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	var p sessionIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.SessionID == "" {
		return nil, NewError(CodeInvalidParams, "sessionId is required")
	}
	summary, serr := d.Store.StatsSummary(ctx, p.SessionID)
	if serr != nil {
		return nil, NewError(CodeInternal, serr.Error())
	}
	return summary, nil
}

func handleStatsHourly(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	var p struct {
		SessionID string `json:"sessionId"`
		Since     int64  `json:"sinceHour"`
		Until     int64  `json:"untilHour"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.SessionID == "" {
		return nil, NewError(CodeInvalidParams, "sessionId is required")
	}
	rows, serr := d.Store.StatsHourly(ctx, p.SessionID, p.Since, p.Until)
	if serr != nil {
		return nil, NewError(CodeInternal, serr.Error())
	}
	return rows, nil
}

func handleStatsDaily(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	var p struct {
		SessionID string `json:"sessionId"`
		Since     int64  `json:"sinceDay"`
		Until     int64  `json:"untilDay"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.SessionID == "" {
		return nil, NewError(CodeInvalidParams, "sessionId is required")
	}
	rows, serr := d.Store.StatsDaily(ctx, p.SessionID, p.Since, p.Until)
	if serr != nil {
		return nil, NewError(CodeInternal, serr.Error())
	}
	return rows, nil
}

func handleEscalationsList(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	var p struct {
		PendingOnly bool `json:"pendingOnly"`
		Limit       int  `json:"limit"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Limit <= 0 || p.Limit > 500 {
		p.Limit = 100
	}
	rows, eerr := d.Store.ListEscalations(ctx, p.PendingOnly, p.Limit)
	if eerr != nil {
		return nil, NewError(CodeInternal, eerr.Error())
	}
	return rows, nil
}

// --- admin ---

func handleConfigGet(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	if d.Config == nil {
		return nil, NewError(CodeUnsupported, "config provider not configured")
	}
	return d.Config.CurrentConfig(), nil
}

func handleConfigSet(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	if d.Config == nil {
		return nil, NewError(CodeUnsupported, "config provider not configured")
	}
	var patch map[string]any
	if err := decodeParams(params, &patch); err != nil {
		return nil, err
	}
	applied, aerr := d.Config.ApplyPatch(ctx, patch)
	if aerr != nil {
		return nil, NewError(CodeConflict, aerr.Error())
	}
	return applied, nil
}

func handleConfigReload(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	if d.Config == nil {
		return nil, NewError(CodeUnsupported, "config provider not configured")
	}
	cfg, rerr := d.Config.Reload(ctx)
	if rerr != nil {
		return nil, NewError(CodeInternal, rerr.Error())
	}
	return cfg, nil
}

func handleDetectorsList(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	if d.Detectors == nil {
		return nil, NewError(CodeUnsupported, "detectors provider not configured")
	}
	return d.Detectors.ListDetectors(), nil
}

func handleDetectorsReload(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	if d.Detectors == nil {
		return nil, NewError(CodeUnsupported, "detectors provider not configured")
	}
	infos, rerr := d.Detectors.ReloadDetectors(ctx)
	if rerr != nil {
		return nil, NewError(CodeInternal, rerr.Error())
	}
	return infos, nil
}

func handleDiagnosticsGet(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	if d.Diag == nil {
		return nil, NewError(CodeUnsupported, "diagnostics collector not configured")
	}
	bundle, err := d.Diag.Collect(ctx)
	if err != nil {
		return nil, NewError(CodeInternal, err.Error())
	}
	return bundle, nil
}

func handleActionsSessionKill(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	var p sessionIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.SessionID == "" {
		return nil, NewError(CodeInvalidParams, "sessionId is required")
	}
	if d.Actions == nil {
		return nil, NewError(CodeUnsupported, "actions not configured")
	}
	if aerr := d.Actions.SessionKill(ctx, p.SessionID); aerr != nil {
		return nil, asError(aerr, CodeInternal)
	}
	return map[string]bool{"ok": true}, nil
}

func handleActionsPaneSend(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	var p struct {
		PaneID string `json:"paneId"`
		Text   string `json:"text"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.PaneID == "" {
		return nil, NewError(CodeInvalidParams, "paneId is required")
	}
	if d.Actions == nil {
		return nil, NewError(CodeUnsupported, "actions not configured")
	}
	if aerr := d.Actions.PaneSend(ctx, p.PaneID, p.Text); aerr != nil {
		return nil, asError(aerr, CodeInternal)
	}
	return map[string]bool{"ok": true}, nil
}

func handleEscalationsDismiss(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	var p struct {
		DedupeHash string `json:"dedupeHash"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.DedupeHash == "" {
		return nil, NewError(CodeInvalidParams, "dedupeHash is required")
	}
	if d.Actions == nil {
		return nil, NewError(CodeUnsupported, "actions not configured")
	}
	if aerr := d.Actions.DismissEscalation(ctx, p.DedupeHash); aerr != nil {
		return nil, asError(aerr, CodeNotFound)
	}
	return map[string]bool{"ok": true}, nil
}

// --- convenience ---

func handleAttachCommand(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error) {
	var p struct {
		PaneID string `json:"paneId"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.PaneID == "" {
		return nil, NewError(CodeInvalidParams, "paneId is required")
	}
	if d.Actions == nil {
		return nil, NewError(CodeUnsupported, "actions not configured")
	}
	cmd, aerr := d.Actions.AttachCommand(ctx, p.PaneID)
	if aerr != nil {
		return nil, asError(aerr, CodeNotFound)
	}
	return map[string]string{"command": cmd}, nil
}
