package rpc

import (
	"context"
	"encoding/json"

	"github.com/ntmd/ntmd/internal/eventbus"
	"github.com/ntmd/ntmd/internal/model"
)

// methodGroup classifies a method for the token-class gate.
type methodGroup int

const (
	groupCore methodGroup = iota
	groupRead
	groupSubscription
	groupAdmin
	groupConvenience
)

type handlerFunc func(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, *Error)

type methodSpec struct {
	group   methodGroup
	handler handlerFunc
}

// Dispatcher is the single method table shared by every transport.
type Dispatcher struct {
	Store     ReadStore
	Bus       EventBus
	Actions   Actions
	Config    ConfigProvider
	Detectors DetectorsProvider
	Diag      Diagnostics

	InstanceID      string
	RunID           string
	Version         string
	ProtocolVersion int

	registry map[string]methodSpec
}

func NewDispatcher() *Dispatcher {
	d := &Dispatcher{registry: make(map[string]methodSpec)}
	d.register()
	return d
}

func (d *Dispatcher) register() {
	d.registry["health.get"] = methodSpec{groupCore, handleHealthGet}
	d.registry["capabilities.get"] = methodSpec{groupCore, handleCapabilitiesGet}
	d.registry["snapshot.get"] = methodSpec{groupCore, handleSnapshotGet}

	d.registry["sessions.list"] = methodSpec{groupRead, handleSessionsList}
	d.registry["sessions.get"] = methodSpec{groupRead, handleSessionsGet}
	d.registry["panes.get"] = methodSpec{groupRead, handlePanesGet}
	d.registry["panes.outputPreview"] = methodSpec{groupRead, handlePanesOutputPreview}
	d.registry["events.list"] = methodSpec{groupRead, handleEventsList}
	d.registry["stats.summary"] = methodSpec{groupRead, handleStatsSummary}
	d.registry["stats.hourly"] = methodSpec{groupRead, handleStatsHourly}
	d.registry["stats.daily"] = methodSpec{groupRead, handleStatsDaily}
	d.registry["escalations.list"] = methodSpec{groupRead, handleEscalationsList}

	// "subscribe" is listed here only so capabilities.get can enumerate it;
	// transports call Dispatcher.Subscribe directly rather than routing
	// through Dispatch, since the caller needs the live *eventbus.Subscription
	// handle, not just a JSON result.
	d.registry["subscribe"] = methodSpec{groupSubscription, nil}

	d.registry["config.get"] = methodSpec{groupAdmin, handleConfigGet}
	d.registry["config.set"] = methodSpec{groupAdmin, handleConfigSet}
	d.registry["config.reload"] = methodSpec{groupAdmin, handleConfigReload}
	d.registry["detectors.list"] = methodSpec{groupAdmin, handleDetectorsList}
	d.registry["detectors.reload"] = methodSpec{groupAdmin, handleDetectorsReload}
	d.registry["actions.sessionKill"] = methodSpec{groupAdmin, handleActionsSessionKill}
	d.registry["actions.paneSend"] = methodSpec{groupAdmin, handleActionsPaneSend}
	d.registry["escalations.dismiss"] = methodSpec{groupAdmin, handleEscalationsDismiss}

	d.registry["attach.command"] = methodSpec{groupConvenience, handleAttachCommand}
	d.registry["diagnostics.get"] = methodSpec{groupAdmin, handleDiagnosticsGet}
}

// requiredClass returns the minimum TokenClass a method's group requires.
func requiredClass(g methodGroup) TokenClass {
	switch g {
	case groupAdmin:
		return ClassAdmin
	case groupRead, groupSubscription, groupCore:
		return ClassRead
	default:
		return ClassRead
	}
}

// Dispatch routes req to its registered handler, gating on class, and
// always returns a well-formed Response (never panics on a malformed or
// unknown request).
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, class TokenClass) Response {
	spec, ok := d.registry[req.Method]
	if !ok {
		return errorResponse(req.ID, NewError(CodeUnsupported, "unknown method: "+req.Method).toObject())
	}
	if spec.handler == nil {
		return errorResponse(req.ID, NewError(CodeUnsupported, "method requires direct subscription handling: "+req.Method).toObject())
	}

	need := requiredClass(spec.group)
	if !classSatisfies(class, need) {
		return errorResponse(req.ID, NewError(CodeUnauthorized, "token class insufficient for "+req.Method).toObject())
	}

	result, rpcErr := spec.handler(ctx, d, req.Params)
	if rpcErr != nil {
		return errorResponse(req.ID, rpcErr.toObject())
	}
	return successResponse(req.ID, result)
}

func classSatisfies(have, need TokenClass) bool {
	if need == ClassRead {
		return have == ClassRead || have == ClassAdmin
	}
	return have >= need
}

// Subscribe is called directly by transports (not via Dispatch) for the
// "subscribe" method, since the caller needs the live channel handle.
func (d *Dispatcher) Subscribe(ctx context.Context, clientID string, sinceEventID int64) (*eventbus.Subscription, []model.Event, *Error) {
	sub, backlog, err := d.Bus.Subscribe(ctx, clientID, sinceEventID)
	if err != nil {
		return nil, nil, NewError(CodeStaleCursor, "cursor too old, call snapshot.get and resubscribe from its lastEventId")
	}
	return sub, backlog, nil
}
