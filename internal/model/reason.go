package model

// ReasonSchemaVersion tracks the enumeration below. Bump it only when adding
// a new reason string; never repurpose an existing one (clients may switch
// on it).
const ReasonSchemaVersion = 1

// Status-transition reason strings. These are a stable, string-typed
// enumeration (not an int) so new reasons can be added without breaking
// clients compiled against an older set.
const (
	ReasonDead            = "dead"
	ReasonPromptWait       = "prompt-wait"
	ReasonActivePattern    = "active-pattern"
	ReasonIdleTimeout      = "idle-timeout"
	ReasonMissedCycles     = "missed-cycles"
	ReasonDegradedSource   = "degraded-source"
	ReasonRollupFromPanes  = "rollup-from-panes"
	ReasonExternalIDLinked = "external-id-linked"
)
