package model

import "time"

// AgentType classifies the program a pane is believed to be running.
type AgentType int

const (
	AgentUnknown AgentType = iota
	AgentClaude
	AgentCodex
	AgentGemini
	AgentShell
)

var agentTypeNames = map[AgentType]string{
	AgentUnknown: "unknown",
	AgentClaude:  "claude",
	AgentCodex:   "codex",
	AgentGemini:  "gemini",
	AgentShell:   "shell",
}

var agentTypeFromName = map[string]AgentType{
	"unknown": AgentUnknown,
	"claude":  AgentClaude,
	"codex":   AgentCodex,
	"gemini":  AgentGemini,
	"shell":   AgentShell,
}

func (a AgentType) String() string {
	if v, ok := agentTypeNames[a]; ok {
		return v
	}
	return "unknown"
}

func (a AgentType) MarshalJSON() ([]byte, error) { return marshalEnumString(a.String()) }

func (a *AgentType) UnmarshalJSON(data []byte) error {
	name, err := unmarshalEnumString(data)
	if err != nil {
		return err
	}
	if v, ok := agentTypeFromName[name]; ok {
		*a = v
	}
	return nil
}

// PaneStatus is the reconciler-derived activity state of one pane.
type PaneStatus int

const (
	PaneActive PaneStatus = iota
	PaneWaiting
	PaneIdle
	PaneEnded
	PaneUnknown
)

var paneStatusNames = map[PaneStatus]string{
	PaneActive:  "active",
	PaneWaiting: "waiting",
	PaneIdle:    "idle",
	PaneEnded:   "ended",
	PaneUnknown: "unknown",
}

var paneStatusFromName = map[string]PaneStatus{
	"active":  PaneActive,
	"waiting": PaneWaiting,
	"idle":    PaneIdle,
	"ended":   PaneEnded,
	"unknown": PaneUnknown,
}

func (s PaneStatus) String() string {
	if v, ok := paneStatusNames[s]; ok {
		return v
	}
	return "unknown"
}

func (s PaneStatus) MarshalJSON() ([]byte, error) { return marshalEnumString(s.String()) }

func (s *PaneStatus) UnmarshalJSON(data []byte) error {
	name, err := unmarshalEnumString(data)
	if err != nil {
		return err
	}
	if v, ok := paneStatusFromName[name]; ok {
		*s = v
	}
	return nil
}

// Pane is a single terminal inside a Session. DisplayIndex is unstable across
// splits/reorders and is carried as data only — never used as identity.
type Pane struct {
	ID             string
	SessionID      string
	ExternalPaneID string
	ExternalWindow string
	PID            int
	DisplayIndex   int
	AgentType      AgentType
	CreatedAt      time.Time
	LastSeenAt     time.Time
	LastActivityAt time.Time
	EndedAt        time.Time
	CurrentCommand string
	Status         PaneStatus
	StatusReason   string

	// SyntheticKey is not set or cleared anywhere in this module: the
	// reconciler keeps its synthetic keys ("syn:<session id>-<display
	// index>-<pid>") in its own lookup table, not on the Pane.
	SyntheticKey string
}
