package model

import "time"

// SessionStatus is the monotonic roll-up of a session's live panes.
type SessionStatus int

const (
	SessionActive SessionStatus = iota
	SessionWaiting
	SessionIdle
	SessionEnded
	SessionUnknown
)

var sessionStatusNames = map[SessionStatus]string{
	SessionActive:  "active",
	SessionWaiting: "waiting",
	SessionIdle:    "idle",
	SessionEnded:   "ended",
	SessionUnknown: "unknown",
}

var sessionStatusFromName = map[string]SessionStatus{
	"active":  SessionActive,
	"waiting": SessionWaiting,
	"idle":    SessionIdle,
	"ended":   SessionEnded,
	"unknown": SessionUnknown,
}

func (s SessionStatus) String() string {
	if v, ok := sessionStatusNames[s]; ok {
		return v
	}
	return "unknown"
}

func (s SessionStatus) MarshalJSON() ([]byte, error) { return marshalEnumString(s.String()) }

func (s *SessionStatus) UnmarshalJSON(data []byte) error {
	name, err := unmarshalEnumString(data)
	if err != nil {
		return err
	}
	if v, ok := sessionStatusFromName[name]; ok {
		*s = v
	}
	return nil
}

// Session is a logical grouping of panes under a Source. At most one
// non-ended session may exist per (Source, Name); a subsequent reuse of the
// same name starts a new row after the prior one is ended.
type Session struct {
	ID          string
	SourceID    string
	ExternalID  string // tmux session id, empty if never observed
	Name        string
	CreatedAt   time.Time
	LastSeenAt  time.Time
	EndedAt     time.Time
	Status      SessionStatus
	StatusReason string
	PaneCount   int
	Metadata    map[string]string

	Panes []*Pane `json:"panes,omitempty"`
}
