package parser

import "encoding/json"

// RobotSession is one entry in the manager's structured "robot" JSON status
// output — richer per-session metadata than the terse tmux row, including
// the compact counter and context-size metric that drive the compact
// detector's priority-1/priority-2 rules.
type RobotSession struct {
	SessionID      string `json:"session_id"`
	Name           string `json:"name"`
	AgentType      string `json:"agent_type"`
	CompactCount   int    `json:"compact_count"`
	ContextTokens  int64  `json:"context_tokens"`
	MaxContextTokens int64 `json:"max_context_tokens"`
	WorkingDir     string `json:"working_dir"`
	Branch         string `json:"branch"`
	LastPrompt     string `json:"last_prompt"`
}

type robotDocument struct {
	Sessions []json.RawMessage `json:"sessions"`
}

// ParseRobotJSON decodes the manager's structured status document. Each
// session entry is decoded independently: one malformed entry produces a
// Warning and is skipped, the rest of the document still parses. A
// top-level decode failure (not valid JSON at all) still returns an empty
// result plus one Warning rather than an error, keeping the function total.
func ParseRobotJSON(data []byte) ([]RobotSession, []Warning) {
	var doc robotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, []Warning{{Format: "robot", Message: "top-level document: " + err.Error()}}
	}

	var sessions []RobotSession
	var warnings []Warning
	for i, raw := range doc.Sessions {
		var s RobotSession
		if err := json.Unmarshal(raw, &s); err != nil {
			warnings = append(warnings, Warning{
				Format: "robot", Line: i,
				Message: "session entry: " + err.Error(),
			})
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, warnings
}
