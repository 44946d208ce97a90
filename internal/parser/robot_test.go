package parser

import "testing"

func TestParseRobotJSONWellFormed(t *testing.T) {
	data := []byte(`{"sessions":[
		{"session_id":"s1","name":"main","agent_type":"claude","compact_count":3,"context_tokens":310,"max_context_tokens":200000},
		{"session_id":"s2","name":"deploy","agent_type":"shell","compact_count":0}
	]}`)
	sessions, warnings := ParseRobotJSON(data)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", warnings)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].CompactCount != 3 || sessions[0].ContextTokens != 310 {
		t.Fatalf("session 0 decoded wrong: %+v", sessions[0])
	}
}

func TestParseRobotJSONSkipsMalformedEntry(t *testing.T) {
	data := []byte(`{"sessions":[{"session_id":"s1"}, 42, {"session_id":"s2"}]}`)
	sessions, warnings := ParseRobotJSON(data)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 valid sessions, got %d", len(sessions))
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(warnings))
	}
}

func TestParseRobotJSONTopLevelGarbage(t *testing.T) {
	sessions, warnings := ParseRobotJSON([]byte("not json at all"))
	if sessions != nil {
		t.Fatalf("expected nil sessions, got %+v", sessions)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(warnings))
	}
}
