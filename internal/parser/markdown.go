package parser

import (
	"strconv"
	"strings"
)

// MarkdownSummary is the result of decoding the manager's markdown status
// summary — a much looser format than the JSON one, used as a fallback when
// the manager only exposes a human-readable report.
type MarkdownSummary struct {
	Sessions []MarkdownSession
}

type MarkdownSession struct {
	Name    string
	Fields  map[string]string
}

// ParseMarkdownSummary decodes a sequence of "### <name>" headed sections,
// each followed by "key: value" lines, until the next heading or EOF.
// Lines that don't match either shape are ignored with a Warning; no input
// can cause this function to fail outright.
func ParseMarkdownSummary(text string) (MarkdownSummary, []Warning) {
	var summary MarkdownSummary
	var warnings []Warning
	var current *MarkdownSession

	for i, rawLine := range strings.Split(text, "\n") {
		lineNo := i + 1
		line := strings.TrimRight(StripANSI(rawLine), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "### ") {
			name := strings.TrimSpace(strings.TrimPrefix(trimmed, "### "))
			if name == "" {
				warnings = append(warnings, Warning{Format: "markdown", Line: lineNo, Message: "empty session heading"})
				continue
			}
			summary.Sessions = append(summary.Sessions, MarkdownSession{Name: name, Fields: map[string]string{}})
			current = &summary.Sessions[len(summary.Sessions)-1]
			continue
		}

		if current == nil {
			warnings = append(warnings, Warning{Format: "markdown", Line: lineNo, Message: "field line before any heading"})
			continue
		}

		key, value, ok := splitKeyValue(trimmed)
		if !ok {
			warnings = append(warnings, Warning{Format: "markdown", Line: lineNo, Message: "unrecognized line shape"})
			continue
		}
		current.Fields[key] = value
	}

	return summary, warnings
}

func splitKeyValue(line string) (key, value string, ok bool) {
	line = strings.TrimPrefix(line, "- ")
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

// FieldInt parses a field as an integer, returning 0 if absent or invalid.
func (s MarkdownSession) FieldInt(key string) int {
	v, ok := s.Fields[key]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
