package parser

import (
	"strconv"
	"strings"
)

// PaneRow is one decoded line of tmux's pipe-delimited list-panes output.
// Fields map 1:1 to a fixed format string configured by the collector;
// unexpected field counts or unparsable integers degrade to a warning
// rather than aborting the whole batch.
type PaneRow struct {
	SessionName string
	WindowIndex int
	PaneIndex   int
	PanePID     int
	PaneDead    bool
	CurrentCommand string
	// ContextPercentHint carries the raw "C:<n>%" field verbatim when
	// present. Per the spec's open question, its meaning (context fullness
	// vs. compact indicator) is unspecified upstream — detectors must treat
	// it as a hint only, never authoritative.
	ContextPercentHint string
	TailLine           string
}

const paneRowFieldCount = 7

// ParseTmuxPanes decodes the pipe-delimited tmux list-panes output produced
// by the collector's fixed format string:
//
//	session|window_index|pane_index|pane_pid|pane_dead|current_command|pane_title
//
// The trailing pane_title field, stored as PaneRow.TailLine, may itself
// contain pipes and is never split further. Malformed lines are skipped with a
// Warning; the function always returns whatever rows it could parse.
func ParseTmuxPanes(output string) ([]PaneRow, []Warning) {
	var rows []PaneRow
	var warnings []Warning

	for i, line := range strings.Split(output, "\n") {
		lineNo := i + 1
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, "|", paneRowFieldCount)
		if len(fields) < paneRowFieldCount-1 {
			warnings = append(warnings, Warning{
				Format: "tmux", Line: lineNo,
				Message: "fewer than expected fields in pane row",
			})
			continue
		}

		winIdx, err := strconv.Atoi(fields[1])
		if err != nil {
			warnings = append(warnings, Warning{Format: "tmux", Line: lineNo, Field: "window_index", Message: err.Error()})
			continue
		}
		paneIdx, err := strconv.Atoi(fields[2])
		if err != nil {
			warnings = append(warnings, Warning{Format: "tmux", Line: lineNo, Field: "pane_index", Message: err.Error()})
			continue
		}
		pid, err := strconv.Atoi(fields[3])
		if err != nil {
			warnings = append(warnings, Warning{Format: "tmux", Line: lineNo, Field: "pane_pid", Message: err.Error()})
			continue
		}

		row := PaneRow{
			SessionName:    fields[0],
			WindowIndex:    winIdx,
			PaneIndex:      paneIdx,
			PanePID:        pid,
			PaneDead:       fields[4] == "1",
			CurrentCommand: fields[5],
		}
		if len(fields) > 6 {
			tail := fields[6]
			row.ContextPercentHint, row.TailLine = extractContextHint(tail)
		}
		rows = append(rows, row)
	}

	return rows, warnings
}

// extractContextHint pulls a leading "C:<n>%" marker off a tail line if
// present, returning the hint and the remaining text.
func extractContextHint(tail string) (hint string, rest string) {
	trimmed := strings.TrimSpace(StripANSI(tail))
	if strings.HasPrefix(trimmed, "C:") {
		if idx := strings.IndexByte(trimmed, '%'); idx > 0 {
			return trimmed[:idx+1], strings.TrimSpace(trimmed[idx+1:])
		}
	}
	return "", tail
}
