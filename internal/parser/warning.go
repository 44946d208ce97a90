// Package parser implements total decode functions for the three wire
// formats NTMD observes: pipe-delimited tmux pane rows, the higher-level
// manager's "robot" JSON, and its markdown summary. Every function here
// returns a partial result plus warnings — it never panics, even on
// adversarial input.
package parser

// Warning is a non-fatal decode problem: a row or field that could not be
// parsed, recorded instead of aborting the whole parse.
type Warning struct {
	Format  string
	Line    int
	Field   string
	Message string
}
