package parser

import "regexp"

// ansiPattern matches CSI and OSC escape sequences, ESC ( / ESC ) charset
// designations, and the two-byte ESC =, ESC >, ESC M and ESC c sequences; a
// lone ESC byte with nothing recognised after it is not matched. Stripping
// happens before any pattern matching, per the spec's parser contract.
var ansiPattern = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[a-zA-Z]|\][^\x07\x1b]*(?:\x07|\x1b\\)|[()][AB012]|[=>Mc])`)

// StripANSI removes terminal control sequences from s, leaving plain text
// for pattern matching. It is defensive against truncated/malformed
// sequences: an unterminated escape is left in place rather than consuming
// the rest of the string.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
