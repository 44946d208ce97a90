package parser

import (
	"strings"
	"testing"
)

func TestParseTmuxPanesWellFormed(t *testing.T) {
	input := "main|0|0|1234|0|node|C:42% $ \n" +
		"main|0|1|1235|1|bash|\n"

	rows, warnings := ParseTmuxPanes(input)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", warnings)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].SessionName != "main" || rows[0].PanePID != 1234 {
		t.Fatalf("row 0 decoded wrong: %+v", rows[0])
	}
	if rows[0].ContextPercentHint != "C:42%" {
		t.Fatalf("context hint not extracted: %+v", rows[0])
	}
	if !rows[1].PaneDead {
		t.Fatalf("row 1 should be dead")
	}
}

func TestParseTmuxPanesSkipsMalformedLines(t *testing.T) {
	input := "main|0|0|1234|0|node|ok\n" +
		"garbage line with too few fields\n" +
		"main|x|0|1234|0|node|\n"

	rows, warnings := ParseTmuxPanes(input)
	if len(rows) != 1 {
		t.Fatalf("expected 1 valid row, got %d (%+v)", len(rows), rows)
	}
	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %d (%+v)", len(warnings), warnings)
	}
}

func TestParseTmuxPanesNeverPanics(t *testing.T) {
	adversarial := []string{
		"",
		"|||||\n",
		"\x00\x01\x02|0|0|1|0|x|\n",
		"main|99999999999999999999|0|1|0|x|\n",
		strings.Repeat("a|", 5000) + "1|2|3|4\n",
	}
	for _, in := range adversarial {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("ParseTmuxPanes panicked on %q: %v", in, r)
				}
			}()
			ParseTmuxPanes(in)
		}()
	}
}
