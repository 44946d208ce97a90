package redact

import (
	"strings"
	"testing"

	"github.com/ntmd/ntmd/internal/config"
)

func TestRedactReplacesConfiguredPatterns(t *testing.T) {
	r := New(config.RedactionConfig{
		Patterns:     []string{`sk-[a-zA-Z0-9]+`},
		Replacement:  "[redacted]",
		MaxScanBytes: 1024,
		ApplyTo:      []string{TargetOutputPreview},
	})

	out := r.Redact("token is sk-abc123 in the log line")
	if strings.Contains(out, "sk-abc123") {
		t.Fatalf("expected secret to be redacted, got %q", out)
	}
	if !strings.Contains(out, "[redacted]") {
		t.Fatalf("expected replacement text in output, got %q", out)
	}
}

func TestRedactPassesThroughBeyondScanCap(t *testing.T) {
	r := New(config.RedactionConfig{
		Patterns:     []string{`secret`},
		MaxScanBytes: 5,
		ApplyTo:      []string{TargetLogs},
	})

	in := "12345secret"
	out := r.Redact(in)
	if !strings.HasSuffix(out, "secret") {
		t.Fatalf("expected unscanned tail to pass through unredacted, got %q", out)
	}
}

func TestRedactSkipsUncompilablePatterns(t *testing.T) {
	r := New(config.RedactionConfig{
		Patterns: []string{"[", "ok"},
	})
	if len(r.patterns) != 1 {
		t.Fatalf("expected exactly one compiled pattern, got %d", len(r.patterns))
	}
}

func TestRedactorApplies(t *testing.T) {
	r := New(config.RedactionConfig{ApplyTo: []string{TargetOutputPreview, TargetLogs}})
	if !r.Applies(TargetOutputPreview) {
		t.Fatalf("expected output_preview to be a configured target")
	}
	if r.Applies(TargetDiagnosticsBundle) {
		t.Fatalf("diagnostics_bundle was not configured, Applies should be false")
	}
}

func TestCaptureFilterEmptyAllowlistAllowsAll(t *testing.T) {
	f := NewCaptureFilter(config.PrivacyConfig{})
	if !f.Allowed("anything") {
		t.Fatalf("empty allowlist must allow all session names")
	}
}

func TestCaptureFilterGlobMatch(t *testing.T) {
	f := NewCaptureFilter(config.PrivacyConfig{SessionCaptureAllowlist: []string{"work-*"}})
	if !f.Allowed("work-api") {
		t.Fatalf("expected work-api to match work-* glob")
	}
	if f.Allowed("personal-notes") {
		t.Fatalf("expected personal-notes to be rejected by work-* glob")
	}
}

func TestCaptureFilterShowBanner(t *testing.T) {
	f := NewCaptureFilter(config.PrivacyConfig{ShowCaptureBanner: true})
	if !f.ShowBanner() {
		t.Fatalf("expected ShowBanner to reflect config")
	}
}

func TestHashSessionIDStableAndShort(t *testing.T) {
	h1 := HashSessionID("session-123")
	h2 := HashSessionID("session-123")
	if h1 != h2 {
		t.Fatalf("expected hash to be stable across calls")
	}
	if len(h1) != 12 {
		t.Fatalf("expected 12 hex characters (6 bytes), got %d: %q", len(h1), h1)
	}
	if HashSessionID("other-session") == h1 {
		t.Fatalf("expected different session ids to hash differently")
	}
}
