// Package redact applies the privacy/redaction supplement: regex-based
// text scrubbing with targets for output_preview, diagnostics bundles and
// log lines, plus a session-name capture allowlist and session-id
// hashing. Grounded on the teacher's
// session.PrivacyFilter (internal/session/privacy.go), generalized from
// masking a single SessionState to scrubbing arbitrary captured text and
// gating capture by session-name glob.
package redact

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/ntmd/ntmd/internal/config"
)

// Redactor scans text for configured patterns and replaces matches before
// the text leaves the process boundary.
type Redactor struct {
	patterns     []*regexp.Regexp
	replacement  string
	maxScanBytes int
	applyTo      map[string]bool
}

// Target names match config.RedactionConfig.ApplyTo entries.
const (
	TargetOutputPreview    = "output_preview"
	TargetDiagnosticsBundle = "diagnostics_bundle"
	TargetLogs             = "logs"
)

// New builds a Redactor from validated config. Patterns that fail to
// compile are skipped rather than aborting construction — a single bad
// regex in a hand-edited config file shouldn't take down redaction
// entirely, just narrow its coverage.
func New(cfg config.RedactionConfig) *Redactor {
	r := &Redactor{
		replacement:  cfg.Replacement,
		maxScanBytes: cfg.MaxScanBytes,
		applyTo:      make(map[string]bool, len(cfg.ApplyTo)),
	}
	if r.replacement == "" {
		r.replacement = "[redacted]"
	}
	for _, t := range cfg.ApplyTo {
		r.applyTo[t] = true
	}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		r.patterns = append(r.patterns, re)
	}
	return r
}

// Applies reports whether target is configured to receive redaction.
func (r *Redactor) Applies(target string) bool {
	return r.applyTo[target]
}

// Redact scans s (capped at maxScanBytes) and replaces every pattern match
// with the configured replacement string. Text beyond the scan cap is
// passed through unscanned rather than dropped — redaction narrows
// exposure, it doesn't promise exhaustive coverage of unbounded input.
func (r *Redactor) Redact(s string) string {
	if len(r.patterns) == 0 {
		return s
	}
	scan := s
	rest := ""
	if r.maxScanBytes > 0 && len(s) > r.maxScanBytes {
		scan = s[:r.maxScanBytes]
		rest = s[r.maxScanBytes:]
	}
	for _, re := range r.patterns {
		scan = re.ReplaceAllString(scan, r.replacement)
	}
	return scan + rest
}

// CaptureFilter gates whether a session's output may be captured at all
// and carries the capture-banner flag, per config.Privacy. It masks no
// identifiers; HashSessionID is a separate function.
type CaptureFilter struct {
	allowlist  []string
	showBanner bool
}

func NewCaptureFilter(cfg config.PrivacyConfig) *CaptureFilter {
	return &CaptureFilter{allowlist: cfg.SessionCaptureAllowlist, showBanner: cfg.ShowCaptureBanner}
}

// Allowed reports whether sessionName may have its pane output captured.
// An empty allowlist permits everything, matching the teacher's
// IsAllowed default-open behavior for an empty AllowedPaths list.
func (f *CaptureFilter) Allowed(sessionName string) bool {
	if len(f.allowlist) == 0 {
		return true
	}
	for _, pattern := range f.allowlist {
		if matched, _ := filepath.Match(pattern, sessionName); matched {
			return true
		}
	}
	return false
}

// ShowBanner reports whether a capture-in-progress banner should be
// surfaced to the host-side client alongside captured output.
func (f *CaptureFilter) ShowBanner() bool { return f.showBanner }

// HashSessionID returns a short, stable, irreversible identifier for a
// session id, for use in diagnostics bundles shared outside the process.
func HashSessionID(id string) string {
	h := sha256.Sum256([]byte(id))
	return fmt.Sprintf("%x", h[:6])
}
