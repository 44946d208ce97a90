// Package detect implements the compact and escalation detectors. Each
// maintains small per-pane state (rolling counters, last-fire timestamps)
// and emits model.Event rows with a content-keyed dedupe hash so store
// insertion is idempotent.
package detect

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ntmd/ntmd/internal/model"
)

// DedupeHash computes sha1(type | pane-uid | minute-bucket | payload-subset)
// per the spec's §4.5 formula.
func DedupeHash(eventType model.EventType, paneID string, at time.Time, payloadSubset string) string {
	bucket := at.UTC().Truncate(time.Minute).Unix()
	raw := fmt.Sprintf("%s|%s|%d|%s", eventType, paneID, bucket, payloadSubset)
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
