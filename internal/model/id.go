// Package model defines the durable entities NTMD tracks: sources, sessions,
// panes, events, and the rollup/aggregate rows built from them.
package model

import "github.com/google/uuid"

// NewID mints a time-sortable internal identity, distinct from any id a
// external tool (tmux, ntm) hands back to us. External ids are carried
// alongside entities for joining, never used as a primary key.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the OS entropy source is broken; fall back
		// to a random v4 rather than panic inside a hot collector path.
		return uuid.New().String()
	}
	return id.String()
}
