package model

import "time"

// MinuteSample is a per-pane counter row keyed by (minute-start, pane).
type MinuteSample struct {
	MinuteStart    time.Time
	PaneID         string
	Status         PaneStatus
	OutputLines    int64
	OutputBytes    int64
	EstimatedTokens int64
}

// HourlyStat aggregates minute samples into one hour, keyed by (hour, session).
type HourlyStat struct {
	HourStart       time.Time
	SessionID       string
	Compacts        int64
	ActiveMinutes   int64
	EstimatedTokens int64
}

// DailyStat aggregates hourly rows into one day, keyed by (day, session).
// UTCOffsetSeconds is the offset used to bucket the day, recorded so that
// wall-clock-day reports remain stable across DST transitions.
type DailyStat struct {
	DayStart         time.Time
	SessionID        string
	Compacts         int64
	ActiveMinutes    int64
	EstimatedTokens  int64
	UTCOffsetSeconds int
}

// DaemonRun is one row per process lifetime.
type DaemonRun struct {
	ID               string
	StartedAt        time.Time
	EndedAt          time.Time
	Version          string
	ProtocolVersion  int
	SchemaVersion    int
	CapabilityFlags  []string
}
