package pipeline

import (
	"fmt"
	"sync/atomic"
)

// Stats are the per-run counters. Every worker increments them, so each
// counter is an atomic; there is no read-modify-write anywhere.
type Stats struct {
	uploaded          atomic.Int64
	reusedNotModified atomic.Int64
	reusedExisting    atomic.Int64
	skipped           atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Uploaded          int64 `json:"uploaded"`
	ReusedNotModified int64 `json:"reused_not_modified"`
	ReusedExisting    int64 `json:"reused_existing"`
	Skipped           int64 `json:"skipped"`
}

// Snapshot reads all counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Uploaded:          s.uploaded.Load(),
		ReusedNotModified: s.reusedNotModified.Load(),
		ReusedExisting:    s.reusedExisting.Load(),
		Skipped:           s.skipped.Load(),
	}
}

// String renders the counters for the summary line.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf("uploaded=%d reused_not_modified=%d reused_existing=%d skipped=%d",
		s.Uploaded, s.ReusedNotModified, s.ReusedExisting, s.Skipped)
}
