package pipeline

import (
	"context"
	"time"
)

// Outcome is the terminal result recorded for a URL.
type Outcome string

const (
	OutcomeUploaded          Outcome = "uploaded"
	OutcomeReusedNotModified Outcome = "reused-not-modified"
	OutcomeReusedExisting    Outcome = "reused-existing"
	OutcomeSkipped           Outcome = "skipped"
)

// URLEvent describes how one URL finished within a run.
type URLEvent struct {
	RunID     string
	URL       string
	Outcome   Outcome
	StoredKey string
	Err       error
}

// RunInfo is recorded when a run starts.
type RunInfo struct {
	RunID       string
	StartedAt   time.Time
	Entries     int
	Concurrency int
}

// RunSummary is recorded when a run finishes.
type RunSummary struct {
	RunID           string
	FinishedAt      time.Time
	Concurrency     int
	Stats           StatsSnapshot
	ManifestDigest  string
	ManifestChanged bool
}

// EventSink receives per-URL outcomes. Implementations must be safe for
// concurrent use. Errors are logged and otherwise ignored: the run ledger
// is an observer, not a participant.
type EventSink interface {
	RecordURL(ctx context.Context, ev URLEvent) error
}

// Ledger is an EventSink that also records run boundaries.
type Ledger interface {
	EventSink
	BeginRun(ctx context.Context, info RunInfo) error
	FinishRun(ctx context.Context, summary RunSummary) error
}
