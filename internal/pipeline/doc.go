// Package pipeline mirrors the images referenced by feed entries into an
// object store.
//
// ARCHITECTURE:
//
// Worker Pool:
// Entries are claimed from a shared atomic cursor by N workers
// (N = min(concurrency, entries), at least 1). A worker processes the URLs
// of the entry it claimed one after another; different entries run in
// parallel. Claiming by cursor rather than static partitioning keeps the
// workers balanced when fetch latency varies wildly.
//
// URL Processing:
// Each URL walks an explicit state machine (see processor.go):
//
//	Start -> Resolved                       (already resolved this run)
//	Start -> Fetch -> NotModified -> Resolved
//	Start -> Fetch -> Fresh -> Transcode -> Hash -> CheckExistence
//	      -> {ReuseExisting | Upload} -> WriteRecord -> Resolved
//	Start -> Fetch -> Skipped               (retries exhausted)
//
// Only the fetch step retries. A failure after a successful fetch is
// terminal for that URL.
//
// Shared State:
//   - next manifest: sync.Map-backed Builder, keys partitioned by URL
//   - statistics: atomic counters
//   - offer results: append-only slice under a mutex, sorted after the pool drains
//
// The same URL under two entries claimed concurrently may be fetched twice.
// Both writers produce equivalent records because stored keys are content
// addresses, so the race costs bandwidth, never correctness.
//
// Failure Isolation:
// Per-URL errors become skips. A panic while processing an entry is
// recovered at the entry boundary and also counted as a skip. Run only
// returns once every claimed entry has finished.
package pipeline
