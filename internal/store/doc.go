// Package store provides the SQLite-backed run ledger for feedmirror.
//
// The ledger is an append-only record of what each sync did:
//   - runs: one row per sync, with its statistics and manifest digest
//   - url_events: one row per URL outcome within a run
//
// The ledger observes runs; it never feeds back into them. The manifest
// file remains the only state a run reads.
//
// # Ordering
//
// url_events are ordered by seq, a counter assigned by the writing
// process. Queries over events always ORDER BY seq ASC so that history
// output is stable regardless of wall time.
//
// # Idempotency
//
// Writes use ON CONFLICT DO NOTHING. Recording the same run twice, or the
// same URL twice within a run, keeps the first row.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
