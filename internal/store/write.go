package store

import (
	"context"
	"fmt"

	"github.com/roach88/feedmirror/internal/pipeline"
)

// timeLayout is fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// BeginRun inserts the run row.
// Uses ON CONFLICT(run_id) DO NOTHING for idempotency - a repeated run ID is silently ignored.
func (s *Store) BeginRun(ctx context.Context, info pipeline.RunInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, entries, concurrency)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
		info.RunID,
		info.StartedAt.UTC().Format(timeLayout),
		info.Entries,
		info.Concurrency,
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// RecordURL appends one URL outcome to the run. Called concurrently by
// pool workers; seq is assigned atomically before the insert, so seq gaps
// are possible when an insert is ignored but order is always preserved.
//
// Note: The run referenced by ev.RunID must exist (foreign key constraint).
func (s *Store) RecordURL(ctx context.Context, ev pipeline.URLEvent) error {
	errText := ""
	if ev.Err != nil {
		errText = ev.Err.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO url_events (run_id, seq, url, outcome, stored_key, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		ev.RunID,
		s.seq.Add(1),
		ev.URL,
		string(ev.Outcome),
		ev.StoredKey,
		errText,
	)
	if err != nil {
		return fmt.Errorf("record url: %w", err)
	}
	return nil
}

// FinishRun stores the final statistics of a run.
// Finishing a run that was never begun is an error.
func (s *Store) FinishRun(ctx context.Context, summary pipeline.RunSummary) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?,
			concurrency = ?,
			uploaded = ?,
			reused_not_modified = ?,
			reused_existing = ?,
			skipped = ?,
			manifest_digest = ?,
			manifest_changed = ?
		WHERE run_id = ?
	`,
		summary.FinishedAt.UTC().Format(timeLayout),
		summary.Concurrency,
		summary.Stats.Uploaded,
		summary.Stats.ReusedNotModified,
		summary.Stats.ReusedExisting,
		summary.Stats.Skipped,
		summary.ManifestDigest,
		summary.ManifestChanged,
		summary.RunID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: run %q not found", summary.RunID)
	}
	return nil
}
