package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/feedmirror/internal/pipeline"
)

// ErrRunNotFound is returned when a run ID has no ledger row.
var ErrRunNotFound = errors.New("run not found")

// Run is one ledger row. FinishedAt is zero while a run is in progress
// (or was interrupted).
type Run struct {
	RunID           string                 `json:"run_id"`
	StartedAt       time.Time              `json:"started_at"`
	FinishedAt      time.Time              `json:"finished_at,omitzero"`
	Entries         int                    `json:"entries"`
	Concurrency     int                    `json:"concurrency"`
	Stats           pipeline.StatsSnapshot `json:"stats"`
	ManifestDigest  string                 `json:"manifest_digest,omitempty"`
	ManifestChanged bool                   `json:"manifest_changed"`
}

// Finished reports whether FinishRun was recorded.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// Event is one recorded URL outcome.
type Event struct {
	Seq       int64            `json:"seq"`
	URL       string           `json:"url"`
	Outcome   pipeline.Outcome `json:"outcome"`
	StoredKey string           `json:"stored_key,omitempty"`
	Error     string           `json:"error,omitempty"`
}

const runColumns = `run_id, started_at, finished_at, entries, concurrency,
	uploaded, reused_not_modified, reused_existing, skipped,
	manifest_digest, manifest_changed`

// ListRuns returns the most recent runs, newest first.
// limit <= 0 returns all runs.
//
// Returns an empty slice (not nil) if the ledger is empty.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, run_id COLLATE BINARY DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns a single run. Returns ErrRunNotFound if absent.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

// RunEvents returns the URL outcomes of a run ordered by seq.
// An empty outcome returns every event; otherwise only that outcome.
//
// Returns an empty slice (not nil) if no events match.
func (s *Store) RunEvents(ctx context.Context, runID string, outcome pipeline.Outcome) ([]Event, error) {
	query := `SELECT seq, url, outcome, stored_key, error FROM url_events WHERE run_id = ?`
	args := []any{runID}
	if outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, string(outcome))
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query url events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		var out string
		if err := rows.Scan(&ev.Seq, &ev.URL, &out, &ev.StoredKey, &ev.Error); err != nil {
			return nil, fmt.Errorf("scan url event: %w", err)
		}
		ev.Outcome = pipeline.Outcome(out)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate url events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r        Run
		started  string
		finished sql.NullString
	)
	err := row.Scan(
		&r.RunID,
		&started,
		&finished,
		&r.Entries,
		&r.Concurrency,
		&r.Stats.Uploaded,
		&r.Stats.ReusedNotModified,
		&r.Stats.ReusedExisting,
		&r.Stats.Skipped,
		&r.ManifestDigest,
		&r.ManifestChanged,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if finished.Valid {
		if r.FinishedAt, err = time.Parse(timeLayout, finished.String); err != nil {
			return Run{}, fmt.Errorf("parse finished_at: %w", err)
		}
	}
	return r, nil
}
