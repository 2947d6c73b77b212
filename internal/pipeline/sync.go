package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/feedmirror/internal/manifest"
	"github.com/roach88/feedmirror/internal/objectstore"
)

// ManifestMediaType is the content type of the published manifest object.
const ManifestMediaType = "application/json"

// Outputs names where a sync writes its artifacts.
type Outputs struct {
	// ManifestPath holds the URL → record manifest (read at start, replaced at end).
	ManifestPath string
	// OffersPath receives the per-offer output file.
	OffersPath string
	// ManifestKey, if set, mirrors the manifest into the object store when it changed.
	ManifestKey string
}

// Report summarises a completed sync.
type Report struct {
	*RunResult
	ManifestChanged  bool
	ManifestUploaded bool
	ManifestDigest   string
}

// Syncer ties a Scheduler to the durable manifest and output files.
type Syncer struct {
	scheduler *Scheduler
	store     objectstore.Store
	ledger    Ledger
	outputs   Outputs
	logger    *slog.Logger
	now       func() time.Time
}

// NewSyncer creates a Syncer. ledger may be nil.
func NewSyncer(s *Scheduler, st objectstore.Store, ledger Ledger, out Outputs) *Syncer {
	return &Syncer{
		scheduler: s,
		store:     st,
		ledger:    ledger,
		outputs:   out,
		logger:    s.logger,
		now:       time.Now,
	}
}

// Sync loads the previous manifest, runs the pool over entries, and
// persists the results. Per-URL failures never fail a sync; only a bad
// previous manifest or a failed output write does.
//
// Output order matters: the offers file first, then the manifest object,
// then the local manifest. If publishing fails, the local manifest still
// holds the previous state, so the next run sees the change again and
// retries the upload.
func (y *Syncer) Sync(ctx context.Context, entries []SourceEntry) (*Report, error) {
	prev, err := manifest.Load(y.outputs.ManifestPath)
	if err != nil {
		return nil, err
	}

	runID := y.scheduler.runIDs.Generate()
	if y.ledger != nil {
		info := RunInfo{
			RunID:       runID,
			StartedAt:   y.now().UTC(),
			Entries:     len(entries),
			Concurrency: y.scheduler.opts.Concurrency,
		}
		if err := y.ledger.BeginRun(ctx, info); err != nil {
			y.logger.Warn("failed to record run start", "run_id", runID, "error", err)
		}
	}

	res := y.scheduler.RunWithID(ctx, runID, entries, prev)

	prevBytes, err := manifest.Serialize(prev)
	if err != nil {
		return nil, err
	}
	nextBytes, err := manifest.Serialize(res.Next)
	if err != nil {
		return nil, err
	}
	changed := string(prevBytes) != string(nextBytes)

	offersBytes, err := manifest.SerializeOffers(res.Offers)
	if err != nil {
		return nil, err
	}
	if y.outputs.OffersPath != "" {
		if err := manifest.WriteFile(y.outputs.OffersPath, offersBytes); err != nil {
			return nil, fmt.Errorf("write offers: %w", err)
		}
	}

	report := &Report{RunResult: res, ManifestChanged: changed}
	if changed && y.outputs.ManifestKey != "" {
		err := y.store.Put(ctx, y.outputs.ManifestKey, nextBytes, objectstore.PutOptions{
			ContentType:  ManifestMediaType,
			CacheControl: objectstore.CacheNoCache,
		})
		if err != nil {
			return nil, fmt.Errorf("publish manifest: %w", err)
		}
		report.ManifestUploaded = true
	}

	if y.outputs.ManifestPath != "" {
		if err := manifest.WriteFile(y.outputs.ManifestPath, nextBytes); err != nil {
			return nil, fmt.Errorf("write manifest: %w", err)
		}
	}

	digest, err := manifest.Digest(res.Next)
	if err != nil {
		return nil, err
	}
	report.ManifestDigest = digest

	if y.ledger != nil {
		summary := RunSummary{
			RunID:           runID,
			FinishedAt:      y.now().UTC(),
			Concurrency:     res.Concurrency,
			Stats:           res.Stats,
			ManifestDigest:  digest,
			ManifestChanged: changed,
		}
		if err := y.ledger.FinishRun(ctx, summary); err != nil {
			y.logger.Warn("failed to record run finish", "run_id", runID, "error", err)
		}
	}

	return report, nil
}
