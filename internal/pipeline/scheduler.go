package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/roach88/feedmirror/internal/manifest"
	"github.com/roach88/feedmirror/internal/objectstore"
	"github.com/roach88/feedmirror/internal/transcode"
)

// Scheduler runs the bounded worker pool over feed entries.
type Scheduler struct {
	opts       Options
	hash       HashFunc
	fetcher    Fetcher
	transcoder transcode.Transcoder
	store      objectstore.Store
	sink       EventSink
	runIDs     RunIDGenerator
	logger     *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithEventSink attaches a per-URL observer (typically the run ledger).
func WithEventSink(sink EventSink) SchedulerOption {
	return func(s *Scheduler) { s.sink = sink }
}

// WithRunIDGenerator overrides the UUIDv7 run ID generator.
func WithRunIDGenerator(g RunIDGenerator) SchedulerOption {
	return func(s *Scheduler) { s.runIDs = g }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler validates opts and assembles a Scheduler.
func NewScheduler(opts Options, f Fetcher, t transcode.Transcoder, st objectstore.Store, options ...SchedulerOption) (*Scheduler, error) {
	if f == nil || t == nil || st == nil {
		return nil, fmt.Errorf("fetcher, transcoder and store are required")
	}
	if opts.PublicBaseURL == "" {
		return nil, fmt.Errorf("public base URL is required")
	}
	hash, err := NewHashFunc(opts.Hash)
	if err != nil {
		return nil, err
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	s := &Scheduler{
		opts:       opts,
		hash:       hash,
		fetcher:    f,
		transcoder: t,
		store:      st,
		runIDs:     UUIDv7Generator{},
		logger:     slog.Default(),
	}
	for _, o := range options {
		o(s)
	}
	return s, nil
}

// EffectiveConcurrency clamps configured to [1, tasks]; zero tasks yield 0.
func EffectiveConcurrency(configured, tasks int) int {
	if tasks <= 0 {
		return 0
	}
	if configured < 1 {
		configured = 1
	}
	return min(configured, tasks)
}

// Run processes entries against the previous manifest and returns the
// sorted offers, the next manifest and the run statistics. prev is only
// read. Run blocks until every entry has been processed; there is no
// early exit, a slow entry simply finishes last.
func (s *Scheduler) Run(ctx context.Context, entries []SourceEntry, prev manifest.Manifest) *RunResult {
	return s.RunWithID(ctx, s.runIDs.Generate(), entries, prev)
}

// RunWithID is Run with a caller-chosen run ID.
func (s *Scheduler) RunWithID(ctx context.Context, runID string, entries []SourceEntry, prev manifest.Manifest) *RunResult {
	tasks := NormalizeEntries(entries)
	if prev == nil {
		prev = manifest.Manifest{}
	}

	stats := &Stats{}
	proc := &Processor{
		runID:      runID,
		opts:       s.opts,
		hash:       s.hash,
		fetcher:    s.fetcher,
		transcoder: s.transcoder,
		store:      s.store,
		prev:       prev,
		next:       manifest.NewBuilder(),
		stats:      stats,
		sink:       s.sink,
		logger:     s.logger.With("run_id", runID),
	}

	workers := EffectiveConcurrency(s.opts.Concurrency, len(tasks))
	s.logger.Debug("pool starting", "run_id", runID, "entries", len(tasks), "workers", workers)

	var (
		cursor  atomic.Int64
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]manifest.OfferResult, 0, len(tasks))
	)
	collect := func(r manifest.OfferResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx := int(cursor.Add(1) - 1)
				if idx >= len(tasks) {
					return
				}
				if r, ok := s.runEntry(ctx, proc, tasks[idx]); ok {
					collect(r)
				}
			}
		}()
	}
	wg.Wait()

	manifest.SortOffers(results)
	return &RunResult{
		RunID:       runID,
		Offers:      results,
		Next:        proc.next.Snapshot(),
		Stats:       stats.Snapshot(),
		Concurrency: workers,
	}
}

// runEntry processes one entry's URLs in order. A panic is recovered here
// so that one bad entry cannot take down its worker or the pool; the URL
// in flight is recorded as skipped.
func (s *Scheduler) runEntry(ctx context.Context, proc *Processor, entry SourceEntry) (result manifest.OfferResult, ok bool) {
	var current string
	defer func() {
		if rec := recover(); rec != nil {
			err := &ProcessError{Stage: StageEntry, Entry: entry.Identifier, Err: fmt.Errorf("panic: %v", rec)}
			proc.stats.skipped.Add(1)
			proc.logger.Warn("skipping entry", "entry", entry.Identifier, "url", current, "error", err, "stack", string(debug.Stack()))
			proc.emit(ctx, &urlRun{url: current, outcome: OutcomeSkipped, err: err})
			result, ok = manifest.OfferResult{}, false
		}
	}()

	resolved := make([]string, 0, len(entry.URLs))
	for _, u := range entry.URLs {
		current = u
		if public, done := proc.Process(ctx, u); done {
			resolved = append(resolved, public)
		}
	}
	if len(resolved) == 0 {
		return manifest.OfferResult{}, false
	}
	return manifest.OfferResult{Identifier: entry.Identifier, URLs: resolved}, true
}
