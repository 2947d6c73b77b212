package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/roach88/feedmirror/internal/fetch"
	"github.com/roach88/feedmirror/internal/manifest"
	"github.com/roach88/feedmirror/internal/objectstore"
	"github.com/roach88/feedmirror/internal/pipeline"
	"github.com/roach88/feedmirror/internal/store"
	"github.com/roach88/feedmirror/internal/testutil"
	"github.com/roach88/feedmirror/internal/transcode"
)

// Scenario defaults for options left unset.
const (
	DefaultPublicBaseURL = "https://cdn.example.com"
	DefaultKeyPrefix     = "images"
	DefaultAttempts      = 3
)

// errPutsDisabled is returned by the object store during fail_puts runs.
var errPutsDisabled = errors.New("object store unavailable")

// Harness executes scenario runs against one persistent workspace.
//
// The manifest, offers file, object store and run ledger survive from run
// to run; the origin's request log and the recorded sleeps are reset at the
// start of each run.
type Harness struct {
	dir     string
	origin  *testutil.Origin
	objects *objectstore.Memory
	sleeper *testutil.RecordingSleeper
	ledger  *store.Store
	runIDs  *sequentialRunIDs
	logger  *slog.Logger
}

// New creates a harness in a fresh temporary directory. Call Close when
// done.
func New() (*Harness, error) {
	dir, err := os.MkdirTemp("", "feedmirror-harness-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	ledger, err := store.Open(filepath.Join(dir, "runs.db"))
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return &Harness{
		dir:     dir,
		origin:  testutil.NewOrigin(),
		objects: objectstore.NewMemory(),
		sleeper: testutil.NewRecordingSleeper(),
		ledger:  ledger,
		runIDs:  &sequentialRunIDs{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// Close stops the origin and removes the workspace.
func (h *Harness) Close() error {
	h.origin.Close()
	err := h.ledger.Close()
	if rmErr := os.RemoveAll(h.dir); err == nil {
		err = rmErr
	}
	return err
}

// Run executes a scenario in a fresh harness.
func Run(scenario *Scenario) (*Result, error) {
	h, err := New()
	if err != nil {
		return nil, err
	}
	defer h.Close()
	return h.Run(context.Background(), scenario)
}

// Run executes every run of scenario in order and checks its expectations.
// The returned error covers harness failures only; unmet expectations are
// reported through Result.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	result := NewResult()
	for i, step := range scenario.Runs {
		trace, err := h.execute(ctx, scenario, step)
		if err != nil {
			return nil, fmt.Errorf("runs[%d] %s: %w", i, step.Name, err)
		}
		result.Runs = append(result.Runs, *trace)
		for _, failure := range checkExpectation(step.Expect, trace) {
			result.AddError(fmt.Sprintf("run %q: %s", step.Name, failure))
		}
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, scenario *Scenario, step RunStep) (*RunTrace, error) {
	h.origin.ResetRequests()
	h.sleeper.Reset()
	for path, spec := range step.Origin {
		h.origin.Set(path, spec.resource())
	}
	for path, responses := range step.Script {
		for _, r := range responses {
			h.origin.Script(path, r.response())
		}
	}
	h.objects.PutErr = nil
	if step.FailPuts {
		h.objects.PutErr = errPutsDisabled
	}
	putsBefore := len(h.objects.Puts())
	runsBefore := h.runIDs.count()

	entries := step.Entries
	if entries == nil {
		entries = scenario.Entries
	}

	fetcher := fetch.New(nil, fetch.WithSleep(h.sleeper.Sleep), fetch.WithLogger(h.logger))
	sched, err := pipeline.NewScheduler(scenario.Options.pipelineOptions(), fetcher, transcode.Passthrough{}, h.objects,
		pipeline.WithEventSink(h.ledger),
		pipeline.WithRunIDGenerator(h.runIDs),
		pipeline.WithLogger(h.logger),
	)
	if err != nil {
		return nil, err
	}
	syncer := pipeline.NewSyncer(sched, h.objects, h.ledger, pipeline.Outputs{
		ManifestPath: h.path("manifest.json"),
		OffersPath:   h.path("offers.json"),
		ManifestKey:  scenario.Options.ManifestKey,
	})
	report, syncErr := syncer.Sync(ctx, h.resolve(entries))

	trace := &RunTrace{
		Name:     step.Name,
		Hits:     make(map[string]int),
		Outcomes: make(map[string]string),
	}
	if syncErr != nil {
		trace.Err = h.relative(syncErr.Error())
	} else {
		trace.Stats = report.Stats
		trace.Concurrency = report.Concurrency
		trace.ManifestChanged = report.ManifestChanged
		trace.ManifestUploaded = report.ManifestUploaded
		trace.Offers = report.Offers
	}

	if h.runIDs.count() > runsBefore {
		trace.RunID = h.runIDs.last()
		events, err := h.ledger.RunEvents(ctx, trace.RunID, "")
		if err != nil {
			return nil, fmt.Errorf("read ledger: %w", err)
		}
		for _, ev := range events {
			trace.Outcomes[h.relative(ev.URL)] = string(ev.Outcome)
		}
	}

	conditional := make(map[string]bool)
	for _, r := range h.origin.Requests() {
		trace.Hits[r.Path]++
		if r.Conditional() {
			conditional[r.Path] = true
		}
	}
	for path := range conditional {
		trace.Conditional = append(trace.Conditional, path)
	}
	slices.Sort(trace.Conditional)

	onDisk, err := manifest.Load(h.path("manifest.json"))
	if err != nil {
		return nil, err
	}
	trace.Manifest = make(manifest.Manifest, len(onDisk))
	for url, rec := range onDisk {
		trace.Manifest[h.relative(url)] = rec
	}

	trace.Uploads = slices.Compact(slices.Sorted(slices.Values(h.objects.Puts()[putsBefore:])))
	trace.Objects = h.objects.Len()
	for _, d := range slices.Sorted(slices.Values(h.sleeper.Delays())) {
		trace.RetryDelays = append(trace.RetryDelays, d.String())
	}
	return trace, nil
}

func (h *Harness) path(name string) string {
	return filepath.Join(h.dir, name)
}

// resolve points origin-relative URLs at the scripted origin.
func (h *Harness) resolve(entries []pipeline.SourceEntry) []pipeline.SourceEntry {
	out := make([]pipeline.SourceEntry, len(entries))
	for i, e := range entries {
		urls := make([]string, len(e.URLs))
		for j, u := range e.URLs {
			if strings.HasPrefix(u, "/") {
				u = h.origin.URL(u)
			}
			urls[j] = u
		}
		out[i] = pipeline.SourceEntry{Identifier: e.Identifier, URLs: urls}
	}
	return out
}

// relative strips the origin's address from s.
func (h *Harness) relative(s string) string {
	return strings.ReplaceAll(s, h.origin.URL(""), "")
}

func (o ScenarioOptions) pipelineOptions() pipeline.Options {
	opts := pipeline.Options{
		Concurrency:   o.Concurrency,
		Attempts:      o.Attempts,
		KeyPrefix:     o.KeyPrefix,
		PublicBaseURL: o.PublicBaseURL,
		Hash:          o.Hash,
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 1
	}
	if opts.Attempts == 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.PublicBaseURL == "" {
		opts.PublicBaseURL = DefaultPublicBaseURL
	}
	return opts
}

func (r ResourceSpec) resource() testutil.Resource {
	res := testutil.Resource{
		ContentType:  r.ContentType,
		ETag:         r.ETag,
		LastModified: r.LastModified,
		FailFirst:    r.FailFirst,
		FailStatus:   r.FailStatus,
	}
	if r.Body != "" {
		res.Body = []byte(r.Body)
	}
	return res
}

func (r ResponseSpec) response() testutil.Response {
	resp := testutil.Response{
		Status:       r.Status,
		ContentType:  r.ContentType,
		ETag:         r.ETag,
		LastModified: r.LastModified,
	}
	if r.Body != "" {
		resp.Body = []byte(r.Body)
	}
	return resp
}

// sequentialRunIDs hands out run-1, run-2, ... so that each run gets its
// own ledger rows and snapshots stay stable.
type sequentialRunIDs struct {
	n atomic.Int64
}

func (g *sequentialRunIDs) Generate() string {
	return fmt.Sprintf("run-%d", g.n.Add(1))
}

func (g *sequentialRunIDs) count() int64 {
	return g.n.Load()
}

func (g *sequentialRunIDs) last() string {
	return fmt.Sprintf("run-%d", g.n.Load())
}
