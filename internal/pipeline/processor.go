package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/feedmirror/internal/fetch"
	"github.com/roach88/feedmirror/internal/manifest"
	"github.com/roach88/feedmirror/internal/objectstore"
	"github.com/roach88/feedmirror/internal/transcode"
)

// Fetcher is the conditional fetch capability (implemented by *fetch.Fetcher).
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, v fetch.Validators, hasStoredKey bool, attempts int) (*fetch.Outcome, error)
}

// State is a step of the per-URL state machine.
type State int

const (
	StateStart State = iota
	StateFetch
	StateNotModified
	StateTranscode
	StateHash
	StateCheckExistence
	StateReuseExisting
	StateUpload
	StateWriteRecord
	StateResolved
	StateSkipped
)

var stateNames = [...]string{
	StateStart:          "start",
	StateFetch:          "fetch",
	StateNotModified:    "not-modified",
	StateTranscode:      "transcode",
	StateHash:           "hash",
	StateCheckExistence: "check-existence",
	StateReuseExisting:  "reuse-existing",
	StateUpload:         "upload",
	StateWriteRecord:    "write-record",
	StateResolved:       "resolved",
	StateSkipped:        "skipped",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Processor drives single URLs through fetch → transcode → hash →
// dedupe → store → manifest. One Processor is shared by all workers of a
// run; per-URL state lives on the stack of Process.
type Processor struct {
	runID      string
	opts       Options
	hash       HashFunc
	fetcher    Fetcher
	transcoder transcode.Transcoder
	store      objectstore.Store
	prev       manifest.Manifest
	next       *manifest.Builder
	stats      *Stats
	sink       EventSink
	logger     *slog.Logger
}

// urlRun is the mutable state of one Process call.
type urlRun struct {
	url     string
	prev    manifest.Record
	fetched *fetch.Outcome
	result  *transcode.Result
	key     string
	outcome Outcome
	err     error
}

// Process resolves rawURL to a public URL of its stored object.
// ok is false when the URL was skipped; the failure has already been
// logged and counted.
func (p *Processor) Process(ctx context.Context, rawURL string) (publicURL string, ok bool) {
	r := &urlRun{url: rawURL}
	state := StateStart

	for {
		switch state {
		case StateStart:
			if rec, done := p.next.Get(rawURL); done && rec.StoredKey != "" {
				r.key = rec.StoredKey
				state = StateResolved
				continue
			}
			r.prev, _ = p.prev.Lookup(rawURL)
			state = StateFetch

		case StateFetch:
			v := fetch.Validators{ETag: r.prev.ETag, LastModified: r.prev.LastModified}
			out, err := p.fetcher.Fetch(ctx, rawURL, v, r.prev.StoredKey != "", p.opts.Attempts)
			if err != nil {
				r.err = &ProcessError{Stage: StageFetch, URL: rawURL, Err: err}
				state = StateSkipped
				continue
			}
			r.fetched = out
			if out.Kind == fetch.KindNotModified {
				state = StateNotModified
			} else {
				state = StateTranscode
			}

		case StateNotModified:
			// The fetcher only reports NotModified when a stored key exists.
			p.next.Merge(rawURL, r.prev)
			r.key = r.prev.StoredKey
			r.outcome = OutcomeReusedNotModified
			p.stats.reusedNotModified.Add(1)
			p.emit(ctx, r)
			state = StateResolved

		case StateTranscode:
			res, err := p.transcoder.Transcode(ctx, r.fetched.Body, r.fetched.MediaType)
			if err != nil {
				r.err = &ProcessError{Stage: StageTranscode, URL: rawURL, Err: err}
				state = StateSkipped
				continue
			}
			r.result = res
			state = StateHash

		case StateHash:
			if len(r.result.Data) == 0 {
				r.err = &ProcessError{Stage: StageHash, URL: rawURL, Err: fmt.Errorf("transcoder produced no bytes")}
				state = StateSkipped
				continue
			}
			r.key = ContentKey(p.opts.KeyPrefix, p.hash(r.result.Data), r.result.Ext)
			state = StateCheckExistence

		case StateCheckExistence:
			exists, err := p.store.Exists(ctx, r.key)
			if err != nil {
				r.err = &ProcessError{Stage: StageExists, URL: rawURL, Err: err}
				state = StateSkipped
				continue
			}
			if exists {
				state = StateReuseExisting
			} else {
				state = StateUpload
			}

		case StateReuseExisting:
			r.outcome = OutcomeReusedExisting
			p.stats.reusedExisting.Add(1)
			state = StateWriteRecord

		case StateUpload:
			err := p.store.Put(ctx, r.key, r.result.Data, objectstore.PutOptions{
				ContentType:  r.result.MediaType,
				CacheControl: objectstore.CacheImmutable,
			})
			if err != nil {
				r.err = &ProcessError{Stage: StageUpload, URL: rawURL, Err: err}
				state = StateSkipped
				continue
			}
			r.outcome = OutcomeUploaded
			p.stats.uploaded.Add(1)
			state = StateWriteRecord

		case StateWriteRecord:
			p.next.Merge(rawURL, manifest.Record{
				ETag:         r.fetched.Validators.ETag,
				LastModified: r.fetched.Validators.LastModified,
				StoredKey:    r.key,
				MediaType:    r.result.MediaType,
			})
			p.emit(ctx, r)
			state = StateResolved

		case StateResolved:
			return objectstore.PublicURL(p.opts.PublicBaseURL, r.key), true

		case StateSkipped:
			r.outcome = OutcomeSkipped
			p.stats.skipped.Add(1)
			p.logger.Warn("skipping url", "url", rawURL, "error", r.err)
			p.emit(ctx, r)
			return "", false

		default:
			r.err = fmt.Errorf("unknown state %v", state)
			state = StateSkipped
		}
	}
}

func (p *Processor) emit(ctx context.Context, r *urlRun) {
	if p.sink == nil {
		return
	}
	ev := URLEvent{RunID: p.runID, URL: r.url, Outcome: r.outcome, StoredKey: r.key, Err: r.err}
	if r.outcome == OutcomeSkipped {
		ev.StoredKey = ""
	}
	if err := p.sink.RecordURL(ctx, ev); err != nil {
		p.logger.Warn("failed to record url event", "url", r.url, "error", err)
	}
}
