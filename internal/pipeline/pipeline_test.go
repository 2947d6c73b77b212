package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/feedmirror/internal/fetch"
	"github.com/roach88/feedmirror/internal/manifest"
	"github.com/roach88/feedmirror/internal/objectstore"
	"github.com/roach88/feedmirror/internal/testutil"
	"github.com/roach88/feedmirror/internal/transcode"
)

const cdn = "https://cdn.example.com"

type testEnv struct {
	origin  *testutil.Origin
	store   *objectstore.Memory
	sleeper *testutil.RecordingSleeper
	sink    *recordingSink
	opts    Options
	trans   transcode.Transcoder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	origin := testutil.NewOrigin()
	t.Cleanup(origin.Close)
	return &testEnv{
		origin:  origin,
		store:   objectstore.NewMemory(),
		sleeper: testutil.NewRecordingSleeper(),
		sink:    &recordingSink{},
		opts: Options{
			Concurrency:   4,
			Attempts:      3,
			KeyPrefix:     "images",
			PublicBaseURL: cdn,
		},
		trans: transcode.Passthrough{},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (e *testEnv) scheduler(t *testing.T) *Scheduler {
	t.Helper()
	f := fetch.New(nil, fetch.WithSleep(e.sleeper.Sleep), fetch.WithLogger(discardLogger()))
	s, err := NewScheduler(e.opts, f, e.trans, e.store,
		WithEventSink(e.sink),
		WithRunIDGenerator(testutil.NewFixedRunID("run-1")),
		WithLogger(discardLogger()),
	)
	require.NoError(t, err)
	return s
}

func (e *testEnv) run(t *testing.T, entries []SourceEntry, prev manifest.Manifest) *RunResult {
	t.Helper()
	return e.scheduler(t).Run(context.Background(), entries, prev)
}

func keyFor(body, ext string) string {
	sum := sha256.Sum256([]byte(body))
	return "images/" + hex.EncodeToString(sum[:]) + "." + ext
}

func publicFor(body, ext string) string {
	return cdn + "/" + keyFor(body, ext)
}

type recordingSink struct {
	mu     sync.Mutex
	events []URLEvent
}

func (s *recordingSink) RecordURL(ctx context.Context, ev URLEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) outcomes() map[string]Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Outcome)
	for _, ev := range s.events {
		out[ev.URL] = ev.Outcome
	}
	return out
}

func (s *recordingSink) snapshot() []URLEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]URLEvent(nil), s.events...)
}

func TestRun_UploadsAndResolves(t *testing.T) {
	env := newTestEnv(t)
	env.origin.Set("/a.jpg", testutil.Resource{Body: []byte("img-a"), ContentType: "image/jpeg", ETag: `"a1"`})
	env.origin.Set("/b.png", testutil.Resource{Body: []byte("img-b"), ContentType: "image/png"})

	res := env.run(t, []SourceEntry{
		{Identifier: "B2", URLs: []string{env.origin.URL("/b.png")}},
		{Identifier: "A1", URLs: []string{env.origin.URL("/a.jpg")}},
	}, nil)

	assert.Equal(t, StatsSnapshot{Uploaded: 2}, res.Stats)
	assert.Equal(t, 2, res.Concurrency)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, []manifest.OfferResult{
		{Identifier: "A1", URLs: []string{publicFor("img-a", "jpg")}},
		{Identifier: "B2", URLs: []string{publicFor("img-b", "png")}},
	}, res.Offers)

	rec := res.Next[env.origin.URL("/a.jpg")]
	assert.Equal(t, manifest.Record{ETag: `"a1"`, StoredKey: keyFor("img-a", "jpg"), MediaType: "image/jpeg"}, rec)

	obj, ok := env.store.Get(keyFor("img-b", "png"))
	require.True(t, ok)
	assert.Equal(t, objectstore.CacheImmutable, obj.CacheControl)
	assert.Equal(t, "image/png", obj.ContentType)
}

func TestRun_DuplicateURLWithinEntryProcessedOnce(t *testing.T) {
	env := newTestEnv(t)
	env.origin.Set("/1.jpg", testutil.Resource{Body: []byte("one"), ContentType: "image/jpeg"})
	u := env.origin.URL("/1.jpg")

	res := env.run(t, []SourceEntry{{Identifier: "A1", URLs: []string{u, u}}}, nil)

	require.Len(t, res.Offers, 1)
	assert.Equal(t, []string{publicFor("one", "jpg")}, res.Offers[0].URLs)
	assert.Equal(t, 1, env.origin.Hits("/1.jpg"))
	assert.Equal(t, int64(1), res.Stats.Uploaded)
}

func TestRun_ContentAddressingDedupesIdenticalBytes(t *testing.T) {
	env := newTestEnv(t)
	env.origin.Set("/x.jpg", testutil.Resource{Body: []byte("same"), ContentType: "image/jpeg"})
	env.origin.Set("/y.jpg", testutil.Resource{Body: []byte("same"), ContentType: "image/jpeg"})

	res := env.run(t, []SourceEntry{
		{Identifier: "A1", URLs: []string{env.origin.URL("/x.jpg"), env.origin.URL("/y.jpg")}},
	}, nil)

	assert.Equal(t, StatsSnapshot{Uploaded: 1, ReusedExisting: 1}, res.Stats)
	assert.Equal(t, []string{keyFor("same", "jpg")}, env.store.Puts())
	assert.Equal(t, res.Next[env.origin.URL("/x.jpg")].StoredKey, res.Next[env.origin.URL("/y.jpg")].StoredKey)
	// Both source URLs resolve to one public URL, listed once.
	assert.Equal(t, []string{publicFor("same", "jpg")}, res.Offers[0].URLs)
}

func TestRun_ConditionalReuse(t *testing.T) {
	env := newTestEnv(t)
	env.origin.Set("/a.jpg", testutil.Resource{Body: []byte("img-a"), ContentType: "image/jpeg", ETag: `"v1"`})
	u := env.origin.URL("/a.jpg")
	prevRec := manifest.Record{ETag: `"v1"`, StoredKey: "images/prior.jpg", MediaType: "image/jpeg"}

	res := env.run(t, []SourceEntry{{Identifier: "A1", URLs: []string{u}}}, manifest.Manifest{u: prevRec})

	assert.Equal(t, StatsSnapshot{ReusedNotModified: 1}, res.Stats)
	assert.Empty(t, env.store.Puts(), "no upload on 304")
	assert.Equal(t, prevRec, res.Next[u])
	assert.Equal(t, []string{cdn + "/images/prior.jpg"}, res.Offers[0].URLs)
	assert.Equal(t, OutcomeReusedNotModified, env.sink.outcomes()[u])
}

func TestRun_StaleValidatorsWithoutStoredKeyRefetch(t *testing.T) {
	env := newTestEnv(t)
	env.origin.Set("/a.jpg", testutil.Resource{Body: []byte("img-a"), ContentType: "image/jpeg", ETag: `"v1"`})
	u := env.origin.URL("/a.jpg")

	res := env.run(t, []SourceEntry{{Identifier: "A1", URLs: []string{u}}}, manifest.Manifest{u: {ETag: `"v1"`}})

	assert.Equal(t, StatsSnapshot{Uploaded: 1}, res.Stats)
	reqs := env.origin.RequestsFor("/a.jpg")
	require.Len(t, reqs, 2)
	assert.True(t, reqs[0].Conditional())
	assert.False(t, reqs[1].Conditional())
	assert.Equal(t, keyFor("img-a", "jpg"), res.Next[u].StoredKey)
}

func TestRun_TransientFailuresWithinBudgetResolve(t *testing.T) {
	env := newTestEnv(t)
	env.origin.Set("/flaky.jpg", testutil.Resource{Body: []byte("flaky"), ContentType: "image/jpeg", FailFirst: 2})

	res := env.run(t, []SourceEntry{{Identifier: "A1", URLs: []string{env.origin.URL("/flaky.jpg")}}}, nil)

	assert.Equal(t, StatsSnapshot{Uploaded: 1}, res.Stats)
	require.Len(t, res.Offers, 1)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, env.sleeper.Delays())
}

func TestRun_ExhaustedURLIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.origin.Set("/dead.jpg", testutil.Resource{FailFirst: 100})
	env.origin.Set("/ok.jpg", testutil.Resource{Body: []byte("ok"), ContentType: "image/jpeg"})
	dead := env.origin.URL("/dead.jpg")

	res := env.run(t, []SourceEntry{
		{Identifier: "ONLY-DEAD", URLs: []string{dead}},
		{Identifier: "MIXED", URLs: []string{dead, env.origin.URL("/ok.jpg")}},
	}, nil)

	assert.Equal(t, []manifest.OfferResult{
		{Identifier: "MIXED", URLs: []string{publicFor("ok", "jpg")}},
	}, res.Offers)
	assert.Equal(t, int64(2), res.Stats.Skipped)
	assert.Equal(t, int64(1), res.Stats.Uploaded)
	_, inManifest := res.Next[dead]
	assert.False(t, inManifest)
	assert.Equal(t, 6, env.origin.Hits("/dead.jpg"), "three attempts for each entry")
	assert.Equal(t, OutcomeSkipped, env.sink.outcomes()[dead])
}

func TestRun_IdempotentAcrossRuns(t *testing.T) {
	env := newTestEnv(t)
	env.opts.Concurrency = 1
	env.origin.Set("/a.jpg", testutil.Resource{Body: []byte("img-a"), ContentType: "image/jpeg", ETag: `"a"`})
	env.origin.Set("/b.jpg", testutil.Resource{Body: []byte("img-b"), ContentType: "image/jpeg", LastModified: "Mon, 02 Jan 2006 15:04:05 GMT"})
	entries := []SourceEntry{
		{Identifier: "A1", URLs: []string{env.origin.URL("/a.jpg"), env.origin.URL("/b.jpg")}},
		{Identifier: "B2", URLs: []string{env.origin.URL("/b.jpg")}},
	}

	first := env.run(t, entries, nil)
	second := env.run(t, entries, first.Next)

	a, err := manifest.Serialize(first.Next)
	require.NoError(t, err)
	b, err := manifest.Serialize(second.Next)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, first.Offers, second.Offers)

	changed, err := manifest.HasChanged(first.Next, second.Next)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Zero(t, second.Stats.Uploaded)
	assert.Equal(t, int64(2), second.Stats.ReusedNotModified+second.Stats.ReusedExisting)
}

func TestRun_OutputSortedRegardlessOfCompletionOrder(t *testing.T) {
	env := newTestEnv(t)
	env.opts.Concurrency = 8
	var entries []SourceEntry
	for i := 30; i > 0; i-- {
		path := fmt.Sprintf("/%02d.jpg", i)
		env.origin.Set(path, testutil.Resource{Body: []byte(path), ContentType: "image/jpeg"})
		entries = append(entries, SourceEntry{Identifier: fmt.Sprintf("ID-%02d", i), URLs: []string{env.origin.URL(path)}})
	}

	res := env.run(t, entries, nil)

	require.Len(t, res.Offers, 30)
	for i := 1; i < len(res.Offers); i++ {
		assert.Less(t, res.Offers[i-1].Identifier, res.Offers[i].Identifier)
	}
	assert.Equal(t, 8, res.Concurrency)
	assert.Equal(t, int64(30), res.Stats.Uploaded)
}

func TestRun_SameURLAcrossEntriesReusesRecord(t *testing.T) {
	env := newTestEnv(t)
	env.opts.Concurrency = 1
	env.origin.Set("/shared.jpg", testutil.Resource{Body: []byte("shared"), ContentType: "image/jpeg"})
	u := env.origin.URL("/shared.jpg")

	res := env.run(t, []SourceEntry{
		{Identifier: "A1", URLs: []string{u}},
		{Identifier: "B2", URLs: []string{u}},
	}, nil)

	assert.Equal(t, 1, env.origin.Hits("/shared.jpg"))
	require.Len(t, res.Offers, 2)
	assert.Equal(t, res.Offers[0].URLs, res.Offers[1].URLs)
	assert.Equal(t, StatsSnapshot{Uploaded: 1}, res.Stats)
}

func TestRun_ProcessingFailuresAreTerminalSkips(t *testing.T) {
	tests := []struct {
		name  string
		setup func(env *testEnv)
	}{
		{"upload", func(env *testEnv) { env.store.PutErr = errors.New("bucket full") }},
		{"exists", func(env *testEnv) { env.store.ExistsErr = errors.New("head denied") }},
		{"transcode", func(env *testEnv) { env.trans = &transcode.Image{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.origin.Set("/a.jpg", testutil.Resource{Body: []byte("not really a jpeg"), ContentType: "image/jpeg"})
			tt.setup(env)
			u := env.origin.URL("/a.jpg")

			res := env.run(t, []SourceEntry{{Identifier: "A1", URLs: []string{u}}}, nil)

			assert.Equal(t, StatsSnapshot{Skipped: 1}, res.Stats)
			assert.Empty(t, res.Offers)
			assert.Empty(t, res.Next)
			assert.Equal(t, 1, env.origin.Hits("/a.jpg"), "no retry after a successful fetch")
		})
	}
}

type panickyTranscoder struct{}

func (panickyTranscoder) Transcode(ctx context.Context, data []byte, mediaType string) (*transcode.Result, error) {
	if string(data) == "boom" {
		panic("decoder exploded")
	}
	return transcode.Passthrough{}.Transcode(ctx, data, mediaType)
}

func TestRun_PanicIsolatedAtEntryBoundary(t *testing.T) {
	env := newTestEnv(t)
	env.trans = panickyTranscoder{}
	env.origin.Set("/boom.jpg", testutil.Resource{Body: []byte("boom"), ContentType: "image/jpeg"})
	env.origin.Set("/fine.jpg", testutil.Resource{Body: []byte("fine"), ContentType: "image/jpeg"})

	res := env.run(t, []SourceEntry{
		{Identifier: "BAD", URLs: []string{env.origin.URL("/boom.jpg")}},
		{Identifier: "GOOD", URLs: []string{env.origin.URL("/fine.jpg")}},
	}, nil)

	assert.Equal(t, StatsSnapshot{Uploaded: 1, Skipped: 1}, res.Stats)
	require.Len(t, res.Offers, 1)
	assert.Equal(t, "GOOD", res.Offers[0].Identifier)
}

func TestRun_PanicRecordedAsSkippedEvent(t *testing.T) {
	env := newTestEnv(t)
	env.trans = panickyTranscoder{}
	env.origin.Set("/boom.jpg", testutil.Resource{Body: []byte("boom"), ContentType: "image/jpeg"})

	boom := env.origin.URL("/boom.jpg")
	res := env.run(t, []SourceEntry{{Identifier: "BAD", URLs: []string{boom}}}, nil)

	assert.Equal(t, int64(1), res.Stats.Skipped)
	assert.Equal(t, map[string]Outcome{boom: OutcomeSkipped}, env.sink.outcomes())

	events := env.sink.snapshot()
	require.Len(t, events, 1)
	assert.True(t, IsStage(events[0].Err, StageEntry), "got %v", events[0].Err)
}

func TestRun_EmptyInput(t *testing.T) {
	env := newTestEnv(t)
	res := env.run(t, []SourceEntry{{Identifier: "", URLs: []string{"http://x/1.jpg"}}, {Identifier: "A", URLs: []string{" "}}}, nil)

	assert.Empty(t, res.Offers)
	assert.Empty(t, res.Next)
	assert.Equal(t, 0, res.Concurrency)
}

func TestRun_Blake3Keys(t *testing.T) {
	env := newTestEnv(t)
	env.opts.Hash = HashBLAKE3
	env.origin.Set("/a.jpg", testutil.Resource{Body: []byte("img-a"), ContentType: "image/jpeg"})

	res := env.run(t, []SourceEntry{{Identifier: "A1", URLs: []string{env.origin.URL("/a.jpg")}}}, nil)

	key := res.Next[env.origin.URL("/a.jpg")].StoredKey
	assert.NotEqual(t, keyFor("img-a", "jpg"), key)
	assert.Regexp(t, `^images/[0-9a-f]{64}\.jpg$`, key)
}

func TestNewScheduler_Validation(t *testing.T) {
	f := fetch.New(nil)
	_, err := NewScheduler(Options{PublicBaseURL: cdn}, nil, transcode.Passthrough{}, objectstore.NewMemory())
	assert.Error(t, err)
	_, err = NewScheduler(Options{}, f, transcode.Passthrough{}, objectstore.NewMemory())
	assert.Error(t, err)
	_, err = NewScheduler(Options{PublicBaseURL: cdn, Hash: "md5"}, f, transcode.Passthrough{}, objectstore.NewMemory())
	assert.Error(t, err)
}

func TestEffectiveConcurrency(t *testing.T) {
	assert.Equal(t, 0, EffectiveConcurrency(4, 0))
	assert.Equal(t, 1, EffectiveConcurrency(0, 5))
	assert.Equal(t, 1, EffectiveConcurrency(-3, 5))
	assert.Equal(t, 3, EffectiveConcurrency(8, 3))
	assert.Equal(t, 4, EffectiveConcurrency(4, 10))
}

func TestNormalizeEntries(t *testing.T) {
	got := NormalizeEntries([]SourceEntry{
		{Identifier: " A1 ", URLs: []string{"http://x/1.jpg", "", "http://x/1.jpg", " http://x/2.jpg "}},
		{Identifier: "", URLs: []string{"http://x/3.jpg"}},
		{Identifier: "B2", URLs: []string{"", "  "}},
		{Identifier: "C3"},
	})
	assert.Equal(t, []SourceEntry{
		{Identifier: "A1", URLs: []string{"http://x/1.jpg", "http://x/2.jpg"}},
	}, got)
}

func TestContentKey(t *testing.T) {
	assert.Equal(t, "images/abc.jpg", ContentKey("images", "abc", "jpg"))
	assert.Equal(t, "abc.png", ContentKey("", "abc", "png"))
	assert.Equal(t, "a/b/abc.jpg", ContentKey("a/b/", "abc", "jpg"))
}

func TestNewHashFunc(t *testing.T) {
	sha, err := NewHashFunc("")
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sha([]byte("abc")))

	b3, err := NewHashFunc(HashBLAKE3)
	require.NoError(t, err)
	assert.Len(t, b3([]byte("abc")), 64)
	assert.NotEqual(t, sha([]byte("abc")), b3([]byte("abc")))

	_, err = NewHashFunc("crc32")
	assert.Error(t, err)
}

func TestProcessError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &ProcessError{Stage: StageUpload, URL: "http://x/1.jpg", Err: errors.New("denied")})
	assert.True(t, IsStage(err, StageUpload))
	assert.False(t, IsStage(err, StageFetch))
	assert.Contains(t, err.Error(), "UPLOAD: http://x/1.jpg: denied")

	entryErr := &ProcessError{Stage: StageEntry, Entry: "A1", Err: errors.New("panic")}
	assert.Equal(t, "ENTRY: entry A1: panic", entryErr.Error())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "check-existence", StateCheckExistence.String())
	assert.Equal(t, "state(99)", State(99).String())
}

func TestStatsSnapshotString(t *testing.T) {
	s := StatsSnapshot{Uploaded: 1, ReusedNotModified: 2, ReusedExisting: 3, Skipped: 4}
	assert.Equal(t, "uploaded=1 reused_not_modified=2 reused_existing=3 skipped=4", s.String())
}
