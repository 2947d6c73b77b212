package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/roach88/feedmirror/internal/pipeline"
)

func TestBeginRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	beginTestRun(t, s, "run-a", 0)
	beginTestRun(t, s, "run-a", time.Hour)

	runs, err := s.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	if !runs[0].StartedAt.Equal(baseTime) {
		t.Errorf("StartedAt = %v, want first write %v", runs[0].StartedAt, baseTime)
	}
	if runs[0].Finished() {
		t.Error("run should not be finished before FinishRun")
	}
}

func TestFinishRun_StoresSummary(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	beginTestRun(t, s, "run-a", 0)

	summary := pipeline.RunSummary{
		RunID:           "run-a",
		FinishedAt:      baseTime.Add(90 * time.Second),
		Concurrency:     2,
		Stats:           pipeline.StatsSnapshot{Uploaded: 3, ReusedNotModified: 4, ReusedExisting: 1, Skipped: 2},
		ManifestDigest:  "abc123",
		ManifestChanged: true,
	}
	if err := s.FinishRun(ctx, summary); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}

	run, err := s.GetRun(ctx, "run-a")
	if err != nil {
		t.Fatalf("GetRun() failed: %v", err)
	}
	if !run.Finished() || !run.FinishedAt.Equal(summary.FinishedAt) {
		t.Errorf("FinishedAt = %v, want %v", run.FinishedAt, summary.FinishedAt)
	}
	if run.Stats != summary.Stats {
		t.Errorf("Stats = %+v, want %+v", run.Stats, summary.Stats)
	}
	if run.Concurrency != 2 || run.Entries != 3 {
		t.Errorf("Concurrency/Entries = %d/%d, want 2/3", run.Concurrency, run.Entries)
	}
	if run.ManifestDigest != "abc123" || !run.ManifestChanged {
		t.Errorf("manifest fields = %q/%v", run.ManifestDigest, run.ManifestChanged)
	}
}

func TestFinishRun_UnknownRun(t *testing.T) {
	s := createTestStore(t)
	err := s.FinishRun(context.Background(), pipeline.RunSummary{RunID: "ghost", FinishedAt: baseTime})
	if err == nil {
		t.Error("expected error finishing unknown run, got nil")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetRun(context.Background(), "ghost")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun() error = %v, want ErrRunNotFound", err)
	}
}

func TestListRuns_NewestFirstWithLimit(t *testing.T) {
	s := createTestStore(t)
	beginTestRun(t, s, "run-a", 0)
	beginTestRun(t, s, "run-b", 2*time.Hour)
	beginTestRun(t, s, "run-c", time.Hour)

	runs, err := s.ListRuns(context.Background(), 2)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.RunID)
	}
	if fmt.Sprint(ids) != "[run-b run-c]" {
		t.Errorf("run order = %v, want [run-b run-c]", ids)
	}
}

func TestListRuns_Empty(t *testing.T) {
	s := createTestStore(t)
	runs, err := s.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if runs == nil || len(runs) != 0 {
		t.Errorf("ListRuns() = %#v, want empty non-nil slice", runs)
	}
}

func TestRecordURL_OrderAndFilter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	beginTestRun(t, s, "run-a", 0)

	events := []pipeline.URLEvent{
		{RunID: "run-a", URL: "http://x/1.jpg", Outcome: pipeline.OutcomeUploaded, StoredKey: "images/1.jpg"},
		{RunID: "run-a", URL: "http://x/2.jpg", Outcome: pipeline.OutcomeSkipped, Err: errors.New("FETCH: gave up")},
		{RunID: "run-a", URL: "http://x/3.jpg", Outcome: pipeline.OutcomeReusedNotModified, StoredKey: "images/3.jpg"},
	}
	for _, ev := range events {
		if err := s.RecordURL(ctx, ev); err != nil {
			t.Fatalf("RecordURL() failed: %v", err)
		}
	}

	all, err := s.RunEvents(ctx, "run-a", "")
	if err != nil {
		t.Fatalf("RunEvents() failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(all))
	}
	for i, ev := range all {
		if ev.URL != events[i].URL {
			t.Errorf("events[%d].URL = %q, want %q", i, ev.URL, events[i].URL)
		}
		if i > 0 && ev.Seq <= all[i-1].Seq {
			t.Errorf("seq not increasing at %d: %d <= %d", i, ev.Seq, all[i-1].Seq)
		}
	}
	if all[1].Error != "FETCH: gave up" {
		t.Errorf("error text = %q", all[1].Error)
	}

	skipped, err := s.RunEvents(ctx, "run-a", pipeline.OutcomeSkipped)
	if err != nil {
		t.Fatalf("RunEvents(skipped) failed: %v", err)
	}
	if len(skipped) != 1 || skipped[0].URL != "http://x/2.jpg" {
		t.Errorf("skipped events = %+v", skipped)
	}
}

func TestRecordURL_DuplicateURLKeepsFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	beginTestRun(t, s, "run-a", 0)

	first := pipeline.URLEvent{RunID: "run-a", URL: "http://x/1.jpg", Outcome: pipeline.OutcomeUploaded, StoredKey: "images/1.jpg"}
	second := pipeline.URLEvent{RunID: "run-a", URL: "http://x/1.jpg", Outcome: pipeline.OutcomeReusedExisting, StoredKey: "images/1.jpg"}
	for _, ev := range []pipeline.URLEvent{first, second} {
		if err := s.RecordURL(ctx, ev); err != nil {
			t.Fatalf("RecordURL() failed: %v", err)
		}
	}

	got, err := s.RunEvents(ctx, "run-a", "")
	if err != nil {
		t.Fatalf("RunEvents() failed: %v", err)
	}
	if len(got) != 1 || got[0].Outcome != pipeline.OutcomeUploaded {
		t.Errorf("events = %+v, want only the first outcome", got)
	}
}

func TestRecordURL_Concurrent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	beginTestRun(t, s, "run-a", 0)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.RecordURL(ctx, pipeline.URLEvent{
				RunID:   "run-a",
				URL:     fmt.Sprintf("http://x/%d.jpg", i),
				Outcome: pipeline.OutcomeUploaded,
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("RecordURL() failed: %v", err)
		}
	}

	got, err := s.RunEvents(ctx, "run-a", "")
	if err != nil {
		t.Fatalf("RunEvents() failed: %v", err)
	}
	if len(got) != n {
		t.Errorf("len(events) = %d, want %d", len(got), n)
	}
}
