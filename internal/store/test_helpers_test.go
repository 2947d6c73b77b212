package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/feedmirror/internal/pipeline"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// beginTestRun records a run started offset after baseTime.
func beginTestRun(t *testing.T, s *Store, runID string, offset time.Duration) {
	t.Helper()
	err := s.BeginRun(context.Background(), pipeline.RunInfo{
		RunID:       runID,
		StartedAt:   baseTime.Add(offset),
		Entries:     3,
		Concurrency: 4,
	})
	if err != nil {
		t.Fatalf("BeginRun(%q) failed: %v", runID, err)
	}
}
