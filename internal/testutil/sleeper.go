package testutil

import (
	"context"
	"sync"
	"time"
)

// RecordingSleeper replaces real backoff sleeps in tests.
//
// Sleep returns immediately (unless ctx is already done) and records the
// requested duration, so retry schedules can be asserted without waiting.
//
// Thread-safety: all methods are safe for concurrent use.
type RecordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

// NewRecordingSleeper creates a sleeper with an empty record.
func NewRecordingSleeper() *RecordingSleeper {
	return &RecordingSleeper{}
}

// Sleep records d. Its signature matches fetch.SleepFunc.
func (s *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

// Delays returns a copy of the recorded durations in call order.
func (s *RecordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

// Reset clears the record.
func (s *RecordingSleeper) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = nil
}
