// Package fetch retrieves source images with conditional requests and
// bounded retry.
//
// A fetch attempt sequence starts in conditional mode when the caller holds
// validators (ETag / Last-Modified). Conditional mode is abandoned after the
// first failed attempt, and also when the server answers 304 but the caller
// has no stored object to fall back on: such a 304 would point at nothing,
// so the request is repeated unconditionally instead of being trusted.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// DefaultBaseDelay is the backoff before the second attempt; it doubles
// for each further attempt.
const DefaultBaseDelay = 200 * time.Millisecond

const maxBackoffShift = 30

// DefaultMaxBodyBytes caps a single image download.
const DefaultMaxBodyBytes int64 = 32 << 20

// Validators are the HTTP cache validators remembered for a URL.
type Validators struct {
	ETag         string
	LastModified string
}

// IsZero reports whether no validator is set.
func (v Validators) IsZero() bool {
	return v.ETag == "" && v.LastModified == ""
}

// Kind classifies a successful fetch.
type Kind int

const (
	// KindFresh means a full body was received.
	KindFresh Kind = iota + 1
	// KindNotModified means the server confirmed the stored object is current.
	KindNotModified
)

func (k Kind) String() string {
	switch k {
	case KindFresh:
		return "fresh"
	case KindNotModified:
		return "not-modified"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of a successful Fetch.
type Outcome struct {
	Kind       Kind
	Body       []byte
	MediaType  string
	Validators Validators
	Attempts   int
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fetcher issues GET requests for source images. It is safe for concurrent
// use; it holds no per-URL state.
type Fetcher struct {
	client       *http.Client
	sleep        SleepFunc
	baseDelay    time.Duration
	maxBodyBytes int64
	userAgent    string
	logger       *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithSleep replaces the backoff sleeper (tests use a recording sleeper).
func WithSleep(s SleepFunc) Option {
	return func(f *Fetcher) { f.sleep = s }
}

// WithBaseDelay sets the first backoff delay.
func WithBaseDelay(d time.Duration) Option {
	return func(f *Fetcher) { f.baseDelay = d }
}

// WithMaxBodyBytes sets the response size cap.
func WithMaxBodyBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBodyBytes = n }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithLogger sets the logger used for per-attempt debug output.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher. A nil client means http.DefaultClient.
func New(client *http.Client, opts ...Option) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	f := &Fetcher{
		client:       client,
		sleep:        Sleep,
		baseDelay:    DefaultBaseDelay,
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Backoff returns the delay slept after failed attempt number attempt
// (1-based): base * 2^(attempt-1). The doubling stops after 30 steps and
// the result saturates instead of overflowing.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := min(attempt-1, maxBackoffShift)
	if base > math.MaxInt64>>shift {
		return math.MaxInt64
	}
	return base << shift
}

// Fetch retrieves rawURL, making at most attempts failed attempts.
//
// hasStoredKey tells the fetcher whether a 304 can be honoured: without a
// stored object behind the validators, conditional mode is turned off and
// the request is re-issued at once, without consuming an attempt.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, v Validators, hasStoredKey bool, attempts int) (*Outcome, error) {
	if attempts < 1 {
		attempts = 1
	}
	conditional := !v.IsZero()

	var lastErr error
	failed := 0
	for failed < attempts {
		if failed > 0 {
			delay := Backoff(f.baseDelay, failed)
			if err := f.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		out, err := f.attempt(ctx, rawURL, v, conditional)
		if err == nil {
			if out.Kind == KindNotModified && !hasStoredKey {
				f.logger.Debug("304 without stored object, refetching unconditionally", "url", rawURL)
				conditional = false
				continue
			}
			out.Attempts = failed + 1
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		failed++
		lastErr = err
		conditional = false
		f.logger.Debug("fetch attempt failed", "url", rawURL, "attempt", failed, "error", err)
	}

	return nil, &ExhaustedError{URL: rawURL, Attempts: failed, Last: lastErr}
}

// attempt performs a single GET and classifies the response.
func (f *Fetcher) attempt(ctx context.Context, rawURL string, v Validators, conditional bool) (*Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if conditional {
		if v.ETag != "" {
			req.Header.Set("If-None-Match", v.ETag)
		}
		if v.LastModified != "" {
			req.Header.Set("If-Modified-Since", v.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		io.Copy(io.Discard, resp.Body)
		if !conditional {
			return nil, errUnsolicitedNotModified
		}
		return &Outcome{Kind: KindNotModified}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, errBodyTooLarge
	}

	return &Outcome{
		Kind:      KindFresh,
		Body:      body,
		MediaType: NormalizeMediaType(resp.Header.Get("Content-Type")),
		Validators: Validators{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		},
	}, nil
}

// IsExhausted reports whether err came from running out of attempts.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
