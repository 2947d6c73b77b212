package pipeline

import (
	"strings"

	"github.com/roach88/feedmirror/internal/manifest"
)

// SourceEntry is one feed offer and the image URLs it references.
type SourceEntry struct {
	Identifier string   `json:"identifier"`
	URLs       []string `json:"urls"`
}

// NormalizeEntries trims identifiers and URLs, drops empty URLs, removes
// duplicate URLs within an entry (first occurrence kept), and drops
// entries left without an identifier or without URLs.
func NormalizeEntries(entries []SourceEntry) []SourceEntry {
	out := make([]SourceEntry, 0, len(entries))
	for _, e := range entries {
		id := strings.TrimSpace(e.Identifier)
		if id == "" {
			continue
		}
		seen := make(map[string]struct{}, len(e.URLs))
		urls := make([]string, 0, len(e.URLs))
		for _, u := range e.URLs {
			u = strings.TrimSpace(u)
			if u == "" {
				continue
			}
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
		if len(urls) == 0 {
			continue
		}
		out = append(out, SourceEntry{Identifier: id, URLs: urls})
	}
	return out
}

// Options are the run parameters shared by the scheduler and processors.
type Options struct {
	// Concurrency is the configured worker count; values below 1 mean 1.
	Concurrency int
	// Attempts is the fetch attempt budget per URL; values below 1 mean 1.
	Attempts int
	// KeyPrefix is prepended to content-addressed keys ("images" → images/<hash>.<ext>).
	KeyPrefix string
	// PublicBaseURL is joined with stored keys to form resolved URLs.
	PublicBaseURL string
	// Hash names the content hash: "sha256" (default) or "blake3".
	Hash string
}

// RunResult is everything a run produced.
type RunResult struct {
	RunID       string
	Offers      []manifest.OfferResult
	Next        manifest.Manifest
	Stats       StatsSnapshot
	Concurrency int
}
