// Package manifest holds the durable URL → stored-object mapping carried
// across sync runs, plus the per-offer output file.
//
// A run works with two manifests: the previous one (loaded at start, never
// mutated) and the next one (a Builder that starts empty and is filled by
// URL processors). At the end of the run the next manifest replaces the
// previous one wholesale; URLs that were not carried forward are dropped.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/roach88/feedmirror/internal/canonical"
)

// Record is the state kept for one source URL.
type Record struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
	StoredKey    string `json:"storedKey,omitempty"`
	MediaType    string `json:"mediaType,omitempty"`
}

// HasValidators reports whether a conditional request can be built from r.
func (r Record) HasValidators() bool {
	return r.ETag != "" || r.LastModified != ""
}

// toCanonical drops empty fields so that a missing validator and an empty
// one serialize identically.
func (r Record) toCanonical() map[string]any {
	out := make(map[string]any, 4)
	if r.ETag != "" {
		out["etag"] = r.ETag
	}
	if r.LastModified != "" {
		out["lastModified"] = r.LastModified
	}
	if r.StoredKey != "" {
		out["storedKey"] = r.StoredKey
	}
	if r.MediaType != "" {
		out["mediaType"] = r.MediaType
	}
	return out
}

// Manifest maps raw source URLs (not normalized) to their records.
type Manifest map[string]Record

// Lookup returns the record for url.
func (m Manifest) Lookup(url string) (Record, bool) {
	r, ok := m[url]
	return r, ok
}

// Load reads a manifest from path. A missing file yields an empty manifest.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes manifest JSON. Empty input yields an empty manifest.
func Parse(data []byte) (Manifest, error) {
	m := Manifest{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// Serialize returns the canonical byte form of m.
func Serialize(m Manifest) ([]byte, error) {
	obj := make(map[string]any, len(m))
	for url, rec := range m {
		obj[url] = rec.toCanonical()
	}
	data, err := canonical.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("serialize manifest: %w", err)
	}
	return data, nil
}

// HasChanged compares the canonical serializations of prev and next.
func HasChanged(prev, next Manifest) (bool, error) {
	a, err := Serialize(prev)
	if err != nil {
		return false, err
	}
	b, err := Serialize(next)
	if err != nil {
		return false, err
	}
	return string(a) != string(b), nil
}

// Digest returns the domain-separated SHA-256 of m's canonical form.
func Digest(m Manifest) (string, error) {
	data, err := Serialize(m)
	if err != nil {
		return "", err
	}
	return canonical.HashWithDomain(canonical.DomainManifest, data), nil
}

// Builder accumulates the next manifest during a run.
//
// Each URL processor writes only the key for the URL it owns, so writers
// touch disjoint keys. sync.Map is built for exactly that pattern and
// avoids a map-wide lock. If two entries share a URL and race, the last
// writer wins; content addressing makes both records equivalent.
type Builder struct {
	records sync.Map // string -> Record
}

// NewBuilder returns an empty next-manifest.
func NewBuilder() *Builder {
	return &Builder{}
}

// Merge inserts rec under url, replacing any earlier value.
func (b *Builder) Merge(url string, rec Record) {
	b.records.Store(url, rec)
}

// Get returns the record already written for url in this run.
func (b *Builder) Get(url string) (Record, bool) {
	v, ok := b.records.Load(url)
	if !ok {
		return Record{}, false
	}
	return v.(Record), true
}

// Snapshot copies the accumulated records into a plain Manifest.
// Call it after all writers have finished.
func (b *Builder) Snapshot() Manifest {
	m := Manifest{}
	b.records.Range(func(k, v any) bool {
		m[k.(string)] = v.(Record)
		return true
	})
	return m
}
