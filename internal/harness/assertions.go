package harness

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/feedmirror/internal/manifest"
	"github.com/roach88/feedmirror/internal/pipeline"
)

// checkExpectation compares a run trace against its expectation and
// returns one message per mismatch.
func checkExpectation(e Expectation, tr *RunTrace) []string {
	var failures []string
	fail := func(format string, args ...any) {
		failures = append(failures, fmt.Sprintf(format, args...))
	}

	switch {
	case e.Error != "" && tr.Err == "":
		fail("expected error containing %q, run succeeded", e.Error)
	case e.Error != "" && !strings.Contains(tr.Err, e.Error):
		fail("error = %q, want substring %q", tr.Err, e.Error)
	case e.Error == "" && tr.Err != "":
		fail("unexpected error: %s", tr.Err)
	}

	stats := statsByName(tr.Stats)
	for _, name := range slices.Sorted(maps.Keys(e.Stats)) {
		if got, want := stats[name], e.Stats[name]; got != want {
			fail("stats.%s = %d, want %d", name, got, want)
		}
	}

	if e.ManifestChanged != nil && *e.ManifestChanged != tr.ManifestChanged {
		fail("manifest_changed = %t, want %t", tr.ManifestChanged, *e.ManifestChanged)
	}
	if e.ManifestUploaded != nil && *e.ManifestUploaded != tr.ManifestUploaded {
		fail("manifest_uploaded = %t, want %t", tr.ManifestUploaded, *e.ManifestUploaded)
	}

	for _, path := range slices.Sorted(maps.Keys(e.Hits)) {
		if got, want := tr.Hits[path], e.Hits[path]; got != want {
			fail("hits[%s] = %d, want %d", path, got, want)
		}
	}

	for _, path := range e.Conditional {
		if !slices.Contains(tr.Conditional, path) {
			fail("expected a conditional request for %s, got conditional requests for %v", path, tr.Conditional)
		}
	}

	for _, path := range slices.Sorted(maps.Keys(e.Outcomes)) {
		got, ok := tr.Outcomes[path]
		switch {
		case !ok:
			fail("outcomes[%s]: no outcome recorded", path)
		case got != e.Outcomes[path]:
			fail("outcomes[%s] = %s, want %s", path, got, e.Outcomes[path])
		}
	}

	for _, id := range slices.Sorted(maps.Keys(e.Offers)) {
		if got, want := offerURLCount(tr.Offers, id), e.Offers[id]; got != want {
			fail("offers[%s] has %d urls, want %d", id, got, want)
		}
	}

	if e.Objects != nil && tr.Objects != *e.Objects {
		fail("objects = %d, want %d", tr.Objects, *e.Objects)
	}

	return failures
}

func statsByName(s pipeline.StatsSnapshot) map[string]int64 {
	return map[string]int64{
		"uploaded":            s.Uploaded,
		"reused_not_modified": s.ReusedNotModified,
		"reused_existing":     s.ReusedExisting,
		"skipped":             s.Skipped,
	}
}

// offerURLCount returns how many URLs the offer resolved; 0 if absent.
func offerURLCount(offers []manifest.OfferResult, id string) int {
	for _, o := range offers {
		if o.Identifier == id {
			return len(o.URLs)
		}
	}
	return 0
}
