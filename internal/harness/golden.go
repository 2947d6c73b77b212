package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/feedmirror/internal/canonical"
)

// Snapshot renders a result as canonical JSON for golden comparison.
func Snapshot(name string, result *Result) ([]byte, error) {
	runs := make([]any, len(result.Runs))
	for i, tr := range result.Runs {
		runs[i] = tr.toCanonicalMap()
	}
	return canonical.Marshal(map[string]any{
		"scenario": name,
		"runs":     runs,
	})
}

// toCanonicalMap converts a RunTrace to the types canonical.Marshal accepts.
func (tr *RunTrace) toCanonicalMap() map[string]any {
	hits := make(map[string]any, len(tr.Hits))
	for path, n := range tr.Hits {
		hits[path] = n
	}

	stats := make(map[string]any, 4)
	for name, n := range statsByName(tr.Stats) {
		stats[name] = n
	}

	offers := make([]any, len(tr.Offers))
	for i, o := range tr.Offers {
		offers[i] = map[string]any{
			"identifier": o.Identifier,
			"urls":       o.URLs,
		}
	}

	records := make(map[string]any, len(tr.Manifest))
	for url, rec := range tr.Manifest {
		fields := make(map[string]string, 4)
		if rec.ETag != "" {
			fields["etag"] = rec.ETag
		}
		if rec.LastModified != "" {
			fields["lastModified"] = rec.LastModified
		}
		if rec.StoredKey != "" {
			fields["storedKey"] = rec.StoredKey
		}
		if rec.MediaType != "" {
			fields["mediaType"] = rec.MediaType
		}
		records[url] = fields
	}

	out := map[string]any{
		"name":              tr.Name,
		"run_id":            tr.RunID,
		"stats":             stats,
		"concurrency":       tr.Concurrency,
		"manifest_changed":  tr.ManifestChanged,
		"manifest_uploaded": tr.ManifestUploaded,
		"hits":              hits,
		"conditional":       tr.Conditional,
		"outcomes":          tr.Outcomes,
		"offers":            offers,
		"manifest":          records,
		"uploads":           tr.Uploads,
		"objects":           tr.Objects,
		"retry_delays":      tr.RetryDelays,
	}
	if tr.Err != "" {
		out["error"] = tr.Err
	}
	return out
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Unmet expectations are reported as test errors before the comparison.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
