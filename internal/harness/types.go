package harness

import (
	"github.com/roach88/feedmirror/internal/manifest"
	"github.com/roach88/feedmirror/internal/pipeline"
)

// RunTrace is everything observed during one run. URLs served by the
// scripted origin are recorded as bare paths.
type RunTrace struct {
	Name             string
	RunID            string
	Stats            pipeline.StatsSnapshot
	Concurrency      int
	ManifestChanged  bool
	ManifestUploaded bool
	Err              string

	// Hits counts origin requests per path.
	Hits map[string]int
	// Conditional lists paths that received a conditional request, sorted.
	Conditional []string
	// Outcomes maps each path to its ledger outcome.
	Outcomes map[string]string
	// Offers is the sorted per-offer output.
	Offers []manifest.OfferResult
	// Manifest is the next manifest as written to disk.
	Manifest manifest.Manifest
	// Uploads lists keys written to the object store during the run, sorted.
	Uploads []string
	// Objects is the number of distinct stored objects after the run.
	Objects int
	// RetryDelays are the backoff sleeps requested during the run, sorted.
	RetryDelays []string
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every run met its expectations.
	Pass bool

	// Runs holds one trace per executed run, in order.
	Runs []RunTrace

	// Errors contains expectation failures.
	// Empty if Pass is true.
	Errors []string
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Runs:   []RunTrace{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
