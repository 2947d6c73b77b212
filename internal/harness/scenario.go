package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/feedmirror/internal/pipeline"
)

// Scenario defines a sequence of sync runs and what each must produce.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Options are the pipeline parameters shared by every run.
	Options ScenarioOptions `yaml:"options"`

	// Entries are the feed entries synced by every run that does not
	// override them.
	Entries []pipeline.SourceEntry `yaml:"entries"`

	// Runs execute in order against the same workspace.
	Runs []RunStep `yaml:"runs"`
}

// ScenarioOptions mirror pipeline.Options. Zero values take the defaults
// noted on each field.
type ScenarioOptions struct {
	Concurrency   int    `yaml:"concurrency,omitempty"`     // 1
	Attempts      int    `yaml:"attempts,omitempty"`        // 3
	Hash          string `yaml:"hash,omitempty"`            // sha256
	KeyPrefix     string `yaml:"key_prefix,omitempty"`      // images
	PublicBaseURL string `yaml:"public_base_url,omitempty"` // https://cdn.example.com
	ManifestKey   string `yaml:"manifest_key,omitempty"`    // no publish
}

// RunStep is one sync run.
type RunStep struct {
	// Name labels the run in errors and snapshots.
	Name string `yaml:"name"`

	// Entries, when set, replace the scenario entries for this run.
	Entries []pipeline.SourceEntry `yaml:"entries,omitempty"`

	// Origin installs or replaces resources before the run.
	Origin map[string]ResourceSpec `yaml:"origin,omitempty"`

	// Script queues one-shot responses per path before the run.
	Script map[string][]ResponseSpec `yaml:"script,omitempty"`

	// FailPuts makes every object store write fail during this run.
	FailPuts bool `yaml:"fail_puts,omitempty"`

	// Expect is checked after the run.
	Expect Expectation `yaml:"expect"`
}

// ResourceSpec describes a steady-state origin resource.
type ResourceSpec struct {
	Body         string `yaml:"body"`
	ContentType  string `yaml:"content_type,omitempty"`
	ETag         string `yaml:"etag,omitempty"`
	LastModified string `yaml:"last_modified,omitempty"`
	FailFirst    int    `yaml:"fail_first,omitempty"`
	FailStatus   int    `yaml:"fail_status,omitempty"`
}

// ResponseSpec describes a scripted one-shot origin response.
type ResponseSpec struct {
	Status       int    `yaml:"status"`
	Body         string `yaml:"body,omitempty"`
	ContentType  string `yaml:"content_type,omitempty"`
	ETag         string `yaml:"etag,omitempty"`
	LastModified string `yaml:"last_modified,omitempty"`
}

// Expectation lists what a run must produce. Nil or empty fields are not
// checked.
type Expectation struct {
	Stats            map[string]int64  `yaml:"stats,omitempty"`
	ManifestChanged  *bool             `yaml:"manifest_changed,omitempty"`
	ManifestUploaded *bool             `yaml:"manifest_uploaded,omitempty"`
	Hits             map[string]int    `yaml:"hits,omitempty"`
	Conditional      []string          `yaml:"conditional,omitempty"`
	Outcomes         map[string]string `yaml:"outcomes,omitempty"`
	Offers           map[string]int    `yaml:"offers,omitempty"`
	Objects          *int              `yaml:"objects,omitempty"`
	Error            string            `yaml:"error,omitempty"`
}

// statNames are the counters an expectation may reference.
var statNames = map[string]bool{
	"uploaded":            true,
	"reused_not_modified": true,
	"reused_existing":     true,
	"skipped":             true,
}

// validOutcomes are the ledger outcomes an expectation may reference.
var validOutcomes = map[string]bool{
	string(pipeline.OutcomeUploaded):          true,
	string(pipeline.OutcomeReusedNotModified): true,
	string(pipeline.OutcomeReusedExisting):    true,
	string(pipeline.OutcomeSkipped):           true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Runs) == 0 {
		return fmt.Errorf("runs list is required and must be non-empty")
	}
	if s.Options.Concurrency < 0 || s.Options.Attempts < 0 {
		return fmt.Errorf("options: concurrency and attempts must be non-negative")
	}
	if err := validateEntries("entries", s.Entries); err != nil {
		return err
	}

	for i, run := range s.Runs {
		if run.Name == "" {
			return fmt.Errorf("runs[%d]: name is required", i)
		}
		if run.Entries == nil && len(s.Entries) == 0 {
			return fmt.Errorf("runs[%d]: no entries to sync", i)
		}
		if err := validateEntries(fmt.Sprintf("runs[%d].entries", i), run.Entries); err != nil {
			return err
		}
		for path := range run.Origin {
			if !strings.HasPrefix(path, "/") {
				return fmt.Errorf("runs[%d].origin: path %q must start with /", i, path)
			}
		}
		for path, responses := range run.Script {
			if !strings.HasPrefix(path, "/") {
				return fmt.Errorf("runs[%d].script: path %q must start with /", i, path)
			}
			for j, r := range responses {
				if r.Status < 100 || r.Status > 599 {
					return fmt.Errorf("runs[%d].script[%s][%d]: invalid status %d", i, path, j, r.Status)
				}
			}
		}
		if err := validateExpectation(i, &run.Expect); err != nil {
			return err
		}
	}
	return nil
}

func validateEntries(field string, entries []pipeline.SourceEntry) error {
	for i, e := range entries {
		if e.Identifier == "" {
			return fmt.Errorf("%s[%d]: identifier is required", field, i)
		}
		if len(e.URLs) == 0 {
			return fmt.Errorf("%s[%d]: urls list is required", field, i)
		}
	}
	return nil
}

// validateExpectation rejects names the harness cannot check.
func validateExpectation(index int, e *Expectation) error {
	for name := range e.Stats {
		if !statNames[name] {
			return fmt.Errorf("runs[%d].expect.stats: unknown counter %q", index, name)
		}
	}
	for path, outcome := range e.Outcomes {
		if !validOutcomes[outcome] {
			return fmt.Errorf("runs[%d].expect.outcomes[%s]: unknown outcome %q", index, path, outcome)
		}
	}
	for path, n := range e.Hits {
		if n < 0 {
			return fmt.Errorf("runs[%d].expect.hits[%s]: count must be non-negative", index, path)
		}
	}
	if e.Objects != nil && *e.Objects < 0 {
		return fmt.Errorf("runs[%d].expect.objects: must be non-negative", index)
	}
	return nil
}
