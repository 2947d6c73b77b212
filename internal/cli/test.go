package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/feedmirror/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string // defaults to <scenarios-dir>/../golden
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "match", "updated" or "" when absent
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run sync scenarios against a scripted origin",
		Long: `Run YAML sync scenarios through the pipeline.

Each scenario drives one or more sync runs against an in-process origin and
an in-memory object store, then checks the expected counters, requests and
outcomes. When a golden file named after the scenario exists, the run
snapshot must also match it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (missing directory, bad filter, etc.)

Examples:
  feedmirror test ./scenarios
  feedmirror test ./scenarios --filter "retry_*"
  feedmirror test ./scenarios --update
  feedmirror test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden-dir", "", "golden file directory (default: <scenarios-dir>/../golden)")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	if _, err := os.Stat(scenariosDir); errors.Is(err, fs.ErrNotExist) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}
	goldenDir := opts.GoldenDir
	if goldenDir == "" {
		goldenDir = filepath.Join(filepath.Dir(filepath.Clean(scenariosDir)), "golden")
	}

	files, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	if len(files) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(cmd, TestResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		sr := runScenario(file, goldenDir, opts.Update)
		if opts.Format != "json" {
			printScenarioResult(cmd, sr)
		}
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	return outputTestText(cmd, result)
}

// findScenarioFiles finds all YAML scenario files under dir, sorted by path.
func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// runScenario executes one scenario file and compares or updates its golden
// snapshot.
func runScenario(file, goldenDir string, update bool) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}
	sr := ScenarioResult{Name: scenario.Name}

	result, err := harness.Run(scenario)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return sr
	}
	sr.Errors = result.Errors

	snapshot, err := harness.Snapshot(scenario.Name, result)
	if err != nil {
		sr.Errors = append(sr.Errors, fmt.Sprintf("snapshot failed: %v", err))
		return sr
	}
	goldenPath := filepath.Join(goldenDir, scenario.Name+".golden")

	if update {
		if err := os.MkdirAll(goldenDir, 0755); err != nil {
			sr.Errors = append(sr.Errors, fmt.Sprintf("failed to create golden directory: %v", err))
			return sr
		}
		if err := os.WriteFile(goldenPath, snapshot, 0644); err != nil {
			sr.Errors = append(sr.Errors, fmt.Sprintf("failed to write golden file: %v", err))
			return sr
		}
		sr.Golden = "updated"
		sr.Pass = result.Pass
		return sr
	}

	want, err := os.ReadFile(goldenPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Expectations alone decide.
	case err != nil:
		sr.Errors = append(sr.Errors, fmt.Sprintf("failed to read golden file: %v", err))
		return sr
	case !bytes.Equal(want, snapshot):
		sr.Errors = append(sr.Errors, "snapshot does not match golden file (run with --update to regenerate)")
		return sr
	default:
		sr.Golden = "match"
	}

	sr.Pass = result.Pass
	return sr
}

func printScenarioResult(cmd *cobra.Command, sr ScenarioResult) {
	w := cmd.OutOrStdout()
	if sr.Pass {
		suffix := ""
		if sr.Golden == "updated" {
			suffix = " (golden updated)"
		}
		fmt.Fprintf(w, "✓ %s%s\n", sr.Name, suffix)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", sr.Name)
	for _, e := range sr.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeTestFailed,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if result.Failed > 0 {
		err := NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
		err.Reported = true
		return err
	}
	return nil
}

// outputTestText outputs the test summary as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
