package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessScenarios = "../harness/testdata/scenarios"

const singleUploadScenario = `name: single_upload
description: One image is fetched and stored.
runs:
  - name: first
    entries:
      - identifier: A1
        urls: [/a.jpg]
    origin:
      /a.jpg: { body: img-a, content_type: image/jpeg, etag: '"a1"' }
    expect:
      stats: { uploaded: %d }
`

func writeScenario(t *testing.T, dir string, uploaded int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	body := []byte(fmt.Sprintf(singleUploadScenario, uploaded))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "single_upload.yaml"), body, 0644))
}

func TestTest_BundledScenariosPass(t *testing.T) {
	out, err := execute(t, nil, "test", harnessScenarios)
	require.NoError(t, err, out)

	assert.Contains(t, out, "✓ conditional_reuse\n")
	assert.Contains(t, out, "✓ unsolicited_not_modified\n")
	assert.Contains(t, out, "Test Summary: 6 passed, 0 failed, 6 total")
}

func TestTest_FilterJSON(t *testing.T) {
	out, err := execute(t, nil, "--format", "json", "test", harnessScenarios, "--filter", "conditional_*")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "conditional_reuse", resp.Data.Scenarios[0].Name)
	assert.Equal(t, "match", resp.Data.Scenarios[0].Golden)
}

func TestTest_FailingExpectation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scenarios")
	writeScenario(t, dir, 5)

	out, err := execute(t, nil, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ single_upload")
	assert.Contains(t, out, `run "first": stats.uploaded = 1, want 5`)
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")
}

func TestTest_UpdateThenMatch(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "scenarios")
	writeScenario(t, dir, 1)

	out, err := execute(t, nil, "test", dir, "--update")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ single_upload (golden updated)")

	golden := filepath.Join(root, "golden", "single_upload.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario":"single_upload"`)

	out, err = execute(t, nil, "test", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ single_upload\n")

	require.NoError(t, os.WriteFile(golden, []byte("{}"), 0644))
	out, err = execute(t, nil, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "snapshot does not match golden file")
}

func TestTest_GoldenDirFlag(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "scenarios")
	writeScenario(t, dir, 1)
	goldenDir := filepath.Join(root, "elsewhere")

	_, err := execute(t, nil, "test", dir, "--update", "--golden-dir", goldenDir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(goldenDir, "single_upload.golden"))
}

func TestTest_CommandErrors(t *testing.T) {
	_, err := execute(t, nil, "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, nil, "test", harnessScenarios, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTest_NoScenarios(t *testing.T) {
	out, err := execute(t, nil, "test", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}
