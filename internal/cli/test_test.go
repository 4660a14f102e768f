package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `
name: passing
description: One post passes the filter.
filter:
  predicate: alternating-case
commits:
  - seq: 1
    create:
      - rkey: p1
        text: "aBcDeFg"
assertions:
  - type: ledger_contains
    post: p1
`

const failingScenario = `
name: failing
description: Expects a post the filter rejects.
filter:
  predicate: alternating-case
commits:
  - seq: 1
    create:
      - rkey: p1
        text: "plain text"
assertions:
  - type: ledger_contains
    post: p1
`

func executeTest(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := executeTest(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := executeTest(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	out, err := executeTest(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	out, err := executeTest(t, "json", t.TempDir())
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestTestCommandPassingScenario(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "passing.yaml"), passingScenario)

	out, err := executeTest(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ passing")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "passing.yaml"), passingScenario)
	writeFile(t, filepath.Join(dir, "failing.yaml"), failingScenario)

	out, err := executeTest(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ failing")
	assert.Contains(t, out, "Assertion failed: ledger_contains")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommandFailingScenarioJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "failing.yaml"), failingScenario)

	out, err := executeTest(t, "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "failing", resp.Data.Scenarios[0].Name)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.yaml"), "name: broken\n")

	out, err := executeTest(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommandFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "passing.yaml"), passingScenario)
	writeFile(t, filepath.Join(dir, "failing.yaml"), failingScenario)

	out, err := executeTest(t, "text", "--filter", "pass*", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 total")
	assert.NotContains(t, out, "failing")
}

func TestTestCommandGoldenFiles(t *testing.T) {
	dir := t.TempDir()
	scenarioFile := filepath.Join(dir, "passing.yaml")
	writeFile(t, scenarioFile, passingScenario)
	goldenFile := filepath.Join(dir, "golden", "passing.golden")

	_, err := executeTest(t, "text", "--update", dir)
	require.NoError(t, err)
	require.FileExists(t, goldenFile)

	golden, err := os.ReadFile(goldenFile)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name": "passing"`)
	assert.Contains(t, string(golden), "at://did:plc:alice/app.bsky.feed.post/p1")

	_, err = executeTest(t, "text", dir)
	require.NoError(t, err)

	writeFile(t, goldenFile, "{}\n")
	out, err := executeTest(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommandRepositoryScenarios(t *testing.T) {
	out, err := executeTest(t, "text", "../../testdata/scenarios")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ All scenarios passed")
}
