package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot is the golden form of a scenario run: what the pipeline
// decided and what the ledger holds afterwards.
type Snapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
	Ledger       []LedgerRow  `json:"ledger"`
}

// MarshalSnapshot renders the golden bytes for a run. Output is indented
// JSON with a trailing newline so golden files diff cleanly.
func MarshalSnapshot(scenario *Scenario, result *Result) ([]byte, error) {
	data, err := json.MarshalIndent(Snapshot{
		ScenarioName: scenario.Name,
		Trace:        result.Trace,
		Ledger:       result.Ledger,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	data, err := MarshalSnapshot(scenario, result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)

	return result, nil
}

// GoldenPath returns where the CLI keeps the golden file for a scenario
// file: a golden/ directory beside it.
func GoldenPath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// UpdateGolden writes the snapshot for a run to GoldenPath(scenarioFile).
func UpdateGolden(scenarioFile string, scenario *Scenario, result *Result) error {
	data, err := MarshalSnapshot(scenario, result)
	if err != nil {
		return err
	}

	path := GoldenPath(scenarioFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// CompareGolden reports whether a run matches GoldenPath(scenarioFile).
// A missing golden file returns os.ErrNotExist.
func CompareGolden(scenarioFile string, scenario *Scenario, result *Result) (bool, error) {
	want, err := os.ReadFile(GoldenPath(scenarioFile))
	if err != nil {
		return false, err
	}
	got, err := MarshalSnapshot(scenario, result)
	if err != nil {
		return false, err
	}
	return string(want) == string(got), nil
}
