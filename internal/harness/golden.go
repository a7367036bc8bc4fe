package harness

import (
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// GoldenDir is the golden file directory, relative to a scenarios directory.
const GoldenDir = "golden"

// GoldenPath returns the golden file for a scenario in scenariosDir.
func GoldenPath(scenariosDir, name string) string {
	return filepath.Join(scenariosDir, GoldenDir, name+".golden")
}

// RunWithGolden executes a scenario and compares its trace against
// scenariosDir/golden/{scenario.Name}.golden. Unmet step or final
// expectations fail the test as well.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, scenariosDir string) *Result {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, msg)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(filepath.Join(scenariosDir, GoldenDir)),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, Render(scenario.Name, result))
	return result
}
