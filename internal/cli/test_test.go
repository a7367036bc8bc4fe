package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../harness/testdata/scenarios"

const admitTwoScenario = `name: admit_two
description: Two vehicles fill a two-slot lot.
capacity: 2
require_registered_plate: false
steps:
  - action: check_in
    plate: ABC123
    expect: admitted
  - action: check_in
    plate: XYZ789
    expect: admitted
expect:
  active: [ABC123, XYZ789]
`

func TestTestCommand_HarnessScenarios(t *testing.T) {
	fx := newFixture(t)

	out, err := fx.run(t, "test", scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ capacity_two_accept")
	assert.Contains(t, out, "✓ offline_replay")
	assert.Contains(t, out, "All scenarios passed")
}

func TestTestCommand_Filter(t *testing.T) {
	fx := newFixture(t)

	out, err := fx.run(t, "test", scenariosDir, "--filter", "offline_*", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "offline_replay", resp.Data.Scenarios[0].Name)
}

func TestTestCommand_UpdateThenCompare(t *testing.T) {
	fx := newFixture(t)
	dir := filepath.Join(fx.dir, "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "admit_two.yaml"), []byte(admitTwoScenario), 0o644))

	out, err := fx.run(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ admit_two (golden updated)")

	golden := filepath.Join(dir, "golden", "admit_two.golden")
	require.FileExists(t, golden)

	_, err = fx.run(t, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte("stale\n"), 0o644))
	out, err = fx.run(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ admit_two")
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_Errors(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.run(t, "test", filepath.Join(fx.dir, "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	empty := t.TempDir()
	out, err := fx.run(t, "test", empty)
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}
