package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "testdata/scenarios"

func TestScenarios_Golden(t *testing.T) {
	files, err := filepath.Glob(filepath.Join(scenariosDir, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		scenario, err := LoadScenario(file)
		require.NoError(t, err, file)
		t.Run(scenario.Name, func(t *testing.T) {
			result := RunWithGolden(t, scenario, scenariosDir)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_StepExpectationMismatch(t *testing.T) {
	scenario := &Scenario{
		Name:        "mismatch",
		Description: "expects the wrong outcome",
		Capacity:    1,
		Steps: []Step{
			{Action: ActionCheckIn, Plate: "AA111", Expect: "waitlisted"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `step 1 check_in AA111: expected "waitlisted", got "admitted"`)
}

func TestRun_DefaultCapacity(t *testing.T) {
	scenario := &Scenario{
		Name:        "default_capacity",
		Description: "capacity falls back to the default",
		Steps: []Step{
			{Action: ActionCheckIn, Plate: "AA111", Expect: "admitted"},
			{Action: ActionCheckIn, Plate: "BB222", Expect: "admitted"},
			{Action: ActionCheckIn, Plate: "CC333", Expect: "waitlisted"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"AA111", "BB222"}, result.Final.Active)
	assert.Equal(t, []string{"CC333"}, result.Final.Waitlist)
}

func TestRun_OfflineSyncAborts(t *testing.T) {
	scenario := &Scenario{
		Name:        "offline_sync",
		Description: "a pass while the remote is down stops without charging attempts",
		Steps: []Step{
			{Action: ActionGoOffline},
			{Action: ActionCheckIn, Plate: "AA111"},
			{Action: ActionSync, Expect: "delivered=0 failed=0 deferred=0 dead_lettered=0 aborted"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 1, result.Final.Pending)
	assert.Empty(t, result.Journal)
}

func TestRender_EmptyJournal(t *testing.T) {
	r := NewResult()
	r.Steps = append(r.Steps, StepResult{Index: 1, Action: ActionGoOffline, Outcome: "ok"})
	r.Final.Promotion = "idle"

	want := "scenario: quiet\n" +
		"steps:\n" +
		"  1 go_offline -> ok\n" +
		"remote:\n" +
		"  -\n" +
		"final:\n" +
		"  active: -\n" +
		"  waitlist: -\n" +
		"  waitlist_count: 0\n" +
		"  pending: 0\n" +
		"  dead_letters: 0\n" +
		"  promotion: idle\n"
	assert.Equal(t, want, string(Render("quiet", r)))
}
