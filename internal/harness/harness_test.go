package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestdata(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario := loadTestdata(t, name)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_FailedExpectationIsReported(t *testing.T) {
	scenario := loadTestdata(t, "first_run")
	wrong := 21
	scenario.Flow[0].Run.Expect.Created = &wrong

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "step 1: expected 21 created, got 22", result.Errors[0])
}

func TestRun_FailedAssertionIsReported(t *testing.T) {
	scenario := loadTestdata(t, "first_run")
	scenario.Assertions = []Assertion{
		{Type: AssertLiveCount, Count: 3},
		{Type: AssertMarker, Marker: "gen-1"},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: live_count")
	assert.Contains(t, result.Errors[0], "Expected: 3 records")
	assert.Contains(t, result.Errors[0], "Actual: 22 records")
}

func TestRun_UnexpectedRunErrorIsReported(t *testing.T) {
	scenario := loadTestdata(t, "first_run")
	scenario.Group = "ghost"
	scenario.Flow = []Step{{Run: &RunStep{}}}
	scenario.Assertions = []Assertion{{Type: AssertLiveCount, Count: 0}}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "run failed")
	assert.Equal(t, "GROUP_NOT_FOUND", result.Trace[0].Error)
}

func TestRun_UnfiredInsertIsReported(t *testing.T) {
	scenario := loadTestdata(t, "first_run")
	scenario.Flow = []Step{{ConcurrentInsert: &InsertStep{Key: "PG100-T1-Rest-Rest"}}}
	scenario.Assertions = []Assertion{{Type: AssertLiveCount, Count: 0}}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors, "concurrent insert was armed but no run re-checked before creating")
}

func TestRun_StepErrorAborts(t *testing.T) {
	scenario := loadTestdata(t, "first_run")
	scenario.Flow = []Step{{Duplicate: "PG100-T9-Rest-Rest"}}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow step 1 (duplicate)")
}

func TestRunWithLogger_LogsSteps(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	_, err := RunWithLogger(loadTestdata(t, "rerun"), log)
	require.NoError(t, err)

	var steps int
	for _, e := range hook.AllEntries() {
		if e.Message == "scenario step done" {
			steps++
		}
	}
	assert.Equal(t, 2, steps)
}
