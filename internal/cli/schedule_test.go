package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/castplan/internal/schedule"
)

func TestScheduleCommand_Text(t *testing.T) {
	db := seededDB(t)

	stdout, stderr, err := executeCommand(t, "--db", db, "schedule", "grp-1")

	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "Group grp-1: 4 unit(s), delivery 2025-06-30\n")
	assert.Contains(t, stdout, "PHASE")
	assert.Contains(t, stdout, "2025-06-18")
}

func TestScheduleCommand_JSON(t *testing.T) {
	db := seededDB(t)

	stdout, _, err := executeCommand(t, "--db", db, "--format", "json", "schedule", "grp-1")
	require.NoError(t, err)

	var summary schedule.Summary
	decodeData(t, stdout, &summary)
	assert.Equal(t, "grp-1", summary.GroupID)
	assert.Equal(t, 4, summary.UnitCount)
	assert.False(t, summary.ExcludeExtraWeekday)
	require.NotEmpty(t, summary.Phases)

	var rest *schedule.Row
	for i := range summary.Phases {
		if summary.Phases[i].Phase == "Rest" {
			rest = &summary.Phases[i]
		}
	}
	require.NotNil(t, rest)
	assert.Equal(t, "2025-06-18", rest.End)
}

func TestScheduleCommand_WritesNothing(t *testing.T) {
	db := seededDB(t)

	_, _, err := executeCommand(t, "--db", db, "schedule", "grp-1")
	require.NoError(t, err)

	stdout, _, err := executeCommand(t, "--db", db, "history", "grp-1")
	require.NoError(t, err)
	assert.Equal(t, "No audit entries for grp-1.\n", stdout)
}

func TestScheduleCommand_Errors(t *testing.T) {
	db := seededDB(t)

	tests := []struct {
		name    string
		group   string
		errCode string
	}{
		{"unknown group", "grp-missing", "GROUP_NOT_FOUND"},
		{"invalid group", "grp-bad", "VALIDATION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := executeCommand(t, "--db", db, "schedule", tt.group)

			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, stdout, "Error ["+tt.errCode+"]: cannot schedule group")
		})
	}
}
