package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const fixtureYAML = `departments:
  - {id: dep-ont, name: Ontwerp}
  - {id: dep-bek, name: Bekisting}
  - {id: dep-las, name: Lashoek}
  - {id: dep-bet, name: Beton}
  - {id: dep-rest, name: Rest}
activity_options: [Ontwerp 1, Ontwerp 2, Create, Reuse, Las, Beton, Rest]
groups:
  - id: grp-1
    name: PG100
    unit_count: 4
    delivery_date: "2025-06-30"
    rest_rate: 2
    cast_rate: 4
    weld_rate: 5
    reuse_rate: 3
    create_hours: 100
    design1_hours: 16
    design2_hours: 24
  - id: grp-2
    name: PG200
    unit_count: 2
    delivery_date: "2025-09-15"
    rest_rate: 1
    cast_rate: 2
    weld_rate: 2
    reuse_rate: 1
    create_hours: 40
    design1_hours: 8
    design2_hours: 8
  - id: grp-bad
    name: PG300
    unit_count: 0
    delivery_date: "2025-06-30"
    rest_rate: 1
    cast_rate: 1
    weld_rate: 1
    reuse_rate: 1
    create_hours: 8
    design1_hours: 8
    design2_hours: 8
`

// executeCommand runs the root command with args and captures both streams.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// writeFile writes content under a fresh temp dir and returns its path.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// seededDB returns the path of a SQLite database loaded with fixtureYAML.
func seededDB(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "castplan.db")
	fixture := writeFile(t, "fixture.yaml", fixtureYAML)

	_, stderr, err := executeCommand(t, "--db", db, "seed", fixture)
	require.NoError(t, err, stderr)
	return db
}

// decodeData decodes the data member of a JSON CLIResponse into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}
