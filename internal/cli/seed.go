package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/castplan/internal/store"
)

// SeedResult counts the imported rows.
type SeedResult struct {
	Departments     int `json:"departments"`
	ActivityOptions int `json:"activity_options"`
	Groups          int `json:"groups"`
}

// RenderText prints the counts on one line.
func (r SeedResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Seeded %d department(s), %d activity option(s), %d group(s)\n",
		r.Departments, r.ActivityOptions, r.Groups)
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Import departments, activity options and production groups",
		Long: `Import a YAML fixture into the configured store. Existing rows with the
same ID are overwritten; generation stamps of existing groups are kept.

Example fixture:
  departments:
    - {id: dep-rest, name: Rest}
  activity_options: [Rest]
  groups:
    - id: grp-1
      name: PG100
      unit_count: 4
      delivery_date: "2025-06-30"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(rootOpts, args[0], cmd)
		},
	}
}

func runSeed(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	fixture, err := store.LoadFixture(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "cannot load fixture", err)
	}

	a, err := openApp(opts, cmd, formatter)
	if err != nil {
		return err
	}
	defer a.Close()

	formatter.VerboseLog("seeding %s", path)
	if err := store.Seed(cmd.Context(), a.store, fixture); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "seed failed", err)
	}
	return formatter.Success(SeedResult{
		Departments:     len(fixture.Departments),
		ActivityOptions: len(fixture.ActivityOptions),
		Groups:          len(fixture.Groups),
	})
}
