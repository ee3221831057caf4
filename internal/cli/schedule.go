package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/castplan/internal/engine"
	"github.com/roach88/castplan/internal/schedule"
)

// scheduleView renders a timeline summary.
type scheduleView struct {
	schedule.Summary
}

// RenderText prints the phases as a table, latest phase last.
func (v scheduleView) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Group %s: %d unit(s), delivery %s", v.GroupID, v.UnitCount, v.DeliveryDate)
	if v.ExcludeExtraWeekday {
		fmt.Fprint(w, ", extra weekday excluded")
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tSTART\tEND\tHOURS")
	for _, row := range v.Phases {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.Phase, row.Start, row.End, row.Hours)
	}
	tw.Flush()
}

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <group-id>",
		Short: "Validate a production group and print its phase timeline",
		Long: `Validate a production group and print the backward phase timeline
computed from its delivery date. Nothing is written.

Examples:
  castplan schedule grp-1
  castplan schedule --format json grp-1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(rootOpts, args[0], cmd)
		},
	}
}

func runSchedule(opts *RootOptions, groupID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	a, err := openApp(opts, cmd, formatter)
	if err != nil {
		return err
	}
	defer a.Close()

	eng := engine.New(a.store, a.cfg, engine.WithLogger(a.log), engine.WithMetrics(a.metrics))
	timeline, err := eng.Schedule(cmd.Context(), groupID)
	if err != nil {
		return formatter.Fail(ExitFailure, runErrorCode(err), "cannot schedule group", err)
	}
	return formatter.Success(scheduleView{timeline.Summary()})
}
