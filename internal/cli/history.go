package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/castplan/internal/model"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
}

// History is the audit trail of one group, newest first.
type History struct {
	GroupID string             `json:"group_id"`
	Entries []model.AuditEntry `json:"entries"`
}

// RenderText prints one row per audit entry.
func (h History) RenderText(w io.Writer) {
	if len(h.Entries) == 0 {
		fmt.Fprintf(w, "No audit entries for %s.\n", h.GroupID)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tACTION\tMARKER\tPLANNED\tCREATED\tUPDATED\tDELETED\tFAILED")
	for _, e := range h.Entries {
		d := e.Details
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			e.At.UTC().Format(time.RFC3339), e.Action, e.Marker,
			d.Planned, d.Created, d.Updated, d.Deleted, d.Failed)
	}
	tw.Flush()
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <group-id>",
		Short: "List the audit entries of a production group",
		Long: `List the audit entries written by runs of a production group, newest
first.

Examples:
  castplan history grp-1
  castplan history --limit 5 --format json grp-1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of entries (0 for all)")

	return cmd
}

func runHistory(opts *HistoryOptions, groupID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.Limit < 0 {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid --limit", fmt.Errorf("must not be negative, got %d", opts.Limit))
	}

	a, err := openApp(opts.RootOptions, cmd, formatter)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.store.ListAudit(cmd.Context(), groupID, opts.Limit)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot read audit entries", err)
	}
	return formatter.Success(History{GroupID: groupID, Entries: entries})
}
