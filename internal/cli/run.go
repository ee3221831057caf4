package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/castplan/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	DryRun   bool
	Parallel int

	// MarkerGenerator allows overriding the generation marker source (for
	// testing). If nil, the engine default (UUIDv7) is used.
	MarkerGenerator engine.MarkerGenerator
}

// GroupReport is the outcome of one group in a run invocation.
type GroupReport struct {
	GroupID string         `json:"group_id"`
	Result  *engine.Result `json:"result,omitempty"`
	Code    string         `json:"code,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// RunReport is the outcome of a run invocation.
type RunReport struct {
	Groups    []GroupReport `json:"groups"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

// RenderText prints one line per group.
func (r RunReport) RenderText(w io.Writer) {
	for _, g := range r.Groups {
		if g.Error != "" {
			fmt.Fprintf(w, "✗ %s  [%s] %s\n", g.GroupID, g.Code, g.Error)
			continue
		}
		res := g.Result
		if res.DryRun {
			c := res.Counts
			fmt.Fprintf(w, "✓ %s  dry-run planned=%d create=%d update=%d refresh=%d unchanged=%d stale=%d\n",
				g.GroupID, c.Planned, c.Create, c.Update, c.Refresh, c.Unchanged, c.Stale)
			continue
		}
		l := res.Ledger
		fmt.Fprintf(w, "✓ %s  marker=%s created=%d updated=%d deleted=%d failed=%d\n",
			g.GroupID, res.Marker, len(l.Created), len(l.Updated), len(l.Deleted), l.Failed)
	}
	fmt.Fprintf(w, "\n%d succeeded, %d failed\n", r.Succeeded, r.Failed)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <group-id>...",
		Short: "Converge the allocations of production groups",
		Long: `Schedule each production group and converge its stored allocations
onto the plan under a fresh generation marker.

Groups are processed independently: a failing group does not stop the
others. With --dry-run the reconciliation plan is computed and printed, and
nothing is written.

Exit codes:
  0 - Every group converged
  1 - One or more groups failed
  2 - Command error (bad config, store unreachable, etc.)

Examples:
  castplan run grp-1
  castplan run --db ./castplan.db --parallel 4 grp-1 grp-2 grp-3
  castplan run --dry-run --format json grp-1`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGroups(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "compute and print the plan without writing")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 1, "number of groups processed concurrently")

	return cmd
}

func runGroups(opts *RunOptions, groupIDs []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.Parallel < 1 {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid --parallel", fmt.Errorf("must be at least 1, got %d", opts.Parallel))
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := openApp(opts.RootOptions, cmd, formatter)
	if err != nil {
		return err
	}
	defer a.Close()

	var engineOpts []engine.Option
	if opts.MarkerGenerator != nil {
		engineOpts = append(engineOpts, engine.WithMarkerGenerator(opts.MarkerGenerator))
	}
	eng, err := a.newEngine(ctx, engineOpts...)
	if err != nil {
		return err
	}

	report := RunReport{Groups: make([]GroupReport, len(groupIDs))}
	var g errgroup.Group
	g.SetLimit(opts.Parallel)
	for i, groupID := range groupIDs {
		i, groupID := i, groupID
		g.Go(func() error {
			formatter.VerboseLog("running %s", groupID)
			report.Groups[i] = runOne(ctx, eng, groupID, opts.DryRun)
			return nil
		})
	}
	_ = g.Wait()

	for _, gr := range report.Groups {
		if gr.Error != "" {
			report.Failed++
		} else {
			report.Succeeded++
		}
	}
	if err := formatter.Success(report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d groups failed", report.Failed, len(groupIDs)))
	}
	return nil
}

func runOne(ctx context.Context, eng *engine.Engine, groupID string, dryRun bool) GroupReport {
	var (
		res engine.Result
		err error
	)
	if dryRun {
		res, _, err = eng.DryRun(ctx, groupID)
	} else {
		res, err = eng.RunShared(ctx, groupID)
	}
	if err != nil {
		return GroupReport{GroupID: groupID, Code: runErrorCode(err), Error: err.Error()}
	}
	return GroupReport{GroupID: groupID, Result: &res}
}

// signalContext cancels on SIGINT or SIGTERM. It starts from the command's
// context when one is set (tests).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
