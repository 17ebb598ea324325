package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gillohner/pubky-nexus/internal/indexer"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// FlowGenerator overrides the flow token generator (for testing).
	FlowGenerator indexer.FlowGenerator
}

// RunSummary counts the outcome of every processed event.
type RunSummary struct {
	Indexed int `json:"indexed"`
	Parked  int `json:"parked"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	// Remaining is the number of events still parked after the final
	// replay.
	Remaining int `json:"remaining"`
}

func (s RunSummary) String() string {
	return fmt.Sprintf("indexed=%d parked=%d skipped=%d failed=%d remaining=%d",
		s.Indexed, s.Parked, s.Skipped, s.Failed, s.Remaining)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <events-file>...",
		Short: "Index a batch of homeserver events",
		Long: `Index homeserver events read from YAML batch files.

Events are processed in file order. Events whose dependencies are not
indexed yet are parked and replayed once the batch is done.

Example:
  nexusd run ./events.yaml
  nexusd run -c nexus.yaml --format json day1.yaml day2.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, args, cmd)
		},
	}

	return cmd
}

func runEvents(opts *RunOptions, files []string, cmd *cobra.Command) error {
	var events []indexer.Event
	for _, f := range files {
		batch, err := LoadEvents(f)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load events", err)
		}
		events = append(events, batch...)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, opts.RootOptions, opts.FlowGenerator)
	if err != nil {
		return err
	}
	defer rt.Close()

	var refresherDone chan error
	if rt.cfg.Indexer.AsyncRefresh {
		refresherDone = make(chan error, 1)
		go func() { refresherDone <- rt.refresher.Run(ctx) }()
	}

	rt.logger.Info("processing events", "count", len(events))
	var summary RunSummary
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return WrapExitError(ExitCommandError, "interrupted", err)
		}
		err := rt.indexer.Process(ctx, ev)
		switch {
		case err == nil:
			summary.Indexed++
		case indexer.IsRetryable(err):
			summary.Parked++
		case indexer.IsSkip(err):
			summary.Skipped++
		default:
			summary.Failed++
			rt.logger.Error("event failed", "event", ev.Key(), "error", err)
		}
	}

	// Backfills may index dependencies after their dependents were parked.
	rt.resolver.Wait()
	summary.Remaining, err = rt.indexer.ReplayParked(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay parked events", err)
	}

	if refresherDone != nil {
		rt.refresher.Stop()
		if err := <-refresherDone; err != nil {
			rt.logger.Warn("refresher stopped early", "error", err)
		}
	}

	if err := formatter(opts.RootOptions, cmd).Success(summary); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d events failed", summary.Failed))
	}
	return nil
}
