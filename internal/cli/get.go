package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gillohner/pubky-nexus/internal/uri"
)

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <uri>",
		Short: "Print the indexed record at a URI",
		Long: `Print the indexed record at a content URI, reading through the cache.

Example:
  nexusd get pubky://alice/pub/pubky.app/posts/0033SSE3B1FQ0
  nexusd get --format json pubky://alice/pub/pubky.app/profile.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runGet(opts *RootOptions, raw string, cmd *cobra.Command) error {
	out := formatter(opts, cmd)
	ref, err := uri.Parse(raw)
	if err != nil {
		_ = out.Error(ErrCodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid uri", err)
	}

	ctx := commandContext(cmd)
	rt, err := openRuntime(ctx, opts, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	rec, ok, err := rt.indexer.Get(ctx, ref)
	if err != nil {
		return WrapExitError(ExitCommandError, "lookup failed", err)
	}
	if !ok {
		return notFound(out, ref.String())
	}
	return out.Success(rec)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func notFound(out *OutputFormatter, what string) error {
	msg := fmt.Sprintf("%s is not indexed", what)
	_ = out.Error(ErrCodeNotFound, msg, nil)
	return NewExitError(ExitFailure, msg)
}
