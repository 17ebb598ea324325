package cli

import (
	"github.com/spf13/cobra"

	"github.com/gillohner/pubky-nexus/internal/uri"
)

// NewReindexCommand creates the reindex command.
func NewReindexCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex <uri>...",
		Short: "Rebuild cache entries from the graph",
		Long: `Discard the cached records at the given URIs and reload them from the
graph. A record missing from the graph is left uncached.

Example:
  nexusd reindex pubky://alice/pub/pubky.app/calendars/0033SSE3B1FQ0`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runReindex(opts *RootOptions, raws []string, cmd *cobra.Command) error {
	out := formatter(opts, cmd)
	refs := make([]uri.Ref, 0, len(raws))
	for _, raw := range raws {
		ref, err := uri.Parse(raw)
		if err != nil {
			_ = out.Error(ErrCodeInvalidInput, err.Error(), nil)
			return WrapExitError(ExitCommandError, "invalid uri", err)
		}
		refs = append(refs, ref)
	}

	ctx := commandContext(cmd)
	rt, err := openRuntime(ctx, opts, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	done := make([]string, 0, len(refs))
	for _, ref := range refs {
		if err := rt.indexer.Reindex(ctx, ref); err != nil {
			return WrapExitError(ExitCommandError, "reindex failed", err)
		}
		out.VerboseLog("reindexed %s", ref)
		done = append(done, ref.String())
	}
	return out.Success(map[string]any{"reindexed": done})
}
