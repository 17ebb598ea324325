package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gillohner/pubky-nexus/internal/uri"
	"github.com/gillohner/pubky-nexus/internal/view"
)

// NewViewCommand creates the view command.
func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <uri>",
		Short: "Print the composed view of an event, calendar or post",
		Long: `Compose the view of an event, calendar or post: its details together
with tags, attendees, linked events, admins or replies.

Example:
  nexusd view pubky://alice/pub/pubky.app/events/0033SSE3B1FQ0`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runView(opts *RootOptions, raw string, cmd *cobra.Command) error {
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

	var (
		v  any
		ok bool
	)
	switch ref.Kind {
	case uri.KindEvent:
		v, ok, err = nonNil[view.EventView](rt.composer.Event(ctx, ref.AuthorID, ref.ID))
	case uri.KindCalendar:
		v, ok, err = nonNil[view.CalendarView](rt.composer.Calendar(ctx, ref.AuthorID, ref.ID))
	case uri.KindPost:
		v, ok, err = nonNil[view.PostView](rt.composer.Post(ctx, ref.AuthorID, ref.ID))
	default:
		msg := fmt.Sprintf("%s kind has no view", ref.Kind)
		_ = out.Error(ErrCodeInvalidInput, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "compose failed", err)
	}
	if !ok {
		return notFound(out, ref.String())
	}
	return out.Success(v)
}

// nonNil keeps a missing view from becoming a non-nil interface.
func nonNil[T any](v *T, ok bool, err error) (any, bool, error) {
	if err != nil || !ok {
		return nil, false, err
	}
	return v, true, nil
}
