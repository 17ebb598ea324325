package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gillohner/pubky-nexus/internal/graph"
	"github.com/gillohner/pubky-nexus/internal/uri"
	"github.com/gillohner/pubky-nexus/internal/view"
)

// StreamOptions holds flags for the stream command.
type StreamOptions struct {
	*RootOptions
	Start    string
	End      string
	Tags     []string
	Authors  []string
	Calendar string
	Admin    string
	Skip     int
	Limit    int
}

// NewStreamCommand creates the stream command.
func NewStreamCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StreamOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stream <events|calendars>",
		Short: "List events or calendars with their tags",
		Long: `List indexed events or calendars, filtered and paginated.

Events are ordered by start time and can be bounded with --start and --end
(RFC 3339). Calendars can be narrowed to those a user administers.

Example:
  nexusd stream events --start 2026-01-01T00:00:00Z --tag music --limit 20
  nexusd stream calendars --admin alice`,
		Args:          cobra.ExactArgs(1),
		ValidArgs:     []string{"events", "calendars"},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Start, "start", "", "earliest event start (RFC 3339)")
	cmd.Flags().StringVar(&opts.End, "end", "", "latest event start (RFC 3339)")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "keep items carrying this tag label")
	cmd.Flags().StringSliceVar(&opts.Authors, "author", nil, "keep items by this author")
	cmd.Flags().StringVar(&opts.Calendar, "calendar", "", "keep events linked to this calendar URI")
	cmd.Flags().StringVar(&opts.Admin, "admin", "", "keep calendars this user administers")
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "items to skip")
	cmd.Flags().IntVar(&opts.Limit, "limit", view.DefaultLimit, fmt.Sprintf("items to return (max %d)", view.MaxLimit))

	return cmd
}

func runStream(opts *StreamOptions, what string, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd)
	invalid := func(err error) error {
		_ = out.Error(ErrCodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid stream filter", err)
	}

	var (
		ef graph.EventFilter
		cf graph.CalendarFilter
	)
	switch what {
	case "events":
		f, err := opts.eventFilter()
		if err != nil {
			return invalid(err)
		}
		ef = f
	case "calendars":
		cf = graph.CalendarFilter{
			Tags:    opts.Tags,
			Authors: opts.Authors,
			Admin:   opts.Admin,
			Skip:    opts.Skip,
			Limit:   opts.Limit,
		}
	default:
		return invalid(fmt.Errorf("unknown stream %q: must be events or calendars", what))
	}

	ctx := commandContext(cmd)
	rt, err := openRuntime(ctx, opts.RootOptions, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	var items any
	if what == "events" {
		items, err = rt.composer.StreamEvents(ctx, ef)
	} else {
		items, err = rt.composer.StreamCalendars(ctx, cf)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "stream failed", err)
	}
	return out.Success(items)
}

func (o *StreamOptions) eventFilter() (graph.EventFilter, error) {
	f := graph.EventFilter{
		Tags:    o.Tags,
		Authors: o.Authors,
		Skip:    o.Skip,
		Limit:   o.Limit,
	}
	var err error
	if f.StartMicros, err = micros("start", o.Start); err != nil {
		return f, err
	}
	if f.EndMicros, err = micros("end", o.End); err != nil {
		return f, err
	}
	if o.Calendar != "" {
		ref, err := uri.ParseAs(o.Calendar, uri.KindCalendar)
		if err != nil {
			return f, err
		}
		f.Calendar = &graph.NodeKey{Label: graph.LabelCalendar, AuthorID: ref.AuthorID, ID: ref.ID}
	}
	return f, nil
}

func micros(flag, value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", flag, err)
	}
	return t.UnixMicro(), nil
}
