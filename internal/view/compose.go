package view

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/gillohner/pubky-nexus/internal/engine"
	"github.com/gillohner/pubky-nexus/internal/graph"
	"github.com/gillohner/pubky-nexus/internal/index"
	"github.com/gillohner/pubky-nexus/internal/model"
)

// Composer builds views.
type Composer struct {
	records *index.Registry
	store   graph.Store
	logger  *slog.Logger
}

// NewComposer creates a Composer. Primary records are read through
// records; related collections come from store.
func NewComposer(records *index.Registry, store graph.Store, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{records: records, store: store, logger: logger}
}

// Event returns the composed view of an event.
func (c *Composer) Event(ctx context.Context, authorID, id string) (*EventView, bool, error) {
	details, ok, err := c.records.Events.GetByID(ctx, authorID, id)
	if err != nil || !ok {
		return nil, false, err
	}
	key := graph.NodeKey{Label: graph.LabelEvent, AuthorID: authorID, ID: id}
	v := &EventView{Details: details}

	var g errgroup.Group
	g.Go(func() error {
		v.Tags = c.tags(ctx, key)
		return nil
	})
	g.Go(func() error {
		v.Attendees = c.attendees(ctx, key)
		return nil
	})
	_ = g.Wait()
	return v, true, nil
}

// Calendar returns the composed view of a calendar.
func (c *Composer) Calendar(ctx context.Context, authorID, id string) (*CalendarView, bool, error) {
	details, ok, err := c.records.Calendars.GetByID(ctx, authorID, id)
	if err != nil || !ok {
		return nil, false, err
	}
	key := graph.NodeKey{Label: graph.LabelCalendar, AuthorID: authorID, ID: id}
	v := &CalendarView{Details: details}

	var g errgroup.Group
	g.Go(func() error {
		v.Tags = c.tags(ctx, key)
		return nil
	})
	g.Go(func() error {
		v.Events = c.uris(ctx, key, graph.EdgeBelongsTo, "events")
		return nil
	})
	g.Go(func() error {
		v.Admins = c.userIDs(ctx, key, graph.EdgeCanAuthor, "admins")
		return nil
	})
	_ = g.Wait()
	return v, true, nil
}

// Post returns the composed view of a post.
func (c *Composer) Post(ctx context.Context, authorID, id string) (*PostView, bool, error) {
	details, ok, err := c.records.Posts.GetByID(ctx, authorID, id)
	if err != nil || !ok {
		return nil, false, err
	}
	key := graph.NodeKey{Label: graph.LabelPost, AuthorID: authorID, ID: id}
	v := &PostView{Details: details}

	var g errgroup.Group
	g.Go(func() error {
		v.Tags = c.tags(ctx, key)
		return nil
	})
	g.Go(func() error {
		v.Replies = c.uris(ctx, key, graph.EdgeReplied, "replies")
		return nil
	})
	_ = g.Wait()
	return v, true, nil
}

// Tags returns the tags on any node, grouped by label.
func (c *Composer) Tags(ctx context.Context, key graph.NodeKey) []model.TagDetails {
	return c.tags(ctx, key)
}

// inbound lists inbound neighbors, logging and swallowing failures.
func (c *Composer) inbound(ctx context.Context, key graph.NodeKey, t graph.EdgeType, facet string) ([]graph.Neighbor, bool) {
	nbs, err := c.store.Neighbors(ctx, key, t, graph.Inbound, 0)
	if err != nil {
		c.logger.Error("view facet failed",
			"facet", facet, "label", key.Label, "author", key.AuthorID, "id", key.ID, "error", err)
		return nil, false
	}
	return nbs, true
}

func (c *Composer) tags(ctx context.Context, key graph.NodeKey) []model.TagDetails {
	nbs, _ := c.inbound(ctx, key, graph.EdgeTagged, "tags")
	return aggregateTags(nbs)
}

// aggregateTags groups tagging edges by label. Labels are ordered by
// tagger count, then alphabetically; taggers keep edge order.
func aggregateTags(nbs []graph.Neighbor) []model.TagDetails {
	byLabel := make(map[string]*model.TagDetails)
	order := make([]string, 0)
	for _, nb := range nbs {
		td, ok := byLabel[nb.Discriminator]
		if !ok {
			td = &model.TagDetails{Label: nb.Discriminator, Taggers: []string{}}
			byLabel[nb.Discriminator] = td
			order = append(order, nb.Discriminator)
		}
		td.Taggers = append(td.Taggers, nb.Key.ID)
		td.TaggersCount++
	}

	out := make([]model.TagDetails, 0, len(order))
	for _, label := range order {
		out = append(out, *byLabel[label])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TaggersCount != out[j].TaggersCount {
			return out[i].TaggersCount > out[j].TaggersCount
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func (c *Composer) attendees(ctx context.Context, key graph.NodeKey) []model.AttendeeDetails {
	out := []model.AttendeeDetails{}
	nbs, _ := c.inbound(ctx, key, graph.EdgeRSVPTo, "attendees")
	for _, nb := range nbs {
		var a model.AttendeeDetails
		if err := graph.DecodeProps(nb.Props, &a); err != nil {
			c.logger.Warn("skipping undecodable attendee", "author", nb.Key.AuthorID, "id", nb.Key.ID, "error", err)
			continue
		}
		out = append(out, a)
	}
	return out
}

func (c *Composer) uris(ctx context.Context, key graph.NodeKey, t graph.EdgeType, facet string) []string {
	out := []string{}
	nbs, _ := c.inbound(ctx, key, t, facet)
	for _, nb := range nbs {
		if ref, ok := engine.RefOf(nb.Key); ok {
			out = append(out, ref.String())
		}
	}
	return out
}

func (c *Composer) userIDs(ctx context.Context, key graph.NodeKey, t graph.EdgeType, facet string) []string {
	out := []string{}
	nbs, _ := c.inbound(ctx, key, t, facet)
	for _, nb := range nbs {
		out = append(out, nb.Key.ID)
	}
	return out
}
