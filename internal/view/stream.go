package view

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/gillohner/pubky-nexus/internal/graph"
	"github.com/gillohner/pubky-nexus/internal/model"
)

const (
	// DefaultLimit applies when a stream request sets no limit.
	DefaultLimit = 10
	// MaxLimit caps every stream page.
	MaxLimit = 100

	tagFetchConcurrency = 8
)

// clampLimit maps a requested page size onto [1, MaxLimit].
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// StreamEvents returns one page of events matching f, each with its tags.
func (c *Composer) StreamEvents(ctx context.Context, f graph.EventFilter) ([]EventItem, error) {
	f.Limit = clampLimit(f.Limit)
	if f.Skip < 0 {
		f.Skip = 0
	}
	nodes, err := c.store.StreamEvents(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("stream events: %w", err)
	}

	items := make([]EventItem, len(nodes))
	for i, n := range nodes {
		var d model.EventDetails
		if err := graph.DecodeProps(n.Props, &d); err != nil {
			return nil, fmt.Errorf("stream events: %w", err)
		}
		items[i].Details = &d
	}
	c.fillTags(ctx, nodes, func(i int, tags []model.TagDetails) { items[i].Tags = tags })
	return items, nil
}

// StreamCalendars returns one page of calendars matching f, each with its
// tags.
func (c *Composer) StreamCalendars(ctx context.Context, f graph.CalendarFilter) ([]CalendarItem, error) {
	f.Limit = clampLimit(f.Limit)
	if f.Skip < 0 {
		f.Skip = 0
	}
	nodes, err := c.store.StreamCalendars(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("stream calendars: %w", err)
	}

	items := make([]CalendarItem, len(nodes))
	for i, n := range nodes {
		var d model.CalendarDetails
		if err := graph.DecodeProps(n.Props, &d); err != nil {
			return nil, fmt.Errorf("stream calendars: %w", err)
		}
		items[i].Details = &d
	}
	c.fillTags(ctx, nodes, func(i int, tags []model.TagDetails) { items[i].Tags = tags })
	return items, nil
}

// fillTags fetches tags for every node concurrently. set is called once
// per index from its own goroutine.
func (c *Composer) fillTags(ctx context.Context, nodes []graph.Node, set func(i int, tags []model.TagDetails)) {
	var g errgroup.Group
	g.SetLimit(tagFetchConcurrency)
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			set(i, c.tags(ctx, n.Key))
			return nil
		})
	}
	_ = g.Wait()
}
