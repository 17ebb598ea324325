package view

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gillohner/pubky-nexus/internal/engine"
	"github.com/gillohner/pubky-nexus/internal/graph"
	"github.com/gillohner/pubky-nexus/internal/index"
	"github.com/gillohner/pubky-nexus/internal/model"
	"github.com/gillohner/pubky-nexus/internal/uri"
)

// faultyStore fails Neighbors for one edge type and records stream
// filters.
type faultyStore struct {
	graph.Store
	failEdge graph.EdgeType

	mu          sync.Mutex
	eventLimits []int
}

func (s *faultyStore) Neighbors(ctx context.Context, key graph.NodeKey, t graph.EdgeType, dir graph.Direction, limit int) ([]graph.Neighbor, error) {
	if t == s.failEdge {
		return nil, errors.New("neighbors unavailable")
	}
	return s.Store.Neighbors(ctx, key, t, dir, limit)
}

func (s *faultyStore) StreamEvents(ctx context.Context, f graph.EventFilter) ([]graph.Node, error) {
	s.mu.Lock()
	s.eventLimits = append(s.eventLimits, f.Limit)
	s.mu.Unlock()
	return s.Store.StreamEvents(ctx, f)
}

type fixture struct {
	store    *faultyStore
	engine   *engine.Engine
	composer *Composer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := graph.OpenSQLite(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	store := &faultyStore{Store: s}
	return &fixture{
		store:    store,
		engine:   engine.New(store, nil),
		composer: NewComposer(index.NewRegistry(index.NewMemoryCache(), store, nil), store, nil),
	}
}

func (f *fixture) upsert(t *testing.T, rec model.Record) {
	t.Helper()
	out, err := f.engine.Upsert(context.Background(), rec)
	require.NoError(t, err)
	require.NotEqual(t, engine.KindMissingDependency, out.Kind(), "upsert %s", rec.Ref())
}

func (f *fixture) tag(t *testing.T, id, tagger, target, label string, at int64) {
	t.Helper()
	out, err := f.engine.Relate(context.Background(), &model.Tag{
		ID: id, Tagger: tagger, TargetURI: target, Label: label, IndexedAt: at,
	})
	require.NoError(t, err)
	require.Equal(t, engine.KindCreated, out.Kind())
}

var (
	calendarURI = uri.Build(uri.KindCalendar, "alice", "c1")
	eventURI    = uri.Build(uri.KindEvent, "alice", "e1")
)

// seed builds a calendar with one event, one RSVP and three tags.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	for _, id := range []string{"alice", "bob", "carol"} {
		f.upsert(t, &model.UserDetails{ID: id, Name: id, IndexedAt: 1})
	}
	f.upsert(t, &model.CalendarDetails{
		ID: "c1", Author: "alice", URI: calendarURI,
		Name: "Gigs", Timezone: "Europe/Zurich",
		Admins:    []string{"bob", "dave"},
		IndexedAt: 500,
	})
	f.upsert(t, &model.EventDetails{
		ID: "e1", Author: "alice", URI: eventURI,
		UID: "uid-1", DTStamp: "20260101T000000Z", DTStart: "2026-03-01T18:00:00", Summary: "Concert",
		CalendarURIs: []string{calendarURI},
		DTStartTS:    1772388000000000,
		IndexedAt:    1000,
	})
	f.upsert(t, &model.AttendeeDetails{
		ID: "a1", Author: "bob", URI: uri.Build(uri.KindAttendee, "bob", "a1"),
		PartStat: "ACCEPTED", EventURI: eventURI, IndexedAt: 20,
	})
	f.tag(t, "t1", "bob", eventURI, "music", 10)
	f.tag(t, "t2", "carol", eventURI, "music", 11)
	f.tag(t, "t3", "carol", eventURI, "outdoor", 12)
}

func assertGolden(t *testing.T, name string, v any) {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, append(data, '\n'))
}

func TestComposer_EventView(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	v, ok, err := f.composer.Event(context.Background(), "alice", "e1")
	require.NoError(t, err)
	require.True(t, ok)
	assertGolden(t, "event_view", v)
}

func TestComposer_CalendarView(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	v, ok, err := f.composer.Calendar(context.Background(), "alice", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assertGolden(t, "calendar_view", v)
}

func TestComposer_PostView(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.upsert(t, &model.PostDetails{ID: "p1", Author: "alice", Content: "root", Kind: "short", IndexedAt: 1})
	f.upsert(t, &model.PostDetails{
		ID: "p2", Author: "bob", Content: "reply", Kind: "short",
		Replied: uri.Build(uri.KindPost, "alice", "p1"), IndexedAt: 2,
	})
	f.tag(t, "t4", "carol", uri.Build(uri.KindPost, "alice", "p1"), "hot", 3)

	v, ok, err := f.composer.Post(context.Background(), "alice", "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "root", v.Details.Content)
	assert.Equal(t, []string{uri.Build(uri.KindPost, "bob", "p2")}, v.Replies)
	require.Len(t, v.Tags, 1)
	assert.Equal(t, "hot", v.Tags[0].Label)
	assert.Equal(t, []string{"carol"}, v.Tags[0].Taggers)
}

func TestComposer_MissingPrimaryIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	ev, ok, err := f.composer.Event(context.Background(), "alice", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, ev)

	cal, ok, err := f.composer.Calendar(context.Background(), "bob", "c1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, cal)

	post, ok, err := f.composer.Post(context.Background(), "alice", "p1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, post)
}

func TestComposer_SecondaryFailureDegradesToEmpty(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.store.failEdge = graph.EdgeTagged

	v, ok, err := f.composer.Event(context.Background(), "alice", "e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, v.Tags)
	assert.NotNil(t, v.Tags, "failed facet renders as an empty list")
	require.Len(t, v.Attendees, 1)
	assert.Equal(t, "ACCEPTED", v.Attendees[0].PartStat)
}

func TestAggregateTags_Ordering(t *testing.T) {
	nb := func(tagger, label string) graph.Neighbor {
		return graph.Neighbor{Key: graph.UserKey(tagger), Discriminator: label}
	}
	got := aggregateTags([]graph.Neighbor{
		nb("u1", "zeta"), nb("u2", "alpha"), nb("u3", "beta"), nb("u4", "beta"),
	})

	require.Len(t, got, 3)
	assert.Equal(t, model.TagDetails{Label: "beta", Taggers: []string{"u3", "u4"}, TaggersCount: 2}, got[0])
	assert.Equal(t, "alpha", got[1].Label)
	assert.Equal(t, "zeta", got[2].Label)
	assert.Empty(t, aggregateTags(nil))
}
