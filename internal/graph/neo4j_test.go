package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records statements and replays canned results.
type fakeRunner struct {
	queries []string
	params  []map[string]any
	results []*neo4j.EagerResult
	err     error
}

func (f *fakeRunner) Run(_ context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	f.queries = append(f.queries, query)
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) == 0 {
		return &neo4j.EagerResult{}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func result(keys []string, rows ...[]any) *neo4j.EagerResult {
	res := &neo4j.EagerResult{Keys: keys}
	for _, row := range rows {
		res.Records = append(res.Records, &neo4j.Record{Keys: keys, Values: row})
	}
	return res
}

func TestNeo4jApplyOutcomes(t *testing.T) {
	runner := &fakeRunner{results: []*neo4j.EagerResult{
		result([]string{"existed"}, []any{false}),
		result([]string{"existed"}, []any{true}),
		result([]string{"existed"}),
	}}
	s := NewNeo4jStore(runner)
	ctx := context.Background()
	m := Mutation{Node: NodeKey{Label: LabelPost, AuthorID: "u1", ID: "p1"}, Props: Props{"content": "x"}}

	existed, err := s.Apply(ctx, m)
	require.NoError(t, err)
	assert.False(t, existed)

	existed, err = s.Apply(ctx, m)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = s.Apply(ctx, m)
	require.ErrorIs(t, err, ErrNoMatch)
	assert.Len(t, runner.queries, 3)
}

func TestNeo4jWrapsDriverErrors(t *testing.T) {
	s := NewNeo4jStore(&fakeRunner{err: errors.New("connection refused")})
	_, err := s.Exists(context.Background(), UserKey("u1"))
	require.Error(t, err)
	assert.True(t, IsQueryError(err))
	assert.Contains(t, err.Error(), "GRAPH_QUERY: exists")
}

func TestNeo4jGetNodeNormalizesProps(t *testing.T) {
	runner := &fakeRunner{results: []*neo4j.EagerResult{
		result([]string{"props"}, []any{map[string]any{
			"id": "e1", "x_pubky_calendar_uris": []any{"pubky://a"}, "dtstart_ts": int64(5),
		}}),
		result([]string{"props"}),
	}}
	s := NewNeo4jStore(runner)
	key := NodeKey{Label: LabelEvent, AuthorID: "alice", ID: "e1"}

	node, ok, err := s.GetNode(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"pubky://a"}, node.Props.Strings("x_pubky_calendar_uris"))
	assert.Equal(t, int64(5), node.Props.Int("dtstart_ts"))
	assert.Equal(t, "alice", runner.params[0]["author"])

	_, ok, err = s.GetNode(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNeo4jNeighbors(t *testing.T) {
	keys := []string{"label", "author", "id", "props", "discriminator", "edge_id", "indexed_at"}
	runner := &fakeRunner{results: []*neo4j.EagerResult{
		result(keys, []any{"User", "bob", "bob", map[string]any{"name": "Bob"}, "go", "t1", int64(3)}),
	}}
	s := NewNeo4jStore(runner)

	nbs, err := s.Neighbors(context.Background(), NodeKey{Label: LabelPost, AuthorID: "alice", ID: "p1"}, EdgeTagged, Inbound, 10)
	require.NoError(t, err)
	require.Len(t, nbs, 1)
	assert.Equal(t, UserKey("bob"), nbs[0].Key)
	assert.Equal(t, "go", nbs[0].Discriminator)
	assert.Equal(t, "t1", nbs[0].EdgeID)
	assert.Equal(t, int64(3), nbs[0].IndexedAt)
	assert.Contains(t, runner.queries[0], "MATCH (m)-[r:TAGGED]->(n)")
}

func TestNeo4jDeleteRelationReturnsTarget(t *testing.T) {
	runner := &fakeRunner{results: []*neo4j.EagerResult{
		result([]string{"label", "author", "id"}, []any{"Post", "alice", "p1"}),
	}}
	s := NewNeo4jStore(runner)

	target, deleted, err := s.DeleteRelation(context.Background(), EdgeRef{Type: EdgeBookmarked, From: UserKey("bob"), EdgeID: "b1"})
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, NodeKey{Label: LabelPost, AuthorID: "alice", ID: "p1"}, target)
	assert.Equal(t, "b1", runner.params[0]["edge_id"])
}

func TestNeo4jEnsureSchema(t *testing.T) {
	runner := &fakeRunner{}
	s := NewNeo4jStore(runner)

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.Len(t, runner.queries, 2+len(authoredLabels))
	assert.Contains(t, runner.queries[0], "FOR (n:User) REQUIRE n.id IS UNIQUE")

	failing := NewNeo4jStore(&fakeRunner{err: errors.New("unauthorized")})
	err := failing.EnsureSchema(context.Background())
	require.Error(t, err)
	var qe *QueryError
	assert.ErrorAs(t, err, &qe)
}
