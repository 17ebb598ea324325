package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileApplyBindsEveryIdentifier(t *testing.T) {
	hostile := "x'}) DETACH DELETE n //"
	st, err := compileApply(Mutation{
		Node:  NodeKey{Label: LabelEvent, AuthorID: "alice", ID: hostile},
		Props: Props{"summary": hostile, "indexed_at": int64(10)},
		Memberships: []Membership{{
			Type: EdgeBelongsTo, TargetLabel: LabelCalendar,
			Targets: []NodeKey{
				{Label: LabelCalendar, AuthorID: "alice", ID: "c1"},
				{Label: LabelCalendar, AuthorID: "bob", ID: hostile},
			},
		}},
	})
	require.NoError(t, err)

	assert.NotContains(t, st.Text, hostile)
	assert.NotContains(t, st.Text, "alice")
	assert.Equal(t, hostile, st.Params["id"])
	assert.Equal(t, "alice", st.Params["author"])
	assert.Contains(t, st.Text, "UNWIND $members0 AS t")
	assert.Equal(t, []any{
		map[string]any{"author": "alice", "id": "c1"},
		map[string]any{"author": "bob", "id": hostile},
	}, st.Params["members0"])

	props := st.Params["props"].(map[string]any)
	assert.Equal(t, hostile, props["id"])
	assert.Equal(t, "alice", props["author"])
}

func TestCompileApplyShapeDoesNotDependOnTargetCount(t *testing.T) {
	mutation := func(n int) Mutation {
		targets := make([]NodeKey, n)
		for i := range targets {
			targets[i] = UserKey("u" + strings.Repeat("x", i+1))
		}
		return Mutation{
			Node: NodeKey{Label: LabelCalendar, AuthorID: "alice", ID: "c1"},
			Memberships: []Membership{{
				Type: EdgeCanAuthor, Inbound: true, TargetLabel: LabelUser, Targets: targets,
			}},
		}
	}
	one, err := compileApply(mutation(1))
	require.NoError(t, err)
	many, err := compileApply(mutation(5))
	require.NoError(t, err)
	assert.Equal(t, one.Text, many.Text)
	assert.Contains(t, one.Text, "MERGE (target)-[r:CAN_AUTHOR]->(n)")
	assert.Contains(t, one.Text, "MATCH (target:User {id: t.id})")
}

func TestCompileApplyHardDependencies(t *testing.T) {
	st, err := compileApply(Mutation{
		Node:  NodeKey{Label: LabelPost, AuthorID: "u2", ID: "p2"},
		Edges: []Edge{{Type: EdgeReplied, To: NodeKey{Label: LabelPost, AuthorID: "u1", ID: "p1"}}},
	})
	require.NoError(t, err)

	lines := strings.Split(st.Text, "\n")
	assert.Equal(t, "MATCH (author:User {id: $author})", lines[0])
	assert.Equal(t, "MATCH (:User {id: $dep0_author})-[:AUTHORED]->(dep0:Post {id: $dep0_id})", lines[1])
	assert.Contains(t, st.Text, "MERGE (n)-[:REPLIED]->(dep0)")
	assert.Equal(t, "u1", st.Params["dep0_author"])
	assert.Equal(t, "p1", st.Params["dep0_id"])
	assert.Equal(t, "RETURN existing IS NOT NULL AS existed", lines[len(lines)-1])
}

func TestCompileApplyUserHasNoAuthorMatch(t *testing.T) {
	st, err := compileApply(Mutation{Node: UserKey("alice"), Props: Props{"name": "A"}})
	require.NoError(t, err)
	assert.NotContains(t, st.Text, "AUTHORED")
	assert.Contains(t, st.Text, "MERGE (n:User {id: $id})")
	assert.NotContains(t, st.Params["props"], "author")
}

func TestCompileRejectsUnknownLabelsAndTypes(t *testing.T) {
	_, err := compileApply(Mutation{Node: NodeKey{Label: "Post) DETACH DELETE (x", AuthorID: "a", ID: "b"}})
	require.Error(t, err)

	_, err = compileRelate(Relation{Type: "X]->() DELETE", From: UserKey("a"), To: UserKey("b")})
	require.Error(t, err)
}

func TestCompileStreamEvents(t *testing.T) {
	cal := NodeKey{Label: LabelCalendar, AuthorID: "alice", ID: "c1"}
	st := compileStreamEvents(EventFilter{
		StartMicros: 1, Tags: []string{"go"}, Authors: []string{"bob"}, Calendar: &cal, Skip: 10, Limit: 5,
	})
	assert.Contains(t, st.Text, "n.dtstart_ts >= $start")
	assert.Contains(t, st.Text, "t.discriminator IN $tags")
	assert.Contains(t, st.Text, "n.author IN $authors")
	assert.Contains(t, st.Text, "SKIP $skip")
	assert.Equal(t, int64(5), st.Params["limit"])
	assert.Equal(t, "c1", st.Params["calendar_id"])
	assert.NotContains(t, st.Params, "end")
}

func TestCompileApplyMergesOnAuthorAndID(t *testing.T) {
	st, err := compileApply(Mutation{Node: NodeKey{Label: LabelPost, AuthorID: "u1", ID: "p1"}})
	require.NoError(t, err)
	assert.Contains(t, st.Text, "OPTIONAL MATCH (author)-[:AUTHORED]->(existing:Post {id: $id})")
	assert.Contains(t, st.Text, "MERGE (n:Post {author: $author, id: $id})")
	assert.Contains(t, st.Text, "MERGE (author)-[:AUTHORED]->(n)")
}

func TestCompileReadsRequireAuthoredEdge(t *testing.T) {
	p1 := NodeKey{Label: LabelPost, AuthorID: "u1", ID: "p1"}

	get, err := compileGetNode(p1)
	require.NoError(t, err)
	assert.Contains(t, get.Text, "MATCH (:User {id: $author})-[:AUTHORED]->(n:Post {id: $id})")

	exists, err := compileExists(p1)
	require.NoError(t, err)
	assert.Contains(t, exists.Text, "OPTIONAL MATCH (:User {id: $author})-[:AUTHORED]->(n:Post {id: $id})")

	nbs, err := compileNeighbors(UserKey("u2"), EdgeBookmarked, Outbound, 0)
	require.NoError(t, err)
	assert.Contains(t, nbs.Text, "WHERE "+authoredNeighbor)

	assert.Contains(t, compileStreamEvents(EventFilter{}).Text, authoredStreamNode)
	assert.Contains(t, compileStreamCalendars(CalendarFilter{}).Text, authoredStreamNode)
}

func TestCompileSchema(t *testing.T) {
	stmts := compileSchema()
	require.Len(t, stmts, 2+len(authoredLabels))

	texts := make([]string, 0, len(stmts))
	for _, st := range stmts {
		assert.Contains(t, st.Text, "IF NOT EXISTS")
		assert.Empty(t, st.Params)
		texts = append(texts, st.Text)
	}
	assert.Contains(t, texts, "CREATE CONSTRAINT user_id IF NOT EXISTS FOR (n:User) REQUIRE n.id IS UNIQUE")
	assert.Contains(t, texts, "CREATE CONSTRAINT post_author_id IF NOT EXISTS FOR (n:Post) REQUIRE (n.author, n.id) IS UNIQUE")
}
