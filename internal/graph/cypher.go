package graph

import (
	"fmt"
	"strings"
)

// statement is a compiled Cypher query. Text only ever contains labels
// and edge types from the closed Label/EdgeType sets plus generated
// parameter names; every identifier value lives in Params.
type statement struct {
	Text   string
	Params map[string]any
}

type cypherBuilder struct {
	lines  []string
	params map[string]any
}

func newCypher() *cypherBuilder {
	return &cypherBuilder{params: map[string]any{}}
}

func (b *cypherBuilder) line(format string, args ...any) {
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

func (b *cypherBuilder) param(name string, v any) string {
	b.params[name] = v
	return "$" + name
}

func (b *cypherBuilder) build() statement {
	return statement{Text: strings.Join(b.lines, "\n"), Params: b.params}
}

// matchNode emits a MATCH binding v to key. Authored nodes are matched
// through their author's AUTHORED edge.
func (b *cypherBuilder) matchNode(clause, v, prefix string, key NodeKey) {
	id := b.param(prefix+"id", key.ID)
	if !key.authored() {
		b.line("%s (%s:%s {id: %s})", clause, v, key.Label, id)
		return
	}
	author := b.param(prefix+"author", key.AuthorID)
	b.line("%s (:User {id: %s})-[:AUTHORED]->(%s:%s {id: %s})", clause, author, v, key.Label, id)
}

func checkLabels(labels ...Label) error {
	for _, l := range labels {
		if !l.Valid() {
			return fmt.Errorf("invalid label %q", l)
		}
	}
	return nil
}

func checkTypes(types ...EdgeType) error {
	for _, t := range types {
		if !t.Valid() {
			return fmt.Errorf("invalid edge type %q", t)
		}
	}
	return nil
}

// compileApply renders a Mutation as one statement that returns a single
// "existed" row, or no row when a required MATCH fails.
func compileApply(m Mutation) (statement, error) {
	if err := checkLabels(m.Node.Label); err != nil {
		return statement{}, err
	}
	b := newCypher()

	props := make(Props, len(m.Props)+2)
	for k, v := range m.Props {
		props[k] = v
	}
	props["id"] = m.Node.ID
	if m.Node.authored() {
		props["author"] = m.Node.AuthorID
	}

	// Required matches.
	if m.Node.authored() {
		b.line("MATCH (author:User {id: %s})", b.param("author", m.Node.AuthorID))
	}
	for i, req := range m.Requires {
		if err := checkLabels(req.Label); err != nil {
			return statement{}, err
		}
		b.matchNode("MATCH", fmt.Sprintf("req%d", i), fmt.Sprintf("req%d_", i), req)
	}
	for i, e := range m.Edges {
		if err := checkLabels(e.To.Label); err != nil {
			return statement{}, err
		}
		if err := checkTypes(e.Type); err != nil {
			return statement{}, err
		}
		b.matchNode("MATCH", fmt.Sprintf("dep%d", i), fmt.Sprintf("dep%d_", i), e.To)
	}

	// Before-image, then merge.
	id := b.param("id", m.Node.ID)
	if m.Node.authored() {
		b.line("OPTIONAL MATCH (author)-[:AUTHORED]->(existing:%s {id: %s})", m.Node.Label, id)
		// Merging on (author, id) adopts a node orphaned by its author's
		// deletion instead of creating a second one.
		b.line("MERGE (n:%s {author: %s, id: %s})", m.Node.Label, b.param("author", m.Node.AuthorID), id)
		b.line("MERGE (author)-[:AUTHORED]->(n)")
	} else {
		b.line("OPTIONAL MATCH (existing:%s {id: %s})", m.Node.Label, id)
		b.line("MERGE (n:%s {id: %s})", m.Node.Label, id)
	}
	b.line("SET n = %s", b.param("props", map[string]any(props)))

	for i, e := range m.Edges {
		b.line("MERGE (n)-[:%s]->(dep%d)", e.Type, i)
	}

	if len(m.Memberships) > 0 {
		indexedAt := b.param("indexed_at", m.Props.Int("indexed_at"))
		for i, ms := range m.Memberships {
			if err := checkTypes(ms.Type); err != nil {
				return statement{}, err
			}
			if err := checkLabels(ms.TargetLabel); err != nil {
				return statement{}, err
			}
			targets := b.param(fmt.Sprintf("members%d", i), membershipParam(ms.Targets))
			b.line("WITH n, existing")
			if ms.Inbound {
				b.line("CALL { WITH n OPTIONAL MATCH (:%s)-[old:%s]->(n) DELETE old }", ms.TargetLabel, ms.Type)
			} else {
				b.line("CALL { WITH n OPTIONAL MATCH (n)-[old:%s]->(:%s) DELETE old }", ms.Type, ms.TargetLabel)
			}
			b.line("CALL {")
			b.line("  WITH n")
			b.line("  UNWIND %s AS t", targets)
			if ms.TargetLabel == LabelUser {
				b.line("  MATCH (target:User {id: t.id})")
			} else {
				b.line("  MATCH (:User {id: t.author})-[:AUTHORED]->(target:%s {id: t.id})", ms.TargetLabel)
			}
			if ms.Inbound {
				b.line("  MERGE (target)-[r:%s]->(n)", ms.Type)
			} else {
				b.line("  MERGE (n)-[r:%s]->(target)", ms.Type)
			}
			b.line("  SET r.indexed_at = %s", indexedAt)
			b.line("}")
		}
	}

	b.line("RETURN existing IS NOT NULL AS existed")
	return b.build(), nil
}

func membershipParam(targets []NodeKey) []any {
	out := make([]any, 0, len(targets))
	for _, t := range targets {
		out = append(out, map[string]any{"author": t.AuthorID, "id": t.ID})
	}
	return out
}

func compileRelate(r Relation) (statement, error) {
	if err := checkTypes(r.Type); err != nil {
		return statement{}, err
	}
	if err := checkLabels(r.From.Label, r.To.Label); err != nil {
		return statement{}, err
	}
	b := newCypher()
	b.matchNode("MATCH", "a", "from_", r.From)
	b.matchNode("MATCH", "b", "to_", r.To)
	disc := b.param("discriminator", r.Discriminator)
	b.line("OPTIONAL MATCH (a)-[existing:%s {discriminator: %s}]->(b)", r.Type, disc)
	b.line("MERGE (a)-[r:%s {discriminator: %s}]->(b)", r.Type, disc)
	b.line("SET r.id = %s, r.indexed_at = %s", b.param("edge_id", r.EdgeID), b.param("indexed_at", r.IndexedAt))
	b.line("RETURN existing IS NOT NULL AS existed")
	return b.build(), nil
}

func compileDeleteNode(key NodeKey) (statement, error) {
	if err := checkLabels(key.Label); err != nil {
		return statement{}, err
	}
	b := newCypher()
	b.matchNode("OPTIONAL MATCH", "n", "", key)
	b.line("WITH n, count(n) AS found")
	b.line("DETACH DELETE n")
	b.line("RETURN found")
	return b.build(), nil
}

func compileDeleteRelation(ref EdgeRef) (statement, error) {
	if err := checkTypes(ref.Type); err != nil {
		return statement{}, err
	}
	if err := checkLabels(ref.From.Label); err != nil {
		return statement{}, err
	}
	b := newCypher()
	b.matchNode("MATCH", "a", "from_", ref.From)
	if ref.EdgeID != "" {
		b.line("MATCH (a)-[r:%s]->(b) WHERE r.id = %s", ref.Type, b.param("edge_id", ref.EdgeID))
	} else {
		if err := checkLabels(ref.To.Label); err != nil {
			return statement{}, err
		}
		b.matchNode("MATCH", "b", "to_", ref.To)
		b.line("MATCH (a)-[r:%s]->(b)", ref.Type)
	}
	b.line("WITH r, b LIMIT 1")
	b.line("DELETE r")
	b.line("RETURN labels(b)[0] AS label, coalesce(b.author, b.id) AS author, b.id AS id")
	return b.build(), nil
}

func compilePutHomeserver(id string) statement {
	b := newCypher()
	p := b.param("id", id)
	b.line("OPTIONAL MATCH (existing:Homeserver {id: %s})", p)
	b.line("MERGE (h:Homeserver {id: %s})", p)
	b.line("RETURN existing IS NULL AS created")
	return b.build()
}

func compileGetNode(key NodeKey) (statement, error) {
	if err := checkLabels(key.Label); err != nil {
		return statement{}, err
	}
	b := newCypher()
	b.matchNode("MATCH", "n", "", key)
	b.line("RETURN properties(n) AS props")
	b.line("LIMIT 1")
	return b.build(), nil
}

func compileExists(key NodeKey) (statement, error) {
	if err := checkLabels(key.Label); err != nil {
		return statement{}, err
	}
	b := newCypher()
	b.matchNode("OPTIONAL MATCH", "n", "", key)
	b.line("RETURN count(n) > 0 AS found")
	return b.build(), nil
}

// authoredNeighbor drops content neighbors that lost their AUTHORED edge.
const authoredNeighbor = "m:User OR m:Homeserver OR EXISTS { MATCH (:User {id: m.author})-[:AUTHORED]->(m) }"

// authoredStreamNode keeps streamed nodes that still hang off their author.
const authoredStreamNode = "EXISTS { MATCH (:User {id: n.author})-[:AUTHORED]->(n) }"

// neighborReturn projects a neighbor row; m is the neighbor, r the edge.
const neighborReturn = `RETURN labels(m)[0] AS label, coalesce(m.author, m.id) AS author, m.id AS id,
       properties(m) AS props, coalesce(r.discriminator, '') AS discriminator,
       coalesce(r.id, '') AS edge_id, coalesce(r.indexed_at, 0) AS indexed_at`

func compileNeighbors(key NodeKey, t EdgeType, dir Direction, limit int) (statement, error) {
	if err := checkLabels(key.Label); err != nil {
		return statement{}, err
	}
	if err := checkTypes(t); err != nil {
		return statement{}, err
	}
	b := newCypher()
	b.matchNode("MATCH", "n", "", key)
	if dir == Inbound {
		b.line("MATCH (m)-[r:%s]->(n)", t)
	} else {
		b.line("MATCH (n)-[r:%s]->(m)", t)
	}
	b.line("WHERE %s", authoredNeighbor)
	b.line("%s", neighborReturn)
	b.line("ORDER BY indexed_at ASC, author ASC, id ASC, discriminator ASC")
	if limit > 0 {
		b.line("LIMIT %s", b.param("limit", int64(limit)))
	}
	return b.build(), nil
}

func compileStreamEvents(f EventFilter) statement {
	b := newCypher()
	b.line("MATCH (n:Event)")
	where := []string{authoredStreamNode}
	if f.StartMicros != 0 {
		where = append(where, "n.dtstart_ts >= "+b.param("start", f.StartMicros))
	}
	if f.EndMicros != 0 {
		where = append(where, "n.dtstart_ts <= "+b.param("end", f.EndMicros))
	}
	where = appendStreamFilters(b, where, f.Authors, f.Tags)
	if f.Calendar != nil {
		where = append(where, fmt.Sprintf(
			"EXISTS { MATCH (n)-[:BELONGS_TO]->(c:Calendar {id: %s}) WHERE c.author = %s }",
			b.param("calendar_id", f.Calendar.ID), b.param("calendar_author", f.Calendar.AuthorID)))
	}
	if len(where) > 0 {
		b.line("WHERE %s", strings.Join(where, "\n  AND "))
	}
	b.line("RETURN n.author AS author, n.id AS id, properties(n) AS props")
	b.line("ORDER BY n.dtstart_ts ASC, author ASC, id ASC")
	pageClauses(b, f.Skip, f.Limit)
	return b.build()
}

func compileStreamCalendars(f CalendarFilter) statement {
	b := newCypher()
	b.line("MATCH (n:Calendar)")
	where := appendStreamFilters(b, []string{authoredStreamNode}, f.Authors, f.Tags)
	if f.Admin != "" {
		where = append(where, fmt.Sprintf(
			"EXISTS { MATCH (:User {id: %s})-[:CAN_AUTHOR]->(n) }", b.param("admin", f.Admin)))
	}
	if len(where) > 0 {
		b.line("WHERE %s", strings.Join(where, "\n  AND "))
	}
	b.line("RETURN n.author AS author, n.id AS id, properties(n) AS props")
	b.line("ORDER BY n.indexed_at DESC, author ASC, id ASC")
	pageClauses(b, f.Skip, f.Limit)
	return b.build()
}

func appendStreamFilters(b *cypherBuilder, where []string, authors, tags []string) []string {
	if len(authors) > 0 {
		where = append(where, "n.author IN "+b.param("authors", authors))
	}
	if len(tags) > 0 {
		where = append(where, fmt.Sprintf(
			"EXISTS { MATCH (:User)-[t:TAGGED]->(n) WHERE t.discriminator IN %s }", b.param("tags", tags)))
	}
	return where
}

func pageClauses(b *cypherBuilder, skip, limit int) {
	if skip > 0 {
		b.line("SKIP %s", b.param("skip", int64(skip)))
	}
	if limit > 0 {
		b.line("LIMIT %s", b.param("limit", int64(limit)))
	}
}

// authoredLabels are the labels whose nodes are keyed by (author, id).
var authoredLabels = []Label{LabelPost, LabelEvent, LabelCalendar, LabelAttendee, LabelAlarm, LabelFile}

// compileSchema returns the constraints that keep concurrent MERGEs of one
// key from creating duplicate nodes. Each statement is idempotent.
func compileSchema() []statement {
	out := []statement{
		{Text: "CREATE CONSTRAINT user_id IF NOT EXISTS FOR (n:User) REQUIRE n.id IS UNIQUE"},
		{Text: "CREATE CONSTRAINT homeserver_id IF NOT EXISTS FOR (n:Homeserver) REQUIRE n.id IS UNIQUE"},
	}
	for _, l := range authoredLabels {
		out = append(out, statement{Text: fmt.Sprintf(
			"CREATE CONSTRAINT %s_author_id IF NOT EXISTS FOR (n:%s) REQUIRE (n.author, n.id) IS UNIQUE",
			strings.ToLower(string(l)), l)})
	}
	return out
}
