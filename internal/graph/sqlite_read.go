package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// GetNode implements Store.
func (s *SQLiteStore) GetNode(ctx context.Context, key NodeKey) (Node, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT n.props FROM nodes AS n WHERE n.label = ? AND n.author_id = ? AND n.id = ? AND `+authoredOnly,
		string(key.Label), key.AuthorID, key.ID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, false, nil
	}
	if err != nil {
		return Node{}, false, queryError("get node", err)
	}
	props, err := parseProps([]byte(raw))
	if err != nil {
		return Node{}, false, err
	}
	return Node{Key: key, Props: props}, true, nil
}

// Exists implements Store.
func (s *SQLiteStore) Exists(ctx context.Context, key NodeKey) (bool, error) {
	ok, err := nodeExists(ctx, s.db, key)
	if err != nil {
		return false, queryError("exists", err)
	}
	return ok, nil
}

// Neighbors implements Store. Results are ordered by edge indexed_at,
// then by neighbor key.
func (s *SQLiteStore) Neighbors(ctx context.Context, key NodeKey, t EdgeType, dir Direction, limit int) ([]Neighbor, error) {
	near, far := "from", "to"
	if dir == Inbound {
		near, far = "to", "from"
	}
	// near/far select between two fixed column sets; no caller data
	// reaches the query text.
	query := fmt.Sprintf(`
		SELECT e.%[2]s_label, e.%[2]s_author, e.%[2]s_id,
		       e.discriminator, e.edge_id, e.indexed_at, n.props
		FROM edges AS e
		JOIN nodes AS n
		  ON n.label = e.%[2]s_label AND n.author_id = e.%[2]s_author AND n.id = e.%[2]s_id
		WHERE e.type = ? AND e.%[1]s_label = ? AND e.%[1]s_author = ? AND e.%[1]s_id = ?
		  AND %[3]s
		ORDER BY e.indexed_at ASC, e.%[2]s_author ASC, e.%[2]s_id ASC, e.discriminator ASC
		LIMIT ?
	`, near, far, authoredOnly)

	rows, err := s.db.QueryContext(ctx, query, string(t), string(key.Label), key.AuthorID, key.ID, sqlLimit(limit))
	if err != nil {
		return nil, queryError("neighbors", err)
	}
	defer rows.Close()

	out := []Neighbor{}
	for rows.Next() {
		var (
			nb    Neighbor
			label string
			raw   string
		)
		if err := rows.Scan(&label, &nb.Key.AuthorID, &nb.Key.ID, &nb.Discriminator, &nb.EdgeID, &nb.IndexedAt, &raw); err != nil {
			return nil, queryError("neighbors: scan", err)
		}
		nb.Key.Label = Label(label)
		if nb.Props, err = parseProps([]byte(raw)); err != nil {
			return nil, err
		}
		out = append(out, nb)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("neighbors: iterate", err)
	}
	return out, nil
}

// StreamEvents implements Store. Events are ordered by start time.
func (s *SQLiteStore) StreamEvents(ctx context.Context, f EventFilter) ([]Node, error) {
	var w whereBuilder
	w.add("n.label = ?", string(LabelEvent))
	w.add(authoredOnly)
	if f.StartMicros != 0 {
		w.add("json_extract(n.props, '$.dtstart_ts') >= ?", f.StartMicros)
	}
	if f.EndMicros != 0 {
		w.add("json_extract(n.props, '$.dtstart_ts') <= ?", f.EndMicros)
	}
	if err := w.addAuthors(f.Authors); err != nil {
		return nil, err
	}
	if err := w.addTags(f.Tags); err != nil {
		return nil, err
	}
	if f.Calendar != nil {
		w.add(`EXISTS (
			SELECT 1 FROM edges AS c
			WHERE c.type = ? AND c.from_label = n.label AND c.from_author = n.author_id AND c.from_id = n.id
			  AND c.to_label = ? AND c.to_author = ? AND c.to_id = ?
		)`, string(EdgeBelongsTo), string(LabelCalendar), f.Calendar.AuthorID, f.Calendar.ID)
	}
	return s.streamNodes(ctx, "stream events", w,
		"json_extract(n.props, '$.dtstart_ts') ASC, n.author_id ASC, n.id ASC", f.Skip, f.Limit)
}

// StreamCalendars implements Store. Calendars are ordered newest first.
func (s *SQLiteStore) StreamCalendars(ctx context.Context, f CalendarFilter) ([]Node, error) {
	var w whereBuilder
	w.add("n.label = ?", string(LabelCalendar))
	w.add(authoredOnly)
	if err := w.addAuthors(f.Authors); err != nil {
		return nil, err
	}
	if err := w.addTags(f.Tags); err != nil {
		return nil, err
	}
	if f.Admin != "" {
		w.add(`EXISTS (
			SELECT 1 FROM edges AS a
			WHERE a.type = ? AND a.to_label = n.label AND a.to_author = n.author_id AND a.to_id = n.id
			  AND a.from_label = ? AND a.from_id = ?
		)`, string(EdgeCanAuthor), string(LabelUser), f.Admin)
	}
	return s.streamNodes(ctx, "stream calendars", w,
		"n.indexed_at DESC, n.author_id ASC, n.id ASC", f.Skip, f.Limit)
}

func (s *SQLiteStore) streamNodes(ctx context.Context, op string, w whereBuilder, order string, skip, limit int) ([]Node, error) {
	query := "SELECT n.label, n.author_id, n.id, n.props FROM nodes AS n WHERE " +
		strings.Join(w.clauses, " AND ") +
		" ORDER BY " + order + " LIMIT ? OFFSET ?"
	args := append(w.args, sqlLimit(limit), max(skip, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryError(op, err)
	}
	defer rows.Close()

	out := []Node{}
	for rows.Next() {
		var (
			n     Node
			label string
			raw   string
		)
		if err := rows.Scan(&label, &n.Key.AuthorID, &n.Key.ID, &raw); err != nil {
			return nil, queryError(op+": scan", err)
		}
		n.Key.Label = Label(label)
		if n.Props, err = parseProps([]byte(raw)); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(op+": iterate", err)
	}
	return out, nil
}

// whereBuilder accumulates fixed predicate fragments and their bound
// arguments.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *whereBuilder) addAuthors(authors []string) error {
	if len(authors) == 0 {
		return nil
	}
	list, err := json.Marshal(authors)
	if err != nil {
		return fmt.Errorf("encode authors filter: %w", err)
	}
	w.add("n.author_id IN (SELECT value FROM json_each(?))", string(list))
	return nil
}

func (w *whereBuilder) addTags(tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	list, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags filter: %w", err)
	}
	w.add(`EXISTS (
		SELECT 1 FROM edges AS t
		WHERE t.type = ? AND t.to_label = n.label AND t.to_author = n.author_id AND t.to_id = n.id
		  AND t.discriminator IN (SELECT value FROM json_each(?))
	)`, string(EdgeTagged), string(list))
	return nil
}

// sqlLimit maps "no limit" onto SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
