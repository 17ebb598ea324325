package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// rowQuerier is satisfied by *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// authoredOnly restricts the nodes alias n to nodes that still hang off
// their author's AUTHORED edge. A content node whose author was deleted
// stays in the table but is neither readable nor a match target until it
// is written again.
var authoredOnly = fmt.Sprintf(`(n.label IN ('%s', '%s') OR EXISTS (
	SELECT 1 FROM edges AS au
	WHERE au.type = '%s' AND au.from_label = '%s' AND au.from_author = n.author_id
	  AND au.to_label = n.label AND au.to_author = n.author_id AND au.to_id = n.id
))`, LabelUser, LabelHomeserver, EdgeAuthored, LabelUser)

func nodeExists(ctx context.Context, q rowQuerier, key NodeKey) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `
		SELECT 1 FROM nodes AS n WHERE n.label = ? AND n.author_id = ? AND n.id = ? AND `+authoredOnly,
		string(key.Label), key.AuthorID, key.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// requireNode returns ErrNoMatch when key does not exist.
func requireNode(ctx context.Context, q rowQuerier, key NodeKey) error {
	ok, err := nodeExists(ctx, q, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %s/%s", ErrNoMatch, key.Label, key.AuthorID, key.ID)
	}
	return nil
}

// Apply implements Store.
func (s *SQLiteStore) Apply(ctx context.Context, m Mutation) (bool, error) {
	if !m.Node.Label.Valid() {
		return false, fmt.Errorf("apply: invalid label %q", m.Node.Label)
	}
	propsJSON, err := json.Marshal(m.Props)
	if err != nil {
		return false, fmt.Errorf("apply: encode props: %w", err)
	}
	indexedAt := m.Props.Int("indexed_at")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, queryError("apply: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	// Required matches: author, then every hard dependency.
	var author NodeKey
	if m.Node.authored() {
		author = UserKey(m.Node.AuthorID)
		if err := requireNode(ctx, tx, author); err != nil {
			return false, queryError("apply: match author", err)
		}
	}
	for _, req := range m.Requires {
		if err := requireNode(ctx, tx, req); err != nil {
			return false, queryError("apply: match required", err)
		}
	}
	for _, e := range m.Edges {
		if err := requireNode(ctx, tx, e.To); err != nil {
			return false, queryError("apply: match edge target", err)
		}
	}

	existed, err := nodeExists(ctx, tx, m.Node)
	if err != nil {
		return false, queryError("apply: before-image", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (label, author_id, id, props, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (label, author_id, id) DO UPDATE
		SET props = excluded.props, indexed_at = excluded.indexed_at
	`, string(m.Node.Label), m.Node.AuthorID, m.Node.ID, string(propsJSON), indexedAt)
	if err != nil {
		return false, queryError("apply: merge node", err)
	}

	if m.Node.authored() {
		if err := insertEdge(ctx, tx, EdgeAuthored, author, m.Node, "", "", indexedAt); err != nil {
			return false, queryError("apply: merge authored", err)
		}
	}
	for _, e := range m.Edges {
		if err := insertEdge(ctx, tx, e.Type, m.Node, e.To, "", "", indexedAt); err != nil {
			return false, queryError("apply: merge edge", err)
		}
	}
	for _, ms := range m.Memberships {
		if err := syncMembership(ctx, tx, m.Node, ms, indexedAt); err != nil {
			return false, queryError("apply: sync "+string(ms.Type), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, queryError("apply: commit", err)
	}
	return existed, nil
}

func insertEdge(ctx context.Context, tx *sql.Tx, t EdgeType, from, to NodeKey, discriminator, edgeID string, indexedAt int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO edges
		(type, from_label, from_author, from_id, to_label, to_author, to_id, discriminator, edge_id, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		string(t),
		string(from.Label), from.AuthorID, from.ID,
		string(to.Label), to.AuthorID, to.ID,
		discriminator, edgeID, indexedAt,
	)
	return err
}

// membershipTarget is the JSON element shape read by json_each.
type membershipTarget struct {
	Author string `json:"author"`
	ID     string `json:"id"`
}

func encodeTargets(targets []NodeKey) (string, error) {
	list := make([]membershipTarget, 0, len(targets))
	for _, t := range targets {
		list = append(list, membershipTarget{Author: t.AuthorID, ID: t.ID})
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// syncMembership deletes every edge of ms.Type between the node and nodes
// labelled ms.TargetLabel, then recreates edges to the targets that exist.
// The target list is a single bound JSON parameter.
func syncMembership(ctx context.Context, tx *sql.Tx, node NodeKey, ms Membership, indexedAt int64) error {
	if !ms.Type.Valid() || !ms.TargetLabel.Valid() {
		return fmt.Errorf("invalid membership %q -> %q", ms.Type, ms.TargetLabel)
	}
	targets, err := encodeTargets(ms.Targets)
	if err != nil {
		return err
	}

	if ms.Inbound {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM edges
			WHERE type = ? AND to_label = ? AND to_author = ? AND to_id = ? AND from_label = ?
		`, string(ms.Type), string(node.Label), node.AuthorID, node.ID, string(ms.TargetLabel))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO edges
			(type, from_label, from_author, from_id, to_label, to_author, to_id, indexed_at)
			SELECT ?, n.label, n.author_id, n.id, ?, ?, ?, ?
			FROM json_each(?) AS t
			JOIN nodes AS n
			  ON n.label = ?
			 AND n.author_id = json_extract(t.value, '$.author')
			 AND n.id = json_extract(t.value, '$.id')
			WHERE `+authoredOnly+`
			ON CONFLICT DO NOTHING
		`,
			string(ms.Type),
			string(node.Label), node.AuthorID, node.ID, indexedAt,
			targets, string(ms.TargetLabel),
		)
		return err
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM edges
		WHERE type = ? AND from_label = ? AND from_author = ? AND from_id = ? AND to_label = ?
	`, string(ms.Type), string(node.Label), node.AuthorID, node.ID, string(ms.TargetLabel))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO edges
		(type, from_label, from_author, from_id, to_label, to_author, to_id, indexed_at)
		SELECT ?, ?, ?, ?, n.label, n.author_id, n.id, ?
		FROM json_each(?) AS t
		JOIN nodes AS n
		  ON n.label = ?
		 AND n.author_id = json_extract(t.value, '$.author')
		 AND n.id = json_extract(t.value, '$.id')
		WHERE `+authoredOnly+`
		ON CONFLICT DO NOTHING
	`,
		string(ms.Type),
		string(node.Label), node.AuthorID, node.ID, indexedAt,
		targets, string(ms.TargetLabel),
	)
	return err
}

// Relate implements Store.
func (s *SQLiteStore) Relate(ctx context.Context, r Relation) (bool, error) {
	if !r.Type.Valid() {
		return false, fmt.Errorf("relate: invalid edge type %q", r.Type)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, queryError("relate: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := requireNode(ctx, tx, r.From); err != nil {
		return false, queryError("relate: match source", err)
	}
	if err := requireNode(ctx, tx, r.To); err != nil {
		return false, queryError("relate: match target", err)
	}

	var one int
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM edges
		WHERE type = ?
		  AND from_label = ? AND from_author = ? AND from_id = ?
		  AND to_label = ? AND to_author = ? AND to_id = ?
		  AND discriminator = ?
	`,
		string(r.Type),
		string(r.From.Label), r.From.AuthorID, r.From.ID,
		string(r.To.Label), r.To.AuthorID, r.To.ID,
		r.Discriminator,
	).Scan(&one)
	existed := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, queryError("relate: before-image", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO edges
		(type, from_label, from_author, from_id, to_label, to_author, to_id, discriminator, edge_id, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (type, from_label, from_author, from_id, to_label, to_author, to_id, discriminator)
		DO UPDATE SET edge_id = excluded.edge_id, indexed_at = excluded.indexed_at
	`,
		string(r.Type),
		string(r.From.Label), r.From.AuthorID, r.From.ID,
		string(r.To.Label), r.To.AuthorID, r.To.ID,
		r.Discriminator, r.EdgeID, r.IndexedAt,
	)
	if err != nil {
		return false, queryError("relate: merge edge", err)
	}

	if err := tx.Commit(); err != nil {
		return false, queryError("relate: commit", err)
	}
	return existed, nil
}

// DeleteNode implements Store. Incident edges go with the node through
// ON DELETE CASCADE.
func (s *SQLiteStore) DeleteNode(ctx context.Context, key NodeKey) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM nodes WHERE label = ? AND author_id = ? AND id = ?
	`, string(key.Label), key.AuthorID, key.ID)
	if err != nil {
		return false, queryError("delete node", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, queryError("delete node: rows affected", err)
	}
	return n > 0, nil
}

// DeleteRelation implements Store.
func (s *SQLiteStore) DeleteRelation(ctx context.Context, ref EdgeRef) (NodeKey, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NodeKey{}, false, queryError("delete relation: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	var (
		target NodeKey
		label  string
		rowid  int64
	)
	if ref.EdgeID != "" {
		err = tx.QueryRowContext(ctx, `
			SELECT rowid, to_label, to_author, to_id FROM edges
			WHERE type = ? AND from_label = ? AND from_author = ? AND from_id = ? AND edge_id = ?
		`, string(ref.Type), string(ref.From.Label), ref.From.AuthorID, ref.From.ID, ref.EdgeID,
		).Scan(&rowid, &label, &target.AuthorID, &target.ID)
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT rowid, to_label, to_author, to_id FROM edges
			WHERE type = ? AND from_label = ? AND from_author = ? AND from_id = ?
			  AND to_label = ? AND to_author = ? AND to_id = ?
		`, string(ref.Type), string(ref.From.Label), ref.From.AuthorID, ref.From.ID,
			string(ref.To.Label), ref.To.AuthorID, ref.To.ID,
		).Scan(&rowid, &label, &target.AuthorID, &target.ID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return NodeKey{}, false, nil
	}
	if err != nil {
		return NodeKey{}, false, queryError("delete relation: find", err)
	}
	target.Label = Label(label)

	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE rowid = ?`, rowid); err != nil {
		return NodeKey{}, false, queryError("delete relation", err)
	}
	if err := tx.Commit(); err != nil {
		return NodeKey{}, false, queryError("delete relation: commit", err)
	}
	return target, true, nil
}

// PutHomeserver implements Store.
func (s *SQLiteStore) PutHomeserver(ctx context.Context, id string) (bool, error) {
	props, err := json.Marshal(Props{"id": id})
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (label, author_id, id, props)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (label, author_id, id) DO NOTHING
	`, string(LabelHomeserver), id, id, string(props))
	if err != nil {
		return false, queryError("put homeserver", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, queryError("put homeserver: rows affected", err)
	}
	return n > 0, nil
}
