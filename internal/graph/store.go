package graph

import "context"

// Store is the graph backend. Implementations are safe for concurrent use
// and own their connection pool.
type Store interface {
	// Apply upserts one node atomically. existed reports whether the node
	// was present before the call. Returns ErrNoMatch, with nothing
	// written, when the author or any required node is missing.
	Apply(ctx context.Context, m Mutation) (existed bool, err error)

	// Relate merges an edge between two existing nodes. Returns
	// ErrNoMatch when either endpoint is missing.
	Relate(ctx context.Context, r Relation) (existed bool, err error)

	// DeleteNode removes a node and every incident edge.
	DeleteNode(ctx context.Context, key NodeKey) (deleted bool, err error)

	// DeleteRelation removes one edge and returns its target.
	DeleteRelation(ctx context.Context, ref EdgeRef) (target NodeKey, deleted bool, err error)

	// PutHomeserver records a homeserver node. created is false when it
	// was already known.
	PutHomeserver(ctx context.Context, id string) (created bool, err error)

	GetNode(ctx context.Context, key NodeKey) (Node, bool, error)
	Exists(ctx context.Context, key NodeKey) (bool, error)

	// Neighbors lists nodes one edge of type t away from key. limit <= 0
	// means no limit.
	Neighbors(ctx context.Context, key NodeKey, t EdgeType, dir Direction, limit int) ([]Neighbor, error)

	StreamEvents(ctx context.Context, f EventFilter) ([]Node, error)
	StreamCalendars(ctx context.Context, f CalendarFilter) ([]Node, error)

	Close() error
}
