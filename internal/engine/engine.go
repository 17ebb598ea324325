package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gillohner/pubky-nexus/internal/graph"
	"github.com/gillohner/pubky-nexus/internal/model"
	"github.com/gillohner/pubky-nexus/internal/uri"
)

// Engine writes records to the graph store.
//
// Thread-safety: an Engine holds no mutable state; concurrent calls are
// serialized per node by the store's single-statement atomicity.
type Engine struct {
	store   graph.Store
	logger  *slog.Logger
	planner planner
}

// New creates an Engine over store. A nil logger uses slog.Default().
func New(store graph.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger, planner: planner{logger: logger}}
}

// Upsert writes a node record and its relationships in one atomic
// mutation.
//
// Returns a *uri.ParseError or *uri.KindMismatchError when a hard
// dependency reference is malformed, and a *graph.QueryError when the
// store fails. A failed required match is not an error: it is reported as
// MissingDependency.
func (e *Engine) Upsert(ctx context.Context, rec model.Record) (Outcome, error) {
	pl, err := e.planner.build(rec)
	if err != nil {
		return nil, err
	}

	existed, err := e.store.Apply(ctx, pl.mutation)
	if errors.Is(err, graph.ErrNoMatch) {
		return MissingDependency{Refs: pl.requires}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", rec.Ref(), err)
	}

	out := outcomeOf(existed)
	e.logger.Debug("record written", "uri", rec.Ref().String(), "outcome", out.Kind().String())
	return out, nil
}

// Relate writes an edge-only record.
func (e *Engine) Relate(ctx context.Context, rel model.Relation) (Outcome, error) {
	r, requires, err := relationPlan(rel)
	if err != nil {
		return nil, err
	}

	existed, err := e.store.Relate(ctx, r)
	if errors.Is(err, graph.ErrNoMatch) {
		return MissingDependency{Refs: requires}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("relate %s: %w", r.Type, err)
	}
	return outcomeOf(existed), nil
}

func relationPlan(rel model.Relation) (graph.Relation, []uri.Ref, error) {
	switch r := rel.(type) {
	case *model.Tag:
		target, err := uri.Parse(r.TargetURI)
		if err != nil {
			return graph.Relation{}, nil, err
		}
		to, ok := NodeKey(target)
		if !ok {
			return graph.Relation{}, nil, &uri.KindMismatchError{URI: r.TargetURI, Expected: uri.KindPost, Got: target.Kind}
		}
		return graph.Relation{
			Type:          graph.EdgeTagged,
			From:          graph.UserKey(r.Tagger),
			To:            to,
			Discriminator: r.Label,
			EdgeID:        r.ID,
			IndexedAt:     r.IndexedAt,
		}, []uri.Ref{uri.UserRef(r.Tagger), target}, nil

	case *model.Follow:
		return graph.Relation{
			Type:      graph.EdgeFollows,
			From:      graph.UserKey(r.Follower),
			To:        graph.UserKey(r.Followee),
			IndexedAt: r.IndexedAt,
		}, []uri.Ref{uri.UserRef(r.Follower), uri.UserRef(r.Followee)}, nil

	case *model.Mute:
		return graph.Relation{
			Type:      graph.EdgeMuted,
			From:      graph.UserKey(r.User),
			To:        graph.UserKey(r.Muted),
			IndexedAt: r.IndexedAt,
		}, []uri.Ref{uri.UserRef(r.User), uri.UserRef(r.Muted)}, nil

	case *model.Bookmark:
		target, err := uri.ParseAs(r.TargetURI, uri.KindPost)
		if err != nil {
			return graph.Relation{}, nil, err
		}
		to, _ := NodeKey(target)
		return graph.Relation{
			Type:      graph.EdgeBookmarked,
			From:      graph.UserKey(r.User),
			To:        to,
			EdgeID:    r.ID,
			IndexedAt: r.IndexedAt,
		}, []uri.Ref{uri.UserRef(r.User), target}, nil
	}
	return graph.Relation{}, nil, fmt.Errorf("relate: unsupported relation %T", rel)
}

// DeleteResult describes what a delete removed.
type DeleteResult struct {
	Deleted bool
	// Target is the node an edge-only record pointed at (the tagged post,
	// the followed user). Zero for node deletes.
	Target uri.Ref
}

// Delete removes the node or edge addressed by ref from the graph.
func (e *Engine) Delete(ctx context.Context, ref uri.Ref) (DeleteResult, error) {
	if key, ok := NodeKey(ref); ok {
		deleted, err := e.store.DeleteNode(ctx, key)
		if err != nil {
			return DeleteResult{}, fmt.Errorf("delete %s: %w", ref, err)
		}
		return DeleteResult{Deleted: deleted}, nil
	}

	edge, err := edgeRef(ref)
	if err != nil {
		return DeleteResult{}, err
	}
	target, deleted, err := e.store.DeleteRelation(ctx, edge)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete %s: %w", ref, err)
	}
	res := DeleteResult{Deleted: deleted}
	if deleted {
		res.Target, _ = RefOf(target)
	}
	return res, nil
}

func edgeRef(ref uri.Ref) (graph.EdgeRef, error) {
	from := graph.UserKey(ref.AuthorID)
	switch ref.Kind {
	case uri.KindTag:
		return graph.EdgeRef{Type: graph.EdgeTagged, From: from, EdgeID: ref.ID}, nil
	case uri.KindBookmark:
		return graph.EdgeRef{Type: graph.EdgeBookmarked, From: from, EdgeID: ref.ID}, nil
	case uri.KindFollow:
		return graph.EdgeRef{Type: graph.EdgeFollows, From: from, To: graph.UserKey(ref.ID)}, nil
	case uri.KindMute:
		return graph.EdgeRef{Type: graph.EdgeMuted, From: from, To: graph.UserKey(ref.ID)}, nil
	}
	return graph.EdgeRef{}, fmt.Errorf("delete: unsupported kind %s", ref.Kind)
}
