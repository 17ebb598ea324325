package index

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/gillohner/pubky-nexus/internal/graph"
	"github.com/gillohner/pubky-nexus/internal/model"
)

// RecordPtr is satisfied by pointers to record structs.
type RecordPtr[T any] interface {
	*T
	model.Record
}

// Writer is the label-agnostic write side of a Repository.
type Writer interface {
	// PutRecord writes rec through to the cache.
	PutRecord(ctx context.Context, rec model.Record) error
	// Reindex discards the entry for key and recomputes it from the graph.
	// found is false when the graph no longer holds the node.
	Reindex(ctx context.Context, key graph.NodeKey) (found bool, err error)
	// Remove discards the entry for key.
	Remove(ctx context.Context, key graph.NodeKey) error
}

// CacheKey returns the cache key of a node.
func CacheKey(key graph.NodeKey) Key {
	return Key{string(key.Label), key.AuthorID, key.ID}
}

// Repository reads and writes one record type through the cache.
type Repository[T any, P RecordPtr[T]] struct {
	cache   Cache
	store   graph.Store
	label   graph.Label
	logger  *slog.Logger
	flights singleflight.Group
}

var _ Writer = (*Repository[model.PostDetails, *model.PostDetails])(nil)

// NewRepository creates a Repository for nodes labelled label.
func NewRepository[T any, P RecordPtr[T]](cache Cache, store graph.Store, label graph.Label, logger *slog.Logger) *Repository[T, P] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository[T, P]{cache: cache, store: store, label: label, logger: logger}
}

func (r *Repository[T, P]) nodeKey(authorID, id string) graph.NodeKey {
	if r.label == graph.LabelUser {
		return graph.UserKey(id)
	}
	return graph.NodeKey{Label: r.label, AuthorID: authorID, ID: id}
}

// GetByID returns the record for (authorID, id). A cache miss reads the
// graph and fills the cache; concurrent misses for one key share a single
// graph read. Cache failures are logged and fall through to the graph.
func (r *Repository[T, P]) GetByID(ctx context.Context, authorID, id string) (P, bool, error) {
	key := r.nodeKey(authorID, id)
	ck := CacheKey(key)

	if data, ok, err := r.cache.Get(ctx, ck); err != nil {
		r.logger.Warn("cache read failed", "key", ck.String(), "error", err)
	} else if ok {
		rec := P(new(T))
		if err := decode(data, rec); err == nil {
			return rec, true, nil
		}
		r.logger.Warn("discarding undecodable cache entry", "key", ck.String())
	}

	v, err, _ := r.flights.Do(ck.String(), func() (any, error) {
		rec, found, err := r.load(ctx, key)
		if err != nil || !found {
			return nil, err
		}
		if err := r.set(ctx, ck, rec); err != nil {
			r.logger.Warn("cache fill failed", "key", ck.String(), "error", err)
		}
		return rec, nil
	})
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v.(P), true, nil
}

func (r *Repository[T, P]) load(ctx context.Context, key graph.NodeKey) (P, bool, error) {
	node, found, err := r.store.GetNode(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	rec := P(new(T))
	if err := graph.DecodeProps(node.Props, rec); err != nil {
		return nil, false, fmt.Errorf("load %s %s/%s: %w", key.Label, key.AuthorID, key.ID, err)
	}
	return rec, true, nil
}

func (r *Repository[T, P]) set(ctx context.Context, ck Key, rec P) error {
	data, err := encode(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ck, err)
	}
	return r.cache.Set(ctx, ck, data)
}

// Put writes rec through to the cache.
func (r *Repository[T, P]) Put(ctx context.Context, rec P) error {
	key, ok := r.keyOf(rec)
	if !ok {
		return fmt.Errorf("put: record %s is not a %s", rec.Ref(), r.label)
	}
	return r.set(ctx, CacheKey(key), rec)
}

// PutRecord implements Writer.
func (r *Repository[T, P]) PutRecord(ctx context.Context, rec model.Record) error {
	typed, ok := rec.(P)
	if !ok {
		return fmt.Errorf("put: unexpected record %T for %s", rec, r.label)
	}
	return r.Put(ctx, typed)
}

func (r *Repository[T, P]) keyOf(rec P) (graph.NodeKey, bool) {
	ref := rec.Ref()
	key := r.nodeKey(ref.AuthorID, ref.ID)
	return key, ref.ID != ""
}

// Reindex implements Writer.
func (r *Repository[T, P]) Reindex(ctx context.Context, key graph.NodeKey) (bool, error) {
	ck := CacheKey(key)
	if err := r.cache.Del(ctx, ck); err != nil {
		return false, fmt.Errorf("reindex %s: discard: %w", ck, err)
	}
	rec, found, err := r.load(ctx, key)
	if err != nil {
		return false, fmt.Errorf("reindex %s: %w", ck, err)
	}
	if !found {
		return false, nil
	}
	if err := r.set(ctx, ck, rec); err != nil {
		return true, fmt.Errorf("reindex %s: %w", ck, err)
	}
	return true, nil
}

// Remove implements Writer.
func (r *Repository[T, P]) Remove(ctx context.Context, key graph.NodeKey) error {
	ck := CacheKey(key)
	if err := r.cache.Del(ctx, ck); err != nil {
		return fmt.Errorf("remove %s: %w", ck, err)
	}
	return nil
}
