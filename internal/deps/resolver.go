// Package deps turns a MissingDependency outcome into retry state.
//
// Resolve narrows the outcome's references to the ones whose existence
// cannot be confirmed and returns them as dependency keys. For each key it
// starts an isolated backfill: the object is fetched from its author's
// homeserver and ingested with backfill disabled, so a chain of missing
// references is followed at most one level per event. Backfill failures
// are logged and never change what Resolve returns.
package deps

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gillohner/pubky-nexus/internal/engine"
	"github.com/gillohner/pubky-nexus/internal/graph"
	"github.com/gillohner/pubky-nexus/internal/homeserver"
	"github.com/gillohner/pubky-nexus/internal/uri"
)

// DefaultBackfillTimeout bounds one backfill fetch plus ingest.
const DefaultBackfillTimeout = 2 * time.Second

// Fetcher downloads objects from a homeserver.
type Fetcher interface {
	FetchObject(ctx context.Context, ref uri.Ref) ([]byte, error)
	ID() string
}

// Ingestor indexes a fetched object.
type Ingestor interface {
	Ingest(ctx context.Context, ref uri.Ref, payload []byte) error
}

// Options configures a Resolver.
type Options struct {
	Store   graph.Store
	Fetcher Fetcher
	// Ingestor may be set after construction with SetIngestor, since the
	// ingestor usually owns the resolver.
	Ingestor        Ingestor
	BackfillTimeout time.Duration
	Logger          *slog.Logger
}

// Resolver derives dependency keys and runs backfills.
//
// Thread-safety: safe for concurrent use.
type Resolver struct {
	store   graph.Store
	fetcher Fetcher
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.RWMutex
	ingestor Ingestor

	flights singleflight.Group
	wg      sync.WaitGroup
}

// NewResolver creates a Resolver. Without a Fetcher no backfill runs.
func NewResolver(opts Options) *Resolver {
	timeout := opts.BackfillTimeout
	if timeout <= 0 {
		timeout = DefaultBackfillTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		ingestor: opts.Ingestor,
		timeout:  timeout,
		logger:   logger,
	}
}

// SetIngestor wires the ingestor used by backfills.
func (r *Resolver) SetIngestor(in Ingestor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingestor = in
}

type backfillKey struct{}

// WithoutBackfill marks ctx so that Resolve starts no backfill.
func WithoutBackfill(ctx context.Context) context.Context {
	return context.WithValue(ctx, backfillKey{}, true)
}

func backfillDisabled(ctx context.Context) bool {
	v, _ := ctx.Value(backfillKey{}).(bool)
	return v
}

// Resolve returns the dependency keys of md that still need to appear
// before the write can succeed. An empty result means no key could be
// derived and the event should be dropped.
func (r *Resolver) Resolve(ctx context.Context, md engine.MissingDependency) []uri.DependencyKey {
	if len(md.Refs) == 0 {
		return nil
	}

	seen := make(map[uri.DependencyKey]bool, len(md.Refs))
	var all, missing []uri.Ref
	for _, ref := range md.Refs {
		if seen[ref.Key()] {
			continue
		}
		seen[ref.Key()] = true
		all = append(all, ref)

		key, ok := engine.NodeKey(ref)
		if !ok {
			missing = append(missing, ref)
			continue
		}
		exists, err := r.store.Exists(ctx, key)
		if err != nil {
			r.logger.Warn("dependency existence check failed", "uri", ref.String(), "error", err)
			missing = append(missing, ref)
			continue
		}
		if !exists {
			missing = append(missing, ref)
		}
	}

	// Every dependency exists now: it appeared after the failed write, so
	// retrying on the full set succeeds.
	if len(missing) == 0 {
		missing = all
	}

	keys := make([]uri.DependencyKey, 0, len(missing))
	for _, ref := range missing {
		keys = append(keys, ref.Key())
		if !backfillDisabled(ctx) {
			r.backfill(ctx, ref)
		}
	}
	return keys
}

// backfill starts a detached fetch-and-ingest of ref. Concurrent requests
// for the same ref share one flight.
func (r *Resolver) backfill(ctx context.Context, ref uri.Ref) {
	if r.fetcher == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		_, err, _ := r.flights.Do(ref.String(), func() (any, error) {
			return nil, r.fetchAndIngest(bctx, ref)
		})
		switch {
		case err == nil:
			r.logger.Info("dependency backfilled", "uri", ref.String())
		case errors.Is(err, homeserver.ErrObjectNotFound):
			r.logger.Debug("dependency not on homeserver yet", "uri", ref.String())
		default:
			r.logger.Warn("dependency backfill failed", "uri", ref.String(), "error", err)
		}
	}()
}

func (r *Resolver) fetchAndIngest(ctx context.Context, ref uri.Ref) error {
	if _, err := r.store.PutHomeserver(ctx, r.fetcher.ID()); err != nil {
		r.logger.Warn("record homeserver failed", "homeserver", r.fetcher.ID(), "error", err)
	}

	payload, err := r.fetcher.FetchObject(ctx, ref)
	if err != nil {
		return err
	}

	r.mu.RLock()
	in := r.ingestor
	r.mu.RUnlock()
	if in == nil {
		return errors.New("no ingestor configured")
	}
	return in.Ingest(WithoutBackfill(ctx), ref, payload)
}

// Wait blocks until every started backfill has finished.
func (r *Resolver) Wait() {
	r.wg.Wait()
}
