package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gillohner/pubky-nexus/internal/graph"
)

// refreshQueue is a thread-safe FIFO of nodes awaiting reindex. A node
// already waiting is not queued twice.
//
// The signal channel (buffered, size 1) lets Run wait on it in a select
// alongside ctx.Done.
type refreshQueue struct {
	mu      sync.Mutex
	keys    []graph.NodeKey
	pending map[graph.NodeKey]struct{}
	closed  bool
	signal  chan struct{}
}

func newRefreshQueue() *refreshQueue {
	return &refreshQueue{
		keys:    make([]graph.NodeKey, 0, 64),
		pending: make(map[graph.NodeKey]struct{}),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds key to the back of the queue. Returns false if the queue
// is closed.
func (q *refreshQueue) Enqueue(key graph.NodeKey) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, ok := q.pending[key]; ok {
		return true
	}
	q.pending[key] = struct{}{}
	q.keys = append(q.keys, key)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front key without blocking.
func (q *refreshQueue) TryDequeue() (graph.NodeKey, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.keys) == 0 {
		return graph.NodeKey{}, false
	}
	key := q.keys[0]
	if len(q.keys) == 1 {
		q.keys = q.keys[:0]
	} else {
		q.keys = q.keys[1:]
	}
	delete(q.pending, key)
	return key, true
}

func (q *refreshQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *refreshQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keys)
}

// drained reports whether the queue is closed and empty.
func (q *refreshQueue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.keys) == 0
}

func (q *refreshQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Refresher recomputes cache entries from the graph. Refresh does so
// inline; Enqueue hands the node to the worker started by Run. Pending
// reports how many nodes are waiting, i.e. how many cache entries may
// currently disagree with the graph.
type Refresher struct {
	registry *Registry
	queue    *refreshQueue
	logger   *slog.Logger
}

// NewRefresher creates a Refresher over registry.
func NewRefresher(registry *Registry, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{registry: registry, queue: newRefreshQueue(), logger: logger}
}

// Refresh reindexes key now. A node no longer in the graph has its
// entry discarded.
func (r *Refresher) Refresh(ctx context.Context, key graph.NodeKey) error {
	w := r.registry.For(key.Label)
	if w == nil {
		return fmt.Errorf("refresh: no repository for label %q", key.Label)
	}
	found, err := w.Reindex(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		r.logger.Debug("refresh found no node", "label", key.Label, "author", key.AuthorID, "id", key.ID)
	}
	return nil
}

// Enqueue schedules key for the worker. Returns false after Stop.
func (r *Refresher) Enqueue(key graph.NodeKey) bool {
	return r.queue.Enqueue(key)
}

// Pending returns the number of nodes waiting to be refreshed.
func (r *Refresher) Pending() int {
	return r.queue.Len()
}

// Run processes queued refreshes until ctx is cancelled or Stop is
// called and the queue has drained. Failures are logged and the worker
// moves on.
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.Info("refresher starting")

	for {
		key, ok := r.queue.TryDequeue()
		if ok {
			if err := r.Refresh(ctx, key); err != nil {
				r.logger.Error("refresh failed",
					"label", key.Label, "author", key.AuthorID, "id", key.ID, "error", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			r.logger.Info("refresher stopping: context cancelled")
			r.queue.Close()
			return ctx.Err()

		case <-r.queue.Wait():
			if r.queue.drained() {
				r.logger.Info("refresher stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once the remaining keys are done.
func (r *Refresher) Stop() {
	r.queue.Close()
}
