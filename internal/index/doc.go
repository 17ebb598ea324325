// Package index is the read cache in front of the graph store.
//
// The graph is the source of truth; cache entries are derived copies of
// node records, keyed by ordered segments (label, author id, local id) and
// stored without TTL. Reads are cache-aside with fill-on-read. Writes are
// either write-through (Put) or discard-and-recompute from the graph
// (Reindex). Deletions from the graph must succeed before Remove is
// called.
//
// Refresher serializes recomputation requests through a FIFO worker so
// the window in which the cache lags the graph is observable through
// Pending.
package index
