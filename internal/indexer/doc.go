// Package indexer is the ingestion boundary. It turns homeserver events
// into graph writes, keeps the cache in step with the graph, and decides
// what happens to events that cannot be indexed yet.
//
// Process returns nil on success and a *ProcessorError otherwise:
//
//   - MISSING_DEPENDENCY: a referenced object is not indexed; the event
//     is parked in the retry ledger and replayed when the object appears.
//   - SKIP_INDEXING: the event is malformed or out of retries; drop it.
//
// Any other error is a graph failure for this attempt and the event
// should be redelivered as is. Cache failures never fail an event; they
// are logged as INDEX_WRITE_FAILED.
//
// Cache policy after a successful write:
//
//	Created                          write the record through
//	Updated Calendar, Event, Post    discard and recompute from the graph
//	Updated other kinds              write the record through
//	Deleted                          remove, only after the graph delete
//
// Relation writes (tags, follows, mutes, bookmarks) touch no cached
// record.
package indexer
