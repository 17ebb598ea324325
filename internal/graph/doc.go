// Package graph is the authoritative store for indexed content.
//
// Content objects are nodes keyed by (label, author id, local id) and
// reachable from their author through an AUTHORED edge. A Mutation is
// applied as one atomic unit: required matches first, then the node
// merge, hard-dependency edges and membership re-synchronization. When a
// required match fails nothing is written and ErrNoMatch is returned.
//
// Two backends implement Store:
//   - SQLiteStore, an embedded nodes/edges schema (default, used by tests)
//   - Neo4jStore, one parameterized Cypher statement per mutation
//
// Membership target lists are always passed as a single bound parameter
// (json_each(?) in SQLite, UNWIND $targets in Cypher); no identifier is
// ever spliced into query text.
package graph
