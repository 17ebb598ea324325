// Package view composes read-optimized aggregates from a primary record
// and the collections related to it in the graph.
//
// The primary record is read through the cache; secondary facets (tags,
// attendees, memberships) are read from the graph concurrently. A missing
// primary means not found. A failed secondary facet is logged and
// rendered empty.
package view
