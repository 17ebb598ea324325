// Package model defines the canonical per-kind records produced by the
// content normalizer and persisted in both the graph and the cache.
//
// Records are flat: every field is a string, an integer, a bool or a list
// of strings, so they map one-to-one onto graph node properties and
// serialize identically to JSON (read API) and CBOR (cache).
package model
