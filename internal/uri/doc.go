// Package uri resolves homeserver content URIs into typed references.
//
// Every cross-entity reference in the indexer is a URI of the form
//
//	pubky://{author_id}/pub/pubky.app/{path}
//
// where path is "profile.json" for a user or "{collection}/{id}" for any
// other resource. The URI is the universal foreign key of the system: the
// graph write engine, the dependency resolver and the cache layer all key
// their work on the (author_id, kind, id) triple parsed here.
//
// Parsing is pure. No function in this package performs I/O.
package uri
