// Package engine turns canonical records into graph mutations.
//
// Upsert builds one Mutation per record: the author and any hard
// dependencies (reply and repost targets, an RSVP's event) are required
// matches, while membership lists (calendar admins, an event's calendars,
// post mentions, an alarm's target) are synchronized leniently. The store
// applies the whole mutation atomically, and the result is reported as a
// closed Outcome: Created, Updated or MissingDependency.
//
// Relate does the same for edge-only records (tags, follows, mutes,
// bookmarks). Delete removes nodes or edges; it never touches the cache.
package engine
