package graph

// Label is a node label.
type Label string

const (
	LabelUser       Label = "User"
	LabelPost       Label = "Post"
	LabelEvent      Label = "Event"
	LabelCalendar   Label = "Calendar"
	LabelAttendee   Label = "Attendee"
	LabelAlarm      Label = "Alarm"
	LabelFile       Label = "File"
	LabelHomeserver Label = "Homeserver"
)

// Valid reports whether l is one of the known labels. Labels are the only
// values ever written into Cypher text, so they must come from this set.
func (l Label) Valid() bool {
	switch l {
	case LabelUser, LabelPost, LabelEvent, LabelCalendar, LabelAttendee,
		LabelAlarm, LabelFile, LabelHomeserver:
		return true
	}
	return false
}

// EdgeType is a relationship type.
type EdgeType string

const (
	EdgeAuthored   EdgeType = "AUTHORED"
	EdgeReplied    EdgeType = "REPLIED"
	EdgeReposted   EdgeType = "REPOSTED"
	EdgeMentioned  EdgeType = "MENTIONED"
	EdgeFollows    EdgeType = "FOLLOWS"
	EdgeMuted      EdgeType = "MUTED"
	EdgeBookmarked EdgeType = "BOOKMARKED"
	EdgeTagged     EdgeType = "TAGGED"
	EdgeCanAuthor  EdgeType = "CAN_AUTHOR"
	EdgeBelongsTo  EdgeType = "BELONGS_TO"
	EdgeRSVPTo     EdgeType = "RSVP_TO"
	EdgeTargets    EdgeType = "TARGETS"
)

// Valid reports whether t is one of the known edge types.
func (t EdgeType) Valid() bool {
	switch t {
	case EdgeAuthored, EdgeReplied, EdgeReposted, EdgeMentioned, EdgeFollows,
		EdgeMuted, EdgeBookmarked, EdgeTagged, EdgeCanAuthor, EdgeBelongsTo,
		EdgeRSVPTo, EdgeTargets:
		return true
	}
	return false
}

// Direction selects which end of an edge a neighbor lookup walks.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

// NodeKey identifies a node. Users and homeservers are their own author:
// AuthorID == ID.
type NodeKey struct {
	Label    Label
	AuthorID string
	ID       string
}

// UserKey returns the key of a user node.
func UserKey(id string) NodeKey {
	return NodeKey{Label: LabelUser, AuthorID: id, ID: id}
}

// HomeserverKey returns the key of a homeserver node.
func HomeserverKey(id string) NodeKey {
	return NodeKey{Label: LabelHomeserver, AuthorID: id, ID: id}
}

// authored reports whether the node hangs off an AUTHORED edge.
func (k NodeKey) authored() bool {
	return k.Label != LabelUser && k.Label != LabelHomeserver
}

// Node is a node read back from the store.
type Node struct {
	Key   NodeKey
	Props Props
}

// Edge is a hard-dependency relationship from the mutated node to To.
// To must already exist; otherwise the whole mutation fails.
type Edge struct {
	Type EdgeType
	To   NodeKey
}

// Membership is a synchronized set of edges of one type between the
// mutated node and nodes labelled TargetLabel. All existing such edges are
// removed and one edge per existing target is recreated. Targets that do
// not exist are skipped.
type Membership struct {
	Type EdgeType
	// Inbound edges point from the target to the mutated node.
	Inbound     bool
	TargetLabel Label
	Targets     []NodeKey
}

// Mutation is the atomic upsert of one content node.
type Mutation struct {
	Node  NodeKey
	Props Props
	// Requires lists nodes that must exist without an edge being created.
	Requires    []NodeKey
	Edges       []Edge
	Memberships []Membership
}

// Relation is an edge-only write: tags, follows, mutes and bookmarks.
// Both endpoints must exist.
type Relation struct {
	Type EdgeType
	From NodeKey
	To   NodeKey
	// Discriminator distinguishes parallel edges of one type between the
	// same nodes. Tags use the label.
	Discriminator string
	// EdgeID is the homeserver id of the relation, used to delete it.
	EdgeID    string
	IndexedAt int64
}

// EdgeRef addresses an existing edge for deletion. When EdgeID is set the
// edge is found by its id; otherwise by its target.
type EdgeRef struct {
	Type   EdgeType
	From   NodeKey
	To     NodeKey
	EdgeID string
}

// Neighbor is a node adjacent to another through one edge.
type Neighbor struct {
	Key           NodeKey
	Props         Props
	Discriminator string
	EdgeID        string
	IndexedAt     int64
}

// EventFilter selects events for a stream. Zero fields do not filter.
type EventFilter struct {
	// StartMicros and EndMicros bound dtstart_ts, inclusive.
	StartMicros int64
	EndMicros   int64
	Tags        []string
	Authors     []string
	Calendar    *NodeKey
	Skip        int
	Limit       int
}

// CalendarFilter selects calendars for a stream. Zero fields do not filter.
type CalendarFilter struct {
	Tags    []string
	Authors []string
	// Admin keeps calendars the given user may author events into.
	Admin string
	Skip  int
	Limit int
}
