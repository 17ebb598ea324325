package model

// Relation is a content object that materializes as an edge rather than
// a node: tags, follows, mutes and bookmarks.
type Relation interface {
	relation()
}

// Tag labels a target (post, event, calendar or user). A tagger may
// attach several labels to one target; (tagger, target, label) is unique.
type Tag struct {
	ID        string `json:"id"`
	Tagger    string `json:"tagger"`
	TargetURI string `json:"uri"`
	Label     string `json:"label"`
	IndexedAt int64  `json:"indexed_at"`
}

// Follow is a directed follow between two users.
type Follow struct {
	Follower  string `json:"follower"`
	Followee  string `json:"followee"`
	IndexedAt int64  `json:"indexed_at"`
}

// Mute is a directed mute between two users.
type Mute struct {
	User      string `json:"user"`
	Muted     string `json:"muted"`
	IndexedAt int64  `json:"indexed_at"`
}

// Bookmark is a user's bookmark of a post.
type Bookmark struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	TargetURI string `json:"uri"`
	IndexedAt int64  `json:"indexed_at"`
}

func (*Tag) relation()      {}
func (*Follow) relation()   {}
func (*Mute) relation()     {}
func (*Bookmark) relation() {}

// TagDetails aggregates every tagger of one label on one target.
type TagDetails struct {
	Label        string   `json:"label"`
	Taggers      []string `json:"taggers"`
	TaggersCount int      `json:"taggers_count"`
}
