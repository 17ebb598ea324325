package engine

import (
	"github.com/gillohner/pubky-nexus/internal/graph"
	"github.com/gillohner/pubky-nexus/internal/uri"
)

var kindLabels = map[uri.Kind]graph.Label{
	uri.KindUser:     graph.LabelUser,
	uri.KindPost:     graph.LabelPost,
	uri.KindEvent:    graph.LabelEvent,
	uri.KindCalendar: graph.LabelCalendar,
	uri.KindAttendee: graph.LabelAttendee,
	uri.KindAlarm:    graph.LabelAlarm,
	uri.KindFile:     graph.LabelFile,
}

// NodeKey maps a reference onto its graph node. ok is false for kinds
// stored as edges (tags, follows, mutes, bookmarks).
func NodeKey(ref uri.Ref) (graph.NodeKey, bool) {
	label, ok := kindLabels[ref.Kind]
	if !ok {
		return graph.NodeKey{}, false
	}
	if ref.Kind == uri.KindUser {
		return graph.UserKey(ref.AuthorID), true
	}
	return graph.NodeKey{Label: label, AuthorID: ref.AuthorID, ID: ref.ID}, true
}

// RefOf is the inverse of NodeKey.
func RefOf(key graph.NodeKey) (uri.Ref, bool) {
	for kind, label := range kindLabels {
		if label != key.Label {
			continue
		}
		if kind == uri.KindUser {
			return uri.UserRef(key.ID), true
		}
		return uri.Ref{AuthorID: key.AuthorID, Kind: kind, ID: key.ID}, true
	}
	return uri.Ref{}, false
}
