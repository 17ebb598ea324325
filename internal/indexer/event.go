package indexer

import (
	"fmt"

	"github.com/gillohner/pubky-nexus/internal/uri"
)

// Op is the homeserver operation an event reports.
type Op string

const (
	OpPut Op = "PUT"
	OpDel Op = "DEL"
)

// Valid reports whether o is PUT or DEL.
func (o Op) Valid() bool {
	return o == OpPut || o == OpDel
}

// Event is one inbound change from a homeserver. Payload is empty for
// deletes.
type Event struct {
	Op         Op
	Kind       uri.Kind
	AuthorID   string
	ResourceID string
	Payload    []byte
}

// EventFromURI builds an event for the object at raw.
func EventFromURI(op Op, raw string, payload []byte) (Event, error) {
	if !op.Valid() {
		return Event{}, fmt.Errorf("event: unknown op %q", op)
	}
	ref, err := uri.Parse(raw)
	if err != nil {
		return Event{}, err
	}
	return Event{Op: op, Kind: ref.Kind, AuthorID: ref.AuthorID, ResourceID: ref.ID, Payload: payload}, nil
}

// Ref returns the reference of the object the event is about.
func (e Event) Ref() uri.Ref {
	if e.Kind == uri.KindUser {
		return uri.UserRef(e.AuthorID)
	}
	return uri.Ref{AuthorID: e.AuthorID, Kind: e.Kind, ID: e.ResourceID}
}

// Key identifies the event across redeliveries, e.g.
// "PUT pubky://alice/pub/pubky.app/posts/p1".
func (e Event) Key() string {
	return string(e.Op) + " " + e.Ref().String()
}

// validate checks the event's addressing.
func (e Event) validate() error {
	if !e.Op.Valid() {
		return fmt.Errorf("unknown op %q", e.Op)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if err := uri.ValidateAuthorID(e.AuthorID); err != nil {
		return err
	}
	if e.Kind == uri.KindUser {
		return nil
	}
	if e.Kind == uri.KindFollow || e.Kind == uri.KindMute {
		return uri.ValidateAuthorID(e.ResourceID)
	}
	return uri.ValidateResourceID(e.ResourceID)
}
