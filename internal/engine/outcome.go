package engine

import "github.com/gillohner/pubky-nexus/internal/uri"

// OutcomeKind enumerates the Outcome variants.
type OutcomeKind int

const (
	KindCreated OutcomeKind = iota + 1
	KindUpdated
	KindMissingDependency
)

// String returns the variant name.
func (k OutcomeKind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindUpdated:
		return "updated"
	case KindMissingDependency:
		return "missing_dependency"
	}
	return "unknown"
}

// Outcome is the result of a graph write. It is one of Created, Updated or
// MissingDependency; no other type implements it.
type Outcome interface {
	Kind() OutcomeKind
	sealed()
}

// Created reports that the node or edge did not exist before the write.
type Created struct{}

// Updated reports that the write merged into an existing node or edge.
type Updated struct{}

// MissingDependency reports that a required node was absent and nothing
// was written. Refs lists every entity the write required; callers narrow
// it to the ones actually missing.
type MissingDependency struct {
	Refs []uri.Ref
}

func (Created) Kind() OutcomeKind           { return KindCreated }
func (Updated) Kind() OutcomeKind           { return KindUpdated }
func (MissingDependency) Kind() OutcomeKind { return KindMissingDependency }

func (Created) sealed()           {}
func (Updated) sealed()           {}
func (MissingDependency) sealed() {}

func outcomeOf(existed bool) Outcome {
	if existed {
		return Updated{}
	}
	return Created{}
}
