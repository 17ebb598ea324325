package uri

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Scheme is the URI scheme of every homeserver reference.
	Scheme = "pubky://"

	// appPrefix is the namespace under which application data lives.
	appPrefix = "pub/pubky.app"

	profilePath = "profile.json"
)

// Kind identifies the resource type encoded in a URI.
type Kind string

const (
	KindUser     Kind = "user"
	KindPost     Kind = "post"
	KindEvent    Kind = "event"
	KindCalendar Kind = "calendar"
	KindAttendee Kind = "attendee"
	KindAlarm    Kind = "alarm"
	KindFile     Kind = "file"
	KindTag      Kind = "tag"
	KindFollow   Kind = "follow"
	KindMute     Kind = "mute"
	KindBookmark Kind = "bookmark"
)

// collections maps a URI collection segment to its resource kind.
var collections = map[string]Kind{
	"posts":     KindPost,
	"events":    KindEvent,
	"calendars": KindCalendar,
	"attendees": KindAttendee,
	"alarms":    KindAlarm,
	"files":     KindFile,
	"tags":      KindTag,
	"follows":   KindFollow,
	"mutes":     KindMute,
	"bookmarks": KindBookmark,
}

// Collection returns the URI path segment for a kind. User has no
// collection; its path is the fixed profile document.
func (k Kind) Collection() string {
	for segment, kind := range collections {
		if kind == k {
			return segment
		}
	}
	return ""
}

// Valid reports whether k is a known resource kind.
func (k Kind) Valid() bool {
	return k == KindUser || k.Collection() != ""
}

// Ref is a parsed content reference. Refs are values; the zero Ref is
// invalid and never returned alongside a nil error.
type Ref struct {
	AuthorID string
	Kind     Kind
	// ID is the resource id within the author's namespace. For users it
	// equals AuthorID so that every ref has a non-empty local id.
	ID string
}

// DependencyKey identifies an entity whose existence another write
// depends on. Its string form is the entity's URI, which is what the
// retry machinery stores and matches on.
type DependencyKey struct {
	AuthorID string
	Kind     Kind
	ID       string
}

// String returns the canonical URI of the key.
func (k DependencyKey) String() string {
	return Build(k.Kind, k.AuthorID, k.ID)
}

// Key returns the dependency key for the referenced entity.
func (r Ref) Key() DependencyKey {
	return DependencyKey{AuthorID: r.AuthorID, Kind: r.Kind, ID: r.ID}
}

// String returns the canonical URI for the reference.
func (r Ref) String() string {
	return Build(r.Kind, r.AuthorID, r.ID)
}

// IsZero reports whether r is the zero value.
func (r Ref) IsZero() bool {
	return r.AuthorID == "" && r.Kind == "" && r.ID == ""
}

// Build renders the canonical URI for a resource. For KindUser the id is
// ignored.
func Build(kind Kind, authorID, id string) string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString(authorID)
	b.WriteByte('/')
	b.WriteString(appPrefix)
	b.WriteByte('/')
	if kind == KindUser {
		b.WriteString(profilePath)
		return b.String()
	}
	b.WriteString(kind.Collection())
	b.WriteByte('/')
	b.WriteString(id)
	return b.String()
}

// UserRef returns the reference of a user profile.
func UserRef(userID string) Ref {
	return Ref{AuthorID: userID, Kind: KindUser, ID: userID}
}

// Parse parses a content URI. It returns a *ParseError when the URI is
// malformed.
func Parse(raw string) (Ref, error) {
	if !strings.HasPrefix(raw, Scheme) {
		return Ref{}, newParseError(raw, "missing "+Scheme+" scheme")
	}
	rest := strings.TrimPrefix(raw, Scheme)
	parts := strings.Split(rest, "/")
	if len(parts) < 4 {
		return Ref{}, newParseError(raw, "too few path segments")
	}

	author := parts[0]
	if err := ValidateAuthorID(author); err != nil {
		return Ref{}, newParseError(raw, err.Error())
	}
	if parts[1]+"/"+parts[2] != appPrefix {
		return Ref{}, newParseError(raw, "path is not under /"+appPrefix)
	}

	if parts[3] == profilePath {
		if len(parts) != 4 {
			return Ref{}, newParseError(raw, "trailing segments after "+profilePath)
		}
		return UserRef(author), nil
	}

	if len(parts) != 5 {
		return Ref{}, newParseError(raw, "expected {collection}/{id}")
	}
	kind, ok := collections[parts[3]]
	if !ok {
		return Ref{}, newParseError(raw, "unknown collection "+strconv.Quote(parts[3]))
	}
	id := parts[4]
	if kind == KindFollow || kind == KindMute {
		// Follows and mutes are addressed by the target user's id.
		if err := ValidateAuthorID(id); err != nil {
			return Ref{}, newParseError(raw, err.Error())
		}
	} else if err := ValidateResourceID(id); err != nil {
		return Ref{}, newParseError(raw, err.Error())
	}

	return Ref{AuthorID: author, Kind: kind, ID: id}, nil
}

// ParseAs parses a content URI and checks that it encodes the expected
// kind. A well-formed URI of another kind yields a *KindMismatchError.
func ParseAs(raw string, expected Kind) (Ref, error) {
	ref, err := Parse(raw)
	if err != nil {
		return Ref{}, err
	}
	if ref.Kind != expected {
		return Ref{}, &KindMismatchError{URI: raw, Expected: expected, Got: ref.Kind}
	}
	return ref, nil
}

// ValidateAuthorID checks a user identity. Identities are public keys
// rendered in a lowercase alphanumeric alphabet.
func ValidateAuthorID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: author id is empty", ErrInvalidID)
	}
	if len(id) > 64 {
		return fmt.Errorf("%w: author id exceeds 64 characters", ErrInvalidID)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return fmt.Errorf("%w: author id has invalid character %s", ErrInvalidID, strconv.Quote(string(c)))
		}
	}
	return nil
}

// ErrInvalidID is wrapped by every author or resource id validation error.
var ErrInvalidID = errors.New("invalid id")

// ValidateResourceID checks a resource-local id.
func ValidateResourceID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: resource id is empty", ErrInvalidID)
	}
	if len(id) > 128 {
		return fmt.Errorf("%w: resource id exceeds 128 characters", ErrInvalidID)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("%w: resource id has invalid character %s", ErrInvalidID, strconv.Quote(string(c)))
		}
	}
	return nil
}
