package model

import "github.com/gillohner/pubky-nexus/internal/uri"

// Record is a content object that materializes as a graph node owned by
// its author.
type Record interface {
	Ref() uri.Ref
}

// UserDetails is a user profile. A user is its own author.
type UserDetails struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Bio       string   `json:"bio,omitempty"`
	Status    string   `json:"status,omitempty"`
	Image     string   `json:"image,omitempty"`
	Links     []string `json:"links,omitempty"`
	IndexedAt int64    `json:"indexed_at"`
}

func (u *UserDetails) Ref() uri.Ref { return uri.UserRef(u.ID) }

// PostDetails is a post. Replied and Reposted are hard dependencies;
// Mentions is a synchronized set of user ids.
type PostDetails struct {
	ID          string   `json:"id"`
	Author      string   `json:"author"`
	URI         string   `json:"uri"`
	Content     string   `json:"content"`
	Kind        string   `json:"kind"`
	Attachments []string `json:"attachments,omitempty"`
	Replied     string   `json:"replied,omitempty"`
	Reposted    string   `json:"reposted,omitempty"`
	Mentions    []string `json:"mentions,omitempty"`
	IndexedAt   int64    `json:"indexed_at"`
}

func (p *PostDetails) Ref() uri.Ref {
	return uri.Ref{AuthorID: p.Author, Kind: uri.KindPost, ID: p.ID}
}

// EventDetails is a calendar event (RFC 5545 subset plus pubky
// extensions). CalendarURIs is a synchronized membership set.
type EventDetails struct {
	ID           string   `json:"id"`
	Author       string   `json:"author"`
	URI          string   `json:"uri"`
	UID          string   `json:"uid"`
	DTStamp      string   `json:"dtstamp"`
	DTStart      string   `json:"dtstart"`
	Summary      string   `json:"summary"`
	DTEnd        string   `json:"dtend,omitempty"`
	Duration     string   `json:"duration,omitempty"`
	RRule        string   `json:"rrule,omitempty"`
	Description  string   `json:"description,omitempty"`
	Status       string   `json:"status,omitempty"`
	Location     string   `json:"location,omitempty"`
	Geo          string   `json:"geo,omitempty"`
	Organizer    string   `json:"organizer,omitempty"`
	URL          string   `json:"url,omitempty"`
	Categories   []string `json:"categories,omitempty"`
	Sequence     int64    `json:"sequence,omitempty"`
	ImageURI     string   `json:"image_uri,omitempty"`
	RecurrenceID string   `json:"x_pubky_recurrence_id,omitempty"`
	CalendarURIs []string `json:"x_pubky_calendar_uris,omitempty"`
	RSVPAccess   string   `json:"x_pubky_rsvp_access,omitempty"`
	// DTStartTS and DTEndTS are unix microseconds derived from DTStart and
	// DTEnd, used by stream date-range filters. Zero when unparseable.
	DTStartTS int64 `json:"dtstart_ts,omitempty"`
	DTEndTS   int64 `json:"dtend_ts,omitempty"`
	IndexedAt int64 `json:"indexed_at"`
}

func (e *EventDetails) Ref() uri.Ref {
	return uri.Ref{AuthorID: e.Author, Kind: uri.KindEvent, ID: e.ID}
}

// CalendarDetails is a calendar. Admins is the synchronized set of user
// ids permitted to author events into it.
type CalendarDetails struct {
	ID          string   `json:"id"`
	Author      string   `json:"author"`
	URI         string   `json:"uri"`
	Name        string   `json:"name"`
	Timezone    string   `json:"timezone"`
	Color       string   `json:"color,omitempty"`
	Description string   `json:"description,omitempty"`
	URL         string   `json:"url,omitempty"`
	ImageURI    string   `json:"image_uri,omitempty"`
	Admins      []string `json:"x_pubky_admins,omitempty"`
	Created     int64    `json:"created,omitempty"`
	IndexedAt   int64    `json:"indexed_at"`
}

func (c *CalendarDetails) Ref() uri.Ref {
	return uri.Ref{AuthorID: c.Author, Kind: uri.KindCalendar, ID: c.ID}
}

// AttendeeDetails is an RSVP to an event. EventURI is a hard dependency.
type AttendeeDetails struct {
	ID           string `json:"id"`
	Author       string `json:"author"`
	URI          string `json:"uri"`
	PartStat     string `json:"partstat"`
	EventURI     string `json:"x_pubky_event_uri"`
	CreatedAt    int64  `json:"created_at,omitempty"`
	LastModified int64  `json:"last_modified,omitempty"`
	RecurrenceID int64  `json:"recurrence_id,omitempty"`
	IndexedAt    int64  `json:"indexed_at"`
}

func (a *AttendeeDetails) Ref() uri.Ref {
	return uri.Ref{AuthorID: a.Author, Kind: uri.KindAttendee, ID: a.ID}
}

// AlarmDetails is a reminder attached to an event or calendar.
type AlarmDetails struct {
	ID          string `json:"id"`
	Author      string `json:"author"`
	URI         string `json:"uri"`
	Action      string `json:"action"`
	Trigger     string `json:"trigger"`
	TargetURI   string `json:"x_pubky_target_uri"`
	Duration    string `json:"duration,omitempty"`
	Repeat      int64  `json:"repeat,omitempty"`
	Description string `json:"description,omitempty"`
	Summary     string `json:"summary,omitempty"`
	IndexedAt   int64  `json:"indexed_at"`
}

func (a *AlarmDetails) Ref() uri.Ref {
	return uri.Ref{AuthorID: a.Author, Kind: uri.KindAlarm, ID: a.ID}
}

// FileDetails is file metadata; blob content is stored elsewhere.
type FileDetails struct {
	ID          string `json:"id"`
	Author      string `json:"author"`
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Src         string `json:"src"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	CreatedAt   int64  `json:"created_at,omitempty"`
	IndexedAt   int64  `json:"indexed_at"`
}

func (f *FileDetails) Ref() uri.Ref {
	return uri.Ref{AuthorID: f.Author, Kind: uri.KindFile, ID: f.ID}
}
