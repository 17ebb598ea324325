package content

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
	"unicode/utf8"

	"github.com/gillohner/pubky-nexus/internal/clock"
	"github.com/gillohner/pubky-nexus/internal/model"
	"github.com/gillohner/pubky-nexus/internal/uri"
)

const (
	maxUserNameLength = 50
	maxBioLength      = 160
	maxPostLength     = 50000
)

// mentionPattern matches "pk:<user id>" inside post content.
var mentionPattern = regexp.MustCompile(`pk:([a-z0-9]{1,64})`)

// Normalizer turns raw homeserver payloads into canonical records.
type Normalizer struct {
	clock     clock.Clock
	validator *Validator
}

// NewNormalizer builds a normalizer. indexed_at fields are stamped from c.
func NewNormalizer(c clock.Clock) (*Normalizer, error) {
	if c == nil {
		c = clock.Real()
	}
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Normalizer{clock: c, validator: v}, nil
}

// Normalize validates payload against the schema for ref.Kind and maps
// it into a canonical record. The result is a model.Record for node kinds
// (user, post, event, calendar, attendee, alarm, file) and a
// model.Relation for edge kinds (tag, follow, mute, bookmark).
//
// Returns *ValidationError for any payload that cannot be normalized.
func (n *Normalizer) Normalize(ref uri.Ref, payload []byte) (any, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = []byte("{}")
	}
	if err := n.validator.Validate(ref.Kind, payload); err != nil {
		return nil, err
	}
	now := clock.Millis(n.clock.Now())

	switch ref.Kind {
	case uri.KindUser:
		return n.user(ref, payload, now)
	case uri.KindPost:
		return n.post(ref, payload, now)
	case uri.KindEvent:
		return n.event(ref, payload, now)
	case uri.KindCalendar:
		return n.calendar(ref, payload, now)
	case uri.KindAttendee:
		return n.attendee(ref, payload, now)
	case uri.KindAlarm:
		return n.alarm(ref, payload, now)
	case uri.KindFile:
		return n.file(ref, payload, now)
	case uri.KindTag:
		return n.tag(ref, payload, now)
	case uri.KindFollow:
		return &model.Follow{Follower: ref.AuthorID, Followee: ref.ID, IndexedAt: now}, nil
	case uri.KindMute:
		return &model.Mute{User: ref.AuthorID, Muted: ref.ID, IndexedAt: now}, nil
	case uri.KindBookmark:
		return n.bookmark(ref, payload, now)
	default:
		return nil, invalid(ref.Kind, "", "unsupported kind")
	}
}

func decode(kind uri.Kind, payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return invalid(kind, "", "decode payload: "+err.Error())
	}
	return nil
}

type userPayload struct {
	Name   string `json:"name"`
	Bio    string `json:"bio"`
	Image  string `json:"image"`
	Status string `json:"status"`
	Links  []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"links"`
}

func (n *Normalizer) user(ref uri.Ref, payload []byte, now int64) (*model.UserDetails, error) {
	var p userPayload
	if err := decode(ref.Kind, payload, &p); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(p.Name)
	if utf8.RuneCountInString(name) > maxUserNameLength {
		return nil, invalid(ref.Kind, "name", "exceeds 50 characters")
	}
	if utf8.RuneCountInString(p.Bio) > maxBioLength {
		return nil, invalid(ref.Kind, "bio", "exceeds 160 characters")
	}
	u := &model.UserDetails{
		ID:        ref.AuthorID,
		Name:      name,
		Bio:       p.Bio,
		Status:    p.Status,
		Image:     p.Image,
		IndexedAt: now,
	}
	for _, l := range p.Links {
		if l.URL != "" {
			u.Links = append(u.Links, l.URL)
		}
	}
	return u, nil
}

type postPayload struct {
	Content string `json:"content"`
	Kind    string `json:"kind"`
	Parent  string `json:"parent"`
	Embed   *struct {
		Kind string `json:"kind"`
		URI  string `json:"uri"`
	} `json:"embed"`
	Attachments []string `json:"attachments"`
}

func (n *Normalizer) post(ref uri.Ref, payload []byte, now int64) (*model.PostDetails, error) {
	var p postPayload
	if err := decode(ref.Kind, payload, &p); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(p.Content) > maxPostLength {
		return nil, invalid(ref.Kind, "content", "exceeds maximum length")
	}
	kind := p.Kind
	if kind == "" {
		kind = "short"
	}
	post := &model.PostDetails{
		ID:          ref.ID,
		Author:      ref.AuthorID,
		URI:         ref.String(),
		Content:     p.Content,
		Kind:        kind,
		Attachments: p.Attachments,
		Replied:     p.Parent,
		Mentions:    ExtractMentions(p.Content),
		IndexedAt:   now,
	}
	if p.Embed != nil {
		post.Reposted = p.Embed.URI
	}
	return post, nil
}

// ExtractMentions returns the distinct user ids mentioned as "pk:<id>" in
// content, in order of first appearance.
func ExtractMentions(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// timestamp accepts either a JSON number (unix microseconds) or an
// iCalendar / RFC 3339 string.
type timestamp struct {
	raw    string
	micros int64
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		t.raw = s
		t.micros = parseMicros(s)
		return nil
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	t.raw = strconv.FormatInt(v, 10)
	t.micros = v
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"20060102T150405Z",
	"20060102T150405",
	"2006-01-02T15:04:05",
	"20060102",
	"2006-01-02",
}

// parseMicros converts a date-time string into unix microseconds, or 0
// when no known layout matches.
func parseMicros(s string) int64 {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMicro()
		}
	}
	return 0
}

type eventPayload struct {
	UID          string          `json:"uid"`
	DTStamp      timestamp       `json:"dtstamp"`
	DTStart      timestamp       `json:"dtstart"`
	Summary      string          `json:"summary"`
	DTEnd        timestamp       `json:"dtend"`
	Duration     string          `json:"duration"`
	RRule        string          `json:"rrule"`
	Description  string          `json:"description"`
	Status       string          `json:"status"`
	Location     string          `json:"location"`
	Geo          string          `json:"geo"`
	URL          string          `json:"url"`
	Categories   []string        `json:"categories"`
	Sequence     int64           `json:"sequence"`
	ImageURI     string          `json:"image_uri"`
	RecurrenceID timestamp       `json:"recurrence_id"`
	CalendarURIs []string        `json:"x_pubky_calendar_uris"`
	RSVPAccess   string          `json:"x_pubky_rsvp_access"`
	Organizer    json.RawMessage `json:"organizer"`
}

func (n *Normalizer) event(ref uri.Ref, payload []byte, now int64) (*model.EventDetails, error) {
	var p eventPayload
	if err := decode(ref.Kind, payload, &p); err != nil {
		return nil, err
	}
	if p.DTEnd.micros != 0 && p.DTStart.micros != 0 && p.DTEnd.micros < p.DTStart.micros {
		return nil, invalid(ref.Kind, "dtend", "ends before dtstart")
	}
	ev := &model.EventDetails{
		ID:           ref.ID,
		Author:       ref.AuthorID,
		URI:          ref.String(),
		UID:          p.UID,
		DTStamp:      p.DTStamp.raw,
		DTStart:      p.DTStart.raw,
		Summary:      p.Summary,
		DTEnd:        p.DTEnd.raw,
		Duration:     p.Duration,
		RRule:        p.RRule,
		Description:  p.Description,
		Status:       p.Status,
		Location:     p.Location,
		Geo:          p.Geo,
		URL:          p.URL,
		Categories:   p.Categories,
		Sequence:     p.Sequence,
		ImageURI:     p.ImageURI,
		RecurrenceID: p.RecurrenceID.raw,
		CalendarURIs: p.CalendarURIs,
		RSVPAccess:   p.RSVPAccess,
		DTStartTS:    p.DTStart.micros,
		DTEndTS:      p.DTEnd.micros,
		IndexedAt:    now,
	}
	if len(p.Organizer) > 0 && !bytes.Equal(p.Organizer, []byte("null")) {
		var compact bytes.Buffer
		if err := json.Compact(&compact, p.Organizer); err == nil {
			ev.Organizer = compact.String()
		}
	}
	return ev, nil
}

type calendarPayload struct {
	Name        string   `json:"name"`
	Timezone    string   `json:"timezone"`
	Color       string   `json:"color"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	ImageURI    string   `json:"image_uri"`
	Admins      []string `json:"x_pubky_admins"`
	Created     int64    `json:"created"`
}

func (n *Normalizer) calendar(ref uri.Ref, payload []byte, now int64) (*model.CalendarDetails, error) {
	var p calendarPayload
	if err := decode(ref.Kind, payload, &p); err != nil {
		return nil, err
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return nil, invalid(ref.Kind, "timezone", "unknown IANA timezone "+strconv.Quote(p.Timezone))
	}
	return &model.CalendarDetails{
		ID:          ref.ID,
		Author:      ref.AuthorID,
		URI:         ref.String(),
		Name:        p.Name,
		Timezone:    p.Timezone,
		Color:       p.Color,
		Description: p.Description,
		URL:         p.URL,
		ImageURI:    p.ImageURI,
		Admins:      p.Admins,
		Created:     p.Created,
		IndexedAt:   now,
	}, nil
}

type attendeePayload struct {
	PartStat     string `json:"partstat"`
	EventURI     string `json:"x_pubky_event_uri"`
	CreatedAt    int64  `json:"created_at"`
	LastModified int64  `json:"last_modified"`
	RecurrenceID int64  `json:"recurrence_id"`
}

func (n *Normalizer) attendee(ref uri.Ref, payload []byte, now int64) (*model.AttendeeDetails, error) {
	var p attendeePayload
	if err := decode(ref.Kind, payload, &p); err != nil {
		return nil, err
	}
	return &model.AttendeeDetails{
		ID:           ref.ID,
		Author:       ref.AuthorID,
		URI:          ref.String(),
		PartStat:     p.PartStat,
		EventURI:     p.EventURI,
		CreatedAt:    p.CreatedAt,
		LastModified: p.LastModified,
		RecurrenceID: p.RecurrenceID,
		IndexedAt:    now,
	}, nil
}

type alarmPayload struct {
	Action      string `json:"action"`
	Trigger     string `json:"trigger"`
	TargetURI   string `json:"x_pubky_target_uri"`
	Duration    string `json:"duration"`
	Repeat      int64  `json:"repeat"`
	Description string `json:"description"`
	Summary     string `json:"summary"`
}

func (n *Normalizer) alarm(ref uri.Ref, payload []byte, now int64) (*model.AlarmDetails, error) {
	var p alarmPayload
	if err := decode(ref.Kind, payload, &p); err != nil {
		return nil, err
	}
	if p.Repeat > 0 && p.Duration == "" {
		return nil, invalid(ref.Kind, "duration", "required when repeat is set")
	}
	return &model.AlarmDetails{
		ID:          ref.ID,
		Author:      ref.AuthorID,
		URI:         ref.String(),
		Action:      p.Action,
		Trigger:     p.Trigger,
		TargetURI:   p.TargetURI,
		Duration:    p.Duration,
		Repeat:      p.Repeat,
		Description: p.Description,
		Summary:     p.Summary,
		IndexedAt:   now,
	}, nil
}

type filePayload struct {
	Name        string `json:"name"`
	Src         string `json:"src"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	CreatedAt   int64  `json:"created_at"`
}

func (n *Normalizer) file(ref uri.Ref, payload []byte, now int64) (*model.FileDetails, error) {
	var p filePayload
	if err := decode(ref.Kind, payload, &p); err != nil {
		return nil, err
	}
	return &model.FileDetails{
		ID:          ref.ID,
		Author:      ref.AuthorID,
		URI:         ref.String(),
		Name:        p.Name,
		Src:         p.Src,
		ContentType: p.ContentType,
		Size:        p.Size,
		CreatedAt:   p.CreatedAt,
		IndexedAt:   now,
	}, nil
}

type tagPayload struct {
	URI   string `json:"uri"`
	Label string `json:"label"`
}

func (n *Normalizer) tag(ref uri.Ref, payload []byte, now int64) (*model.Tag, error) {
	var p tagPayload
	if err := decode(ref.Kind, payload, &p); err != nil {
		return nil, err
	}
	label, err := NormalizeLabel(p.Label)
	if err != nil {
		return nil, invalid(ref.Kind, "label", err.Error())
	}
	return &model.Tag{
		ID:        ref.ID,
		Tagger:    ref.AuthorID,
		TargetURI: p.URI,
		Label:     label,
		IndexedAt: now,
	}, nil
}

type bookmarkPayload struct {
	URI string `json:"uri"`
}

func (n *Normalizer) bookmark(ref uri.Ref, payload []byte, now int64) (*model.Bookmark, error) {
	var p bookmarkPayload
	if err := decode(ref.Kind, payload, &p); err != nil {
		return nil, err
	}
	return &model.Bookmark{ID: ref.ID, User: ref.AuthorID, TargetURI: p.URI, IndexedAt: now}, nil
}
