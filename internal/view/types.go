package view

import "github.com/gillohner/pubky-nexus/internal/model"

// EventView is an event with its tags and RSVPs.
type EventView struct {
	Details   *model.EventDetails     `json:"details"`
	Tags      []model.TagDetails      `json:"tags"`
	Attendees []model.AttendeeDetails `json:"attendees"`
}

// CalendarView is a calendar with its tags, member event URIs and admin
// user ids.
type CalendarView struct {
	Details *model.CalendarDetails `json:"details"`
	Tags    []model.TagDetails     `json:"tags"`
	Events  []string               `json:"events"`
	Admins  []string               `json:"admins"`
}

// PostView is a post with its tags and reply URIs.
type PostView struct {
	Details *model.PostDetails `json:"details"`
	Tags    []model.TagDetails `json:"tags"`
	Replies []string           `json:"replies"`
}

// EventItem is one entry of an event stream.
type EventItem struct {
	Details *model.EventDetails `json:"details"`
	Tags    []model.TagDetails  `json:"tags"`
}

// CalendarItem is one entry of a calendar stream.
type CalendarItem struct {
	Details *model.CalendarDetails `json:"details"`
	Tags    []model.TagDetails     `json:"tags"`
}
