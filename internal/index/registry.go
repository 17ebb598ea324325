package index

import (
	"log/slog"

	"github.com/gillohner/pubky-nexus/internal/graph"
	"github.com/gillohner/pubky-nexus/internal/model"
)

// Registry holds one Repository per node label.
type Registry struct {
	Users     *Repository[model.UserDetails, *model.UserDetails]
	Posts     *Repository[model.PostDetails, *model.PostDetails]
	Events    *Repository[model.EventDetails, *model.EventDetails]
	Calendars *Repository[model.CalendarDetails, *model.CalendarDetails]
	Attendees *Repository[model.AttendeeDetails, *model.AttendeeDetails]
	Alarms    *Repository[model.AlarmDetails, *model.AlarmDetails]
	Files     *Repository[model.FileDetails, *model.FileDetails]
}

// NewRegistry creates repositories for every node label over one cache
// and one store.
func NewRegistry(cache Cache, store graph.Store, logger *slog.Logger) *Registry {
	return &Registry{
		Users:     NewRepository[model.UserDetails](cache, store, graph.LabelUser, logger),
		Posts:     NewRepository[model.PostDetails](cache, store, graph.LabelPost, logger),
		Events:    NewRepository[model.EventDetails](cache, store, graph.LabelEvent, logger),
		Calendars: NewRepository[model.CalendarDetails](cache, store, graph.LabelCalendar, logger),
		Attendees: NewRepository[model.AttendeeDetails](cache, store, graph.LabelAttendee, logger),
		Alarms:    NewRepository[model.AlarmDetails](cache, store, graph.LabelAlarm, logger),
		Files:     NewRepository[model.FileDetails](cache, store, graph.LabelFile, logger),
	}
}

// For returns the writer for label, or nil.
func (r *Registry) For(label graph.Label) Writer {
	switch label {
	case graph.LabelUser:
		return r.Users
	case graph.LabelPost:
		return r.Posts
	case graph.LabelEvent:
		return r.Events
	case graph.LabelCalendar:
		return r.Calendars
	case graph.LabelAttendee:
		return r.Attendees
	case graph.LabelAlarm:
		return r.Alarms
	case graph.LabelFile:
		return r.Files
	}
	return nil
}
