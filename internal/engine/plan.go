package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gillohner/pubky-nexus/internal/graph"
	"github.com/gillohner/pubky-nexus/internal/model"
	"github.com/gillohner/pubky-nexus/internal/uri"
)

// plan is a mutation plus the references it requires.
type plan struct {
	mutation graph.Mutation
	requires []uri.Ref
}

// planner builds mutations. Malformed membership entries are dropped and
// logged; malformed hard-dependency references fail the plan.
type planner struct {
	logger *slog.Logger
}

func (p planner) build(rec model.Record) (plan, error) {
	ref := rec.Ref()
	key, ok := NodeKey(ref)
	if !ok {
		return plan{}, fmt.Errorf("plan %s: kind is not a node", ref.Kind)
	}
	props, err := graph.EncodeProps(rec)
	if err != nil {
		return plan{}, fmt.Errorf("plan %s: %w", ref, err)
	}

	pl := plan{mutation: graph.Mutation{Node: key, Props: props}}
	if ref.Kind != uri.KindUser {
		pl.requires = append(pl.requires, uri.UserRef(ref.AuthorID))
	}

	switch r := rec.(type) {
	case *model.UserDetails, *model.FileDetails:
		// Scalar only.
	case *model.PostDetails:
		if err := pl.edge(graph.EdgeReplied, r.Replied, uri.KindPost); err != nil {
			return plan{}, err
		}
		if err := pl.edge(graph.EdgeReposted, r.Reposted, uri.KindPost); err != nil {
			return plan{}, err
		}
		pl.membership(graph.EdgeMentioned, false, graph.LabelUser, p.users(ref, "mentions", r.Mentions))
	case *model.EventDetails:
		pl.membership(graph.EdgeBelongsTo, false, graph.LabelCalendar,
			p.refs(ref, "x_pubky_calendar_uris", r.CalendarURIs, uri.KindCalendar))
	case *model.CalendarDetails:
		pl.membership(graph.EdgeCanAuthor, true, graph.LabelUser, p.users(ref, "x_pubky_admins", r.Admins))
	case *model.AttendeeDetails:
		if err := pl.edge(graph.EdgeRSVPTo, r.EventURI, uri.KindEvent); err != nil {
			return plan{}, err
		}
	case *model.AlarmDetails:
		p.alarmTarget(&pl, ref, r.TargetURI)
	default:
		return plan{}, fmt.Errorf("plan %s: unsupported record %T", ref, rec)
	}
	return pl, nil
}

// edge adds a hard dependency. An empty reference adds nothing.
func (pl *plan) edge(t graph.EdgeType, raw string, kind uri.Kind) error {
	if raw == "" {
		return nil
	}
	target, err := uri.ParseAs(raw, kind)
	if err != nil {
		return err
	}
	key, _ := NodeKey(target)
	pl.mutation.Edges = append(pl.mutation.Edges, graph.Edge{Type: t, To: key})
	pl.requires = append(pl.requires, target)
	return nil
}

// membership always adds the set, even when empty, so removals clear
// stale edges.
func (pl *plan) membership(t graph.EdgeType, inbound bool, label graph.Label, targets []graph.NodeKey) {
	pl.mutation.Memberships = append(pl.mutation.Memberships, graph.Membership{
		Type:        t,
		Inbound:     inbound,
		TargetLabel: label,
		Targets:     targets,
	})
}

// users resolves user entries given as bare ids or pubky:// URIs.
func (p planner) users(owner uri.Ref, field string, entries []string) []graph.NodeKey {
	out := make([]graph.NodeKey, 0, len(entries))
	for _, entry := range entries {
		id, ok := userID(entry)
		if !ok {
			p.logger.Warn("skipping malformed membership entry",
				"uri", owner.String(), "field", field, "entry", entry)
			continue
		}
		out = append(out, graph.UserKey(id))
	}
	return out
}

func userID(entry string) (string, bool) {
	if uri.ValidateAuthorID(entry) == nil {
		return entry, true
	}
	if ref, err := uri.Parse(entry); err == nil {
		return ref.AuthorID, true
	}
	bare := strings.TrimSuffix(strings.TrimPrefix(entry, uri.Scheme), "/")
	if strings.HasPrefix(entry, uri.Scheme) && uri.ValidateAuthorID(bare) == nil {
		return bare, true
	}
	return "", false
}

func (p planner) refs(owner uri.Ref, field string, entries []string, kind uri.Kind) []graph.NodeKey {
	out := make([]graph.NodeKey, 0, len(entries))
	for _, entry := range entries {
		target, err := uri.ParseAs(entry, kind)
		if err != nil {
			p.logger.Warn("skipping malformed membership entry",
				"uri", owner.String(), "field", field, "entry", entry, "error", err)
			continue
		}
		key, _ := NodeKey(target)
		out = append(out, key)
	}
	return out
}

// alarmTarget links an alarm to the event or calendar it reminds of.
// Both possible target sets are synchronized so a retargeted alarm loses
// its old edge, and a missing target never blocks the alarm.
func (p planner) alarmTarget(pl *plan, owner uri.Ref, raw string) {
	var events, calendars []graph.NodeKey
	target, err := uri.Parse(raw)
	if err == nil && target.Kind != uri.KindEvent && target.Kind != uri.KindCalendar {
		err = &uri.KindMismatchError{URI: raw, Expected: uri.KindEvent, Got: target.Kind}
	}
	if err != nil {
		p.logger.Warn("skipping malformed alarm target", "uri", owner.String(), "target", raw, "error", err)
	} else {
		key, _ := NodeKey(target)
		if key.Label == graph.LabelEvent {
			events = append(events, key)
		} else {
			calendars = append(calendars, key)
		}
	}
	pl.membership(graph.EdgeTargets, false, graph.LabelEvent, events)
	pl.membership(graph.EdgeTargets, false, graph.LabelCalendar, calendars)
}
