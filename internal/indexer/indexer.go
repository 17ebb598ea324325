package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gillohner/pubky-nexus/internal/content"
	"github.com/gillohner/pubky-nexus/internal/deps"
	"github.com/gillohner/pubky-nexus/internal/engine"
	"github.com/gillohner/pubky-nexus/internal/graph"
	"github.com/gillohner/pubky-nexus/internal/index"
	"github.com/gillohner/pubky-nexus/internal/model"
	"github.com/gillohner/pubky-nexus/internal/retry"
	"github.com/gillohner/pubky-nexus/internal/uri"
)

// DefaultEventTimeout bounds the graph work of one event.
const DefaultEventTimeout = 5 * time.Second

// Options wires an Indexer. Engine, Normalizer, Records and Refresher are
// required.
type Options struct {
	Engine     *engine.Engine
	Normalizer *content.Normalizer
	Records    *index.Registry
	Refresher  *index.Refresher
	// Resolver derives dependency keys and starts backfills. Without one
	// every reference of a MissingDependency outcome becomes a key.
	Resolver *deps.Resolver
	// Ledger parks retryable events. Without one, retryable events are
	// only reported to the caller.
	Ledger *retry.Ledger
	Flows  FlowGenerator
	// EventTimeout bounds each event; zero means DefaultEventTimeout.
	EventTimeout time.Duration
	// AsyncRefresh hands reindexing to the Refresher worker instead of
	// running it inline.
	AsyncRefresh bool
	Logger       *slog.Logger
}

// Indexer processes homeserver events.
//
// Thread-safety: safe for concurrent use. Independent events may be
// processed in parallel; per-node atomicity comes from the graph store.
type Indexer struct {
	engine       *engine.Engine
	normalizer   *content.Normalizer
	records      *index.Registry
	refresher    *index.Refresher
	resolver     *deps.Resolver
	ledger       *retry.Ledger
	flows        FlowGenerator
	timeout      time.Duration
	asyncRefresh bool
	logger       *slog.Logger
}

var _ deps.Ingestor = (*Indexer)(nil)

// New creates an Indexer and registers it as the resolver's ingestor.
func New(opts Options) *Indexer {
	ix := &Indexer{
		engine:       opts.Engine,
		normalizer:   opts.Normalizer,
		records:      opts.Records,
		refresher:    opts.Refresher,
		resolver:     opts.Resolver,
		ledger:       opts.Ledger,
		flows:        opts.Flows,
		timeout:      opts.EventTimeout,
		asyncRefresh: opts.AsyncRefresh,
		logger:       opts.Logger,
	}
	if ix.flows == nil {
		ix.flows = UUIDv7Generator{}
	}
	if ix.timeout <= 0 {
		ix.timeout = DefaultEventTimeout
	}
	if ix.logger == nil {
		ix.logger = slog.Default()
	}
	if ix.resolver != nil {
		ix.resolver.SetIngestor(ix)
	}
	return ix
}

// Ingest indexes a fetched object as a PUT event.
func (ix *Indexer) Ingest(ctx context.Context, ref uri.Ref, payload []byte) error {
	return ix.Process(ctx, Event{
		Op:         OpPut,
		Kind:       ref.Kind,
		AuthorID:   ref.AuthorID,
		ResourceID: ref.ID,
		Payload:    payload,
	})
}

// Process indexes one event. Events parked on a node this event created
// are replayed before Process returns.
func (ix *Indexer) Process(ctx context.Context, ev Event) error {
	flow := ix.flows.Generate()
	ref := ev.Ref()
	logger := ix.logger.With("flow", flow, "op", string(ev.Op), "uri", ref.String())

	if err := ev.validate(); err != nil {
		perr := newSkip(ref, flow, "malformed event", err)
		logger.Warn("event skipped", "error", perr)
		return perr
	}

	created, err := ix.process(ctx, logger, flow, ev)
	if err != nil {
		return err
	}
	if created {
		ix.replay(ctx, logger, ref.Key())
	}
	return nil
}

// process runs one attempt under the event timeout. created reports a
// new node that parked events may be waiting on.
func (ix *Indexer) process(ctx context.Context, logger *slog.Logger, flow string, ev Event) (created bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	if ev.Op == OpDel {
		return false, ix.delete(ctx, logger, flow, ev)
	}
	return ix.put(ctx, logger, flow, ev)
}

func (ix *Indexer) put(ctx context.Context, logger *slog.Logger, flow string, ev Event) (bool, error) {
	ref := ev.Ref()
	rec, err := ix.normalizer.Normalize(ref, ev.Payload)
	if err != nil {
		perr := newSkip(ref, flow, "invalid content", err)
		logger.Warn("event skipped", "error", perr)
		return false, perr
	}

	var out engine.Outcome
	switch r := rec.(type) {
	case model.Record:
		out, err = ix.engine.Upsert(ctx, r)
	case model.Relation:
		out, err = ix.engine.Relate(ctx, r)
	default:
		return false, fmt.Errorf("put %s: unexpected normalized type %T", ref, rec)
	}
	if err != nil {
		if uri.IsReferenceError(err) {
			perr := newSkip(ref, flow, "bad reference", err)
			logger.Warn("event skipped", "error", perr)
			return false, perr
		}
		logger.Error("graph write failed", "error", err)
		return false, err
	}

	switch o := out.(type) {
	case engine.MissingDependency:
		return false, ix.missing(ctx, logger, flow, ev, o)
	case engine.Created:
		logger.Info("event indexed", "outcome", o.Kind().String())
		ix.clearParked(ctx, logger, ev)
		if node, ok := rec.(model.Record); ok {
			ix.writeThrough(ctx, logger, flow, node)
			return true, nil
		}
		return false, nil
	case engine.Updated:
		logger.Info("event indexed", "outcome", o.Kind().String())
		ix.clearParked(ctx, logger, ev)
		if node, ok := rec.(model.Record); ok {
			if syncsRelationships(ref.Kind) {
				ix.reindex(ctx, logger, flow, ref)
			} else {
				ix.writeThrough(ctx, logger, flow, node)
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("put %s: unhandled outcome %T", ref, out)
}

// syncsRelationships reports whether records of kind carry relationship
// sets that the graph write synchronizes.
func syncsRelationships(kind uri.Kind) bool {
	switch kind {
	case uri.KindCalendar, uri.KindEvent, uri.KindPost:
		return true
	}
	return false
}

func (ix *Indexer) missing(ctx context.Context, logger *slog.Logger, flow string, ev Event, md engine.MissingDependency) error {
	ref := ev.Ref()
	var keys []uri.DependencyKey
	if ix.resolver != nil {
		keys = ix.resolver.Resolve(ctx, md)
	} else {
		for _, r := range md.Refs {
			keys = append(keys, r.Key())
		}
	}
	if len(keys) == 0 {
		perr := newSkip(ref, flow, "no dependency key derivable", nil)
		logger.Warn("event skipped", "error", perr)
		return perr
	}

	if ix.ledger != nil {
		attempts, err := ix.ledger.Park(ctx, retry.Entry{
			EventKey:   ev.Key(),
			Op:         string(ev.Op),
			Kind:       string(ev.Kind),
			AuthorID:   ev.AuthorID,
			ResourceID: ev.ResourceID,
			Payload:    ev.Payload,
		}, keys)
		if errors.Is(err, retry.ErrExhausted) {
			perr := newSkip(ref, flow, "retries exhausted", err)
			logger.Warn("event dropped", "error", perr)
			return perr
		}
		if err != nil {
			logger.Error("park event failed", "error", err)
		} else {
			logger.Debug("event parked", "attempts", attempts)
		}
	}

	perr := newMissingDependency(ref, flow, keys)
	logger.Info("event waiting on dependencies", "error", perr)
	return perr
}

func (ix *Indexer) delete(ctx context.Context, logger *slog.Logger, flow string, ev Event) error {
	ref := ev.Ref()
	res, err := ix.engine.Delete(ctx, ref)
	if err != nil {
		logger.Error("graph delete failed", "error", err)
		return err
	}
	ix.clearParked(ctx, logger, Event{Op: OpPut, Kind: ev.Kind, AuthorID: ev.AuthorID, ResourceID: ev.ResourceID})
	if !res.Deleted {
		logger.Debug("nothing to delete")
		return nil
	}
	logger.Info("event indexed", "outcome", "deleted")

	key, ok := engine.NodeKey(ref)
	if !ok {
		return nil
	}
	if w := ix.records.For(key.Label); w != nil {
		if err := w.Remove(ctx, key); err != nil {
			logger.Error("index write failed", "error", newIndexWriteFailed(ref, flow, err))
		}
	}
	return nil
}

func (ix *Indexer) writeThrough(ctx context.Context, logger *slog.Logger, flow string, rec model.Record) {
	ref := rec.Ref()
	key, _ := engine.NodeKey(ref)
	w := ix.records.For(key.Label)
	if w == nil {
		return
	}
	if err := w.PutRecord(ctx, rec); err != nil {
		logger.Error("index write failed", "error", newIndexWriteFailed(ref, flow, err))
	}
}

func (ix *Indexer) reindex(ctx context.Context, logger *slog.Logger, flow string, ref uri.Ref) {
	key, _ := engine.NodeKey(ref)
	if ix.asyncRefresh && ix.refresher.Enqueue(key) {
		return
	}
	if err := ix.refresher.Refresh(ctx, key); err != nil {
		logger.Error("index write failed", "error", newIndexWriteFailed(ref, flow, err))
	}
}

func (ix *Indexer) clearParked(ctx context.Context, logger *slog.Logger, ev Event) {
	if ix.ledger == nil {
		return
	}
	if err := ix.ledger.Clear(ctx, ev.Key()); err != nil {
		logger.Warn("clear parked event failed", "error", err)
	}
}

// replay reprocesses the events parked on key.
func (ix *Indexer) replay(ctx context.Context, logger *slog.Logger, key uri.DependencyKey) {
	if ix.ledger == nil {
		return
	}
	due, err := ix.ledger.Due(ctx, key)
	if err != nil {
		logger.Warn("load parked events failed", "key", key.String(), "error", err)
		return
	}
	for _, entry := range due {
		logger.Debug("replaying parked event", "event", entry.EventKey)
		_ = ix.Process(ctx, eventOf(entry))
	}
}

// ReplayParked reprocesses every parked event once and returns how many
// are still parked.
func (ix *Indexer) ReplayParked(ctx context.Context) (int, error) {
	if ix.ledger == nil {
		return 0, nil
	}
	all, err := ix.ledger.All(ctx)
	if err != nil {
		return 0, err
	}
	for _, entry := range all {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		_ = ix.Process(ctx, eventOf(entry))
	}
	return ix.ledger.Len(ctx)
}

func eventOf(e retry.Entry) Event {
	return Event{
		Op:         Op(e.Op),
		Kind:       uri.Kind(e.Kind),
		AuthorID:   e.AuthorID,
		ResourceID: e.ResourceID,
		Payload:    e.Payload,
	}
}

// Get returns the cached record at ref, reading through to the graph on a
// miss. Relation kinds have no record.
func (ix *Indexer) Get(ctx context.Context, ref uri.Ref) (model.Record, bool, error) {
	key, ok := engine.NodeKey(ref)
	if !ok {
		return nil, false, fmt.Errorf("get %s: kind has no record", ref)
	}
	switch key.Label {
	case graph.LabelUser:
		return found[*model.UserDetails](ix.records.Users.GetByID(ctx, key.AuthorID, key.ID))
	case graph.LabelPost:
		return found[*model.PostDetails](ix.records.Posts.GetByID(ctx, key.AuthorID, key.ID))
	case graph.LabelEvent:
		return found[*model.EventDetails](ix.records.Events.GetByID(ctx, key.AuthorID, key.ID))
	case graph.LabelCalendar:
		return found[*model.CalendarDetails](ix.records.Calendars.GetByID(ctx, key.AuthorID, key.ID))
	case graph.LabelAttendee:
		return found[*model.AttendeeDetails](ix.records.Attendees.GetByID(ctx, key.AuthorID, key.ID))
	case graph.LabelAlarm:
		return found[*model.AlarmDetails](ix.records.Alarms.GetByID(ctx, key.AuthorID, key.ID))
	case graph.LabelFile:
		return found[*model.FileDetails](ix.records.Files.GetByID(ctx, key.AuthorID, key.ID))
	}
	return nil, false, fmt.Errorf("get %s: no repository", ref)
}

// found converts a typed lookup into a model.Record without producing a
// non-nil interface around a nil pointer.
func found[P model.Record](rec P, ok bool, err error) (model.Record, bool, error) {
	if err != nil || !ok {
		return nil, false, err
	}
	return rec, true, nil
}

// Reindex recomputes the cache entry at ref from the graph.
func (ix *Indexer) Reindex(ctx context.Context, ref uri.Ref) error {
	key, ok := engine.NodeKey(ref)
	if !ok {
		return fmt.Errorf("reindex %s: kind has no record", ref)
	}
	return ix.refresher.Refresh(ctx, key)
}
