package indexer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gillohner/pubky-nexus/internal/clock"
	"github.com/gillohner/pubky-nexus/internal/content"
	"github.com/gillohner/pubky-nexus/internal/deps"
	"github.com/gillohner/pubky-nexus/internal/engine"
	"github.com/gillohner/pubky-nexus/internal/graph"
	"github.com/gillohner/pubky-nexus/internal/index"
	"github.com/gillohner/pubky-nexus/internal/retry"
	"github.com/gillohner/pubky-nexus/internal/uri"
)

var errStoreDown = errors.New("graph unavailable")

// switchableStore fails deletes on demand.
type switchableStore struct {
	graph.Store

	mu         sync.Mutex
	failDelete bool
}

func (s *switchableStore) setFailDelete(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDelete = v
}

func (s *switchableStore) DeleteNode(ctx context.Context, key graph.NodeKey) (bool, error) {
	s.mu.Lock()
	fail := s.failDelete
	s.mu.Unlock()
	if fail {
		return false, errStoreDown
	}
	return s.Store.DeleteNode(ctx, key)
}

// lockedBuffer is a bytes.Buffer safe for concurrent log writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testEnv struct {
	ix        *Indexer
	store     *switchableStore
	cache     *index.MemoryCache
	records   *index.Registry
	refresher *index.Refresher
	resolver  *deps.Resolver
	ledger    *retry.Ledger
	logs      *lockedBuffer
}

type envOption func(*Options, *retry.Options, *deps.Options)

func withMaxAttempts(n int) envOption {
	return func(_ *Options, ro *retry.Options, _ *deps.Options) { ro.MaxAttempts = n }
}

func withAsyncRefresh() envOption {
	return func(o *Options, _ *retry.Options, _ *deps.Options) { o.AsyncRefresh = true }
}

func withFetcher(f deps.Fetcher) envOption {
	return func(_ *Options, _ *retry.Options, do *deps.Options) { do.Fetcher = f }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	dir := t.TempDir()
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	s, err := graph.OpenSQLite(filepath.Join(dir, "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	store := &switchableStore{Store: s}

	logs := &lockedBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	normalizer, err := content.NewNormalizer(clk)
	require.NoError(t, err)

	cache := index.NewMemoryCache()
	records := index.NewRegistry(cache, store, logger)
	refresher := index.NewRefresher(records, logger)

	ixOpts := Options{
		Engine:     engine.New(store, logger),
		Normalizer: normalizer,
		Records:    records,
		Refresher:  refresher,
		Logger:     logger,
	}
	retryOpts := retry.Options{Clock: clk}
	depsOpts := deps.Options{Store: store, Logger: logger, BackfillTimeout: time.Second}
	for _, o := range opts {
		o(&ixOpts, &retryOpts, &depsOpts)
	}

	ledger, err := retry.Open(filepath.Join(dir, "retry.db"), retryOpts)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	resolver := deps.NewResolver(depsOpts)
	t.Cleanup(resolver.Wait)

	ixOpts.Ledger = ledger
	ixOpts.Resolver = resolver

	return &testEnv{
		ix:        New(ixOpts),
		store:     store,
		cache:     cache,
		records:   records,
		refresher: refresher,
		resolver:  resolver,
		ledger:    ledger,
		logs:      logs,
	}
}

func (e *testEnv) put(t *testing.T, raw, payload string) error {
	t.Helper()
	ev, err := EventFromURI(OpPut, raw, []byte(payload))
	require.NoError(t, err)
	return e.ix.Process(context.Background(), ev)
}

func (e *testEnv) mustPut(t *testing.T, raw, payload string) {
	t.Helper()
	require.NoError(t, e.put(t, raw, payload))
}

func (e *testEnv) del(t *testing.T, raw string) error {
	t.Helper()
	ev, err := EventFromURI(OpDel, raw, nil)
	require.NoError(t, err)
	return e.ix.Process(context.Background(), ev)
}

func (e *testEnv) parked(t *testing.T) int {
	t.Helper()
	n, err := e.ledger.Len(context.Background())
	require.NoError(t, err)
	return n
}

func userURI(id string) string { return uri.Build(uri.KindUser, id, "") }

func (e *testEnv) users(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		e.mustPut(t, userURI(id), `{"name":"`+id+`"}`)
	}
}
