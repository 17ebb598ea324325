package index

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gillohner/pubky-nexus/internal/graph"
	"github.com/gillohner/pubky-nexus/internal/model"
)

func createTestStore(t *testing.T) *graph.SQLiteStore {
	t.Helper()
	s, err := graph.OpenSQLite(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func putRecord(t *testing.T, s graph.Store, key graph.NodeKey, rec model.Record) {
	t.Helper()
	props, err := graph.EncodeProps(rec)
	require.NoError(t, err)
	_, err = s.Apply(context.Background(), graph.Mutation{Node: key, Props: props})
	require.NoError(t, err)
}

func seedPost(t *testing.T, s graph.Store, content string) *model.PostDetails {
	t.Helper()
	putRecord(t, s, graph.UserKey("alice"), &model.UserDetails{ID: "alice", Name: "Alice", IndexedAt: 1})
	post := &model.PostDetails{
		ID:        "p1",
		Author:    "alice",
		URI:       "pubky://alice/pub/pubky.app/posts/p1",
		Content:   content,
		Kind:      "short",
		IndexedAt: 2,
	}
	putRecord(t, s, graph.NodeKey{Label: graph.LabelPost, AuthorID: "alice", ID: "p1"}, post)
	return post
}

// countingStore counts GetNode calls.
type countingStore struct {
	graph.Store
	reads atomic.Int32
}

func (s *countingStore) GetNode(ctx context.Context, key graph.NodeKey) (graph.Node, bool, error) {
	s.reads.Add(1)
	return s.Store.GetNode(ctx, key)
}

// brokenCache fails every call.
type brokenCache struct{}

var errCacheDown = errors.New("cache down")

func (brokenCache) Get(context.Context, Key) ([]byte, bool, error) { return nil, false, errCacheDown }
func (brokenCache) Set(context.Context, Key, []byte) error         { return errCacheDown }
func (brokenCache) Del(context.Context, Key) error                 { return errCacheDown }
func (brokenCache) Close() error                                   { return nil }

func TestRepository_GetByID_FillOnRead(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: createTestStore(t)}
	seedPost(t, store, "hello")
	cache := NewMemoryCache()
	repo := NewRepository[model.PostDetails](cache, store, graph.LabelPost, nil)

	got, ok, err := repo.GetByID(ctx, "alice", "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, int32(1), store.reads.Load())
	assert.Equal(t, 1, cache.Len(), "miss should fill the cache")

	got, ok, err = repo.GetByID(ctx, "alice", "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, int32(1), store.reads.Load(), "hit should not read the graph")
}

func TestRepository_GetByID_NotFound(t *testing.T) {
	repo := NewRepository[model.PostDetails](NewMemoryCache(), createTestStore(t), graph.LabelPost, nil)

	got, ok, err := repo.GetByID(context.Background(), "alice", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestRepository_GetByID_CacheFailureFallsBackToGraph(t *testing.T) {
	store := createTestStore(t)
	seedPost(t, store, "hello")
	repo := NewRepository[model.PostDetails](brokenCache{}, store, graph.LabelPost, nil)

	got, ok, err := repo.GetByID(context.Background(), "alice", "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Content)
}

func TestRepository_GetByID_UndecodableEntry(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedPost(t, store, "hello")
	cache := NewMemoryCache()
	require.NoError(t, cache.Set(ctx, Key{"Post", "alice", "p1"}, []byte{0xff, 0x00}))
	repo := NewRepository[model.PostDetails](cache, store, graph.LabelPost, nil)

	got, ok, err := repo.GetByID(ctx, "alice", "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Content)
}

func TestRepository_GetByID_ConcurrentMissesShareRead(t *testing.T) {
	store := &countingStore{Store: createTestStore(t)}
	seedPost(t, store, "hello")
	repo := NewRepository[model.PostDetails](NewMemoryCache(), store, graph.LabelPost, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok, err := repo.GetByID(context.Background(), "alice", "p1")
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "hello", got.Content)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, store.reads.Load(), int32(16))
	assert.GreaterOrEqual(t, store.reads.Load(), int32(1))
}

func TestRepository_PutWritesThrough(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: createTestStore(t)}
	repo := NewRepository[model.PostDetails](NewMemoryCache(), store, graph.LabelPost, nil)

	post := &model.PostDetails{ID: "p9", Author: "alice", Content: "cached only", Kind: "short"}
	require.NoError(t, repo.Put(ctx, post))

	got, ok, err := repo.GetByID(ctx, "alice", "p9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, post, got)
	assert.Equal(t, int32(0), store.reads.Load())
}

func TestRepository_PutRecord_RejectsOtherTypes(t *testing.T) {
	repo := NewRepository[model.PostDetails](NewMemoryCache(), createTestStore(t), graph.LabelPost, nil)

	err := repo.PutRecord(context.Background(), &model.UserDetails{ID: "alice"})
	require.Error(t, err)
}

func TestRepository_ReindexReplacesStaleEntry(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedPost(t, store, "old")
	cache := NewMemoryCache()
	repo := NewRepository[model.PostDetails](cache, store, graph.LabelPost, nil)

	_, _, err := repo.GetByID(ctx, "alice", "p1")
	require.NoError(t, err)

	seedPost(t, store, "new")
	stale, _, err := repo.GetByID(ctx, "alice", "p1")
	require.NoError(t, err)
	assert.Equal(t, "old", stale.Content, "cache is stale until reindexed")

	key := graph.NodeKey{Label: graph.LabelPost, AuthorID: "alice", ID: "p1"}
	found, err := repo.Reindex(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)

	fresh, _, err := repo.GetByID(ctx, "alice", "p1")
	require.NoError(t, err)
	assert.Equal(t, "new", fresh.Content)
}

func TestRepository_ReindexMissingNodeDiscards(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	repo := NewRepository[model.PostDetails](cache, createTestStore(t), graph.LabelPost, nil)
	require.NoError(t, repo.Put(ctx, &model.PostDetails{ID: "gone", Author: "alice"}))

	found, err := repo.Reindex(ctx, graph.NodeKey{Label: graph.LabelPost, AuthorID: "alice", ID: "gone"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, cache.Len())
}

func TestRepository_Remove(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	repo := NewRepository[model.UserDetails](cache, createTestStore(t), graph.LabelUser, nil)
	require.NoError(t, repo.Put(ctx, &model.UserDetails{ID: "alice", Name: "Alice"}))
	assert.Equal(t, 1, cache.Len())

	require.NoError(t, repo.Remove(ctx, graph.UserKey("alice")))
	assert.Equal(t, 0, cache.Len())
}

func TestRepository_RemoveReportsCacheFailure(t *testing.T) {
	repo := NewRepository[model.UserDetails](brokenCache{}, createTestStore(t), graph.LabelUser, nil)

	err := repo.Remove(context.Background(), graph.UserKey("alice"))
	require.ErrorIs(t, err, errCacheDown)
}

func TestRegistry_For(t *testing.T) {
	reg := NewRegistry(NewMemoryCache(), createTestStore(t), nil)

	for _, label := range []graph.Label{
		graph.LabelUser, graph.LabelPost, graph.LabelEvent, graph.LabelCalendar,
		graph.LabelAttendee, graph.LabelAlarm, graph.LabelFile,
	} {
		assert.NotNil(t, reg.For(label), "label %s", label)
	}
	assert.Nil(t, reg.For(graph.LabelHomeserver))
}
