package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// createTestStore opens a fresh SQLite graph in a temp dir.
func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func putUser(t *testing.T, s Store, id string) {
	t.Helper()
	_, err := s.Apply(context.Background(), Mutation{
		Node:  UserKey(id),
		Props: Props{"id": id, "name": id, "indexed_at": int64(1)},
	})
	require.NoError(t, err)
}

func putNode(t *testing.T, s Store, label Label, author, id string) NodeKey {
	t.Helper()
	key := NodeKey{Label: label, AuthorID: author, ID: id}
	_, err := s.Apply(context.Background(), Mutation{
		Node:  key,
		Props: Props{"id": id, "author": author, "indexed_at": int64(1)},
	})
	require.NoError(t, err)
	return key
}

func neighborIDs(t *testing.T, s Store, key NodeKey, et EdgeType, dir Direction) []string {
	t.Helper()
	nbs, err := s.Neighbors(context.Background(), key, et, dir, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(nbs))
	for _, nb := range nbs {
		ids = append(ids, nb.Key.ID)
	}
	return ids
}
