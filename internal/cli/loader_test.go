package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gillohner/pubky-nexus/internal/indexer"
	"github.com/gillohner/pubky-nexus/internal/uri"
)

func TestParseEvents(t *testing.T) {
	batch := `
events:
  - op: PUT
    uri: pubky://alice/pub/pubky.app/profile.json
    payload:
      name: Alice
      bio: hi
  - op: PUT
    uri: pubky://alice/pub/pubky.app/posts/p1
    payload: '{"content":"hello"}'
  - op: DEL
    uri: pubky://alice/pub/pubky.app/posts/p0
`
	events, err := ParseEvents("batch.yaml", []byte(batch))
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, indexer.OpPut, events[0].Op)
	assert.Equal(t, uri.KindUser, events[0].Kind)
	assert.Equal(t, "alice", events[0].AuthorID)
	assert.JSONEq(t, `{"name":"Alice","bio":"hi"}`, string(events[0].Payload))

	assert.Equal(t, uri.KindPost, events[1].Kind)
	assert.Equal(t, "p1", events[1].ResourceID)
	assert.Equal(t, `{"content":"hello"}`, string(events[1].Payload))

	assert.Equal(t, indexer.OpDel, events[2].Op)
	assert.Empty(t, events[2].Payload)
}

func TestParseEvents_Errors(t *testing.T) {
	tests := []struct {
		name  string
		batch string
		code  string
		index int
	}{
		{
			name:  "not yaml",
			batch: "events: [",
			code:  ErrCodeParseError,
			index: -1,
		},
		{
			name:  "unknown op",
			batch: "events:\n  - op: PATCH\n    uri: pubky://alice/pub/pubky.app/posts/p1\n",
			code:  ErrCodeBadEvent,
			index: 0,
		},
		{
			name: "bad uri",
			batch: "events:\n  - op: DEL\n    uri: pubky://alice/pub/pubky.app/posts/p1\n" +
				"  - op: DEL\n    uri: https://alice/posts/p1\n",
			code:  ErrCodeBadEvent,
			index: 1,
		},
		{
			name:  "payload string is not json",
			batch: "events:\n  - op: PUT\n    uri: pubky://alice/pub/pubky.app/posts/p1\n    payload: hello\n",
			code:  ErrCodeBadEvent,
			index: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvents("batch.yaml", []byte(tt.batch))
			require.Error(t, err)

			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr))
			assert.Equal(t, tt.code, loadErr.Code)
			assert.Equal(t, tt.index, loadErr.Index)
			assert.Equal(t, "batch.yaml", loadErr.File)
		})
	}
}

func TestLoadEvents_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := LoadEvents(path)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, ErrCodeReadError, loadErr.Code)
	assert.Contains(t, err.Error(), path)
}

func TestLoadEvents_EmptyBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("events: []\n"), 0644))

	events, err := LoadEvents(path)
	require.NoError(t, err)
	assert.Empty(t, events)
}
