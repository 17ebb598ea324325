package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventsBatch = `
events:
  - op: PUT
    uri: pubky://alice/pub/pubky.app/profile.json
    payload: {name: Alice}
  - op: PUT
    uri: pubky://bob/pub/pubky.app/profile.json
    payload: {name: Bob}
  - op: PUT
    uri: pubky://alice/pub/pubky.app/calendars/c1
    payload:
      name: Gigs
      timezone: Europe/Zurich
      x_pubky_admins: [bob]
  - op: PUT
    uri: pubky://alice/pub/pubky.app/events/e1
    payload:
      uid: uid-1
      dtstamp: 20260101T000000Z
      dtstart: "2026-03-10T18:00:00Z"
      summary: Concert
      x_pubky_calendar_uris: [pubky://alice/pub/pubky.app/calendars/c1]
  - op: PUT
    uri: pubky://bob/pub/pubky.app/tags/t1
    payload: {uri: "pubky://alice/pub/pubky.app/events/e1", label: Music}
  - op: PUT
    uri: pubky://bob/pub/pubky.app/attendees/a1
    payload: {partstat: ACCEPTED, x_pubky_event_uri: "pubky://alice/pub/pubky.app/events/e1"}
  - op: PUT
    uri: pubky://bob/pub/pubky.app/attendees/a2
    payload: {partstat: ACCEPTED, x_pubky_event_uri: "pubky://alice/pub/pubky.app/events/e9"}
  - op: PUT
    uri: pubky://carol/pub/pubky.app/profile.json
    payload: '[]'
`

// writeConfig writes a config using throwaway SQLite files. redisAddr
// selects the redis cache backend when set.
func writeConfig(t *testing.T, redisAddr string) string {
	t.Helper()
	dir := t.TempDir()
	cache := "backend: memory"
	if redisAddr != "" {
		cache = fmt.Sprintf("backend: redis\n  addr: %s\n  prefix: test", redisAddr)
	}
	cfg := fmt.Sprintf(`graph:
  backend: sqlite
  path: %s
cache:
  %s
homeserver:
  backfill: false
retry:
  path: %s
`, filepath.Join(dir, "graph.db"), cache, filepath.Join(dir, "retry.db"))

	path := filepath.Join(dir, "nexus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

func writeBatch(t *testing.T, batch string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.yaml")
	require.NoError(t, os.WriteFile(path, []byte(batch), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// data decodes the data field of a JSON envelope into v.
func data(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestRun_IndexesBatch(t *testing.T) {
	cfg := writeConfig(t, "")
	out, err := execute(t, "-c", cfg, "--format", "json", "run", writeBatch(t, eventsBatch))
	require.NoError(t, err)

	var summary RunSummary
	data(t, out, &summary)
	assert.Equal(t, RunSummary{Indexed: 6, Parked: 1, Skipped: 1, Remaining: 1}, summary)
}

func TestRun_ReplayReleasesParkedEvents(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := execute(t, "-c", cfg, "run", writeBatch(t, eventsBatch))
	require.NoError(t, err)

	late := `
events:
  - op: PUT
    uri: pubky://alice/pub/pubky.app/events/e9
    payload: {uid: uid-9, dtstamp: 20260101T000000Z, dtstart: "2026-05-01T10:00:00Z", summary: Late}
`
	out, err := execute(t, "-c", cfg, "--format", "json", "run", writeBatch(t, late))
	require.NoError(t, err)

	var summary RunSummary
	data(t, out, &summary)
	assert.Equal(t, 1, summary.Indexed)
	assert.Equal(t, 0, summary.Remaining)

	out, err = execute(t, "-c", cfg, "--format", "json", "get", "pubky://bob/pub/pubky.app/attendees/a2")
	require.NoError(t, err)
	var rec map[string]any
	data(t, out, &rec)
	assert.Equal(t, "ACCEPTED", rec["partstat"])
}

func TestRun_AsyncRefresh(t *testing.T) {
	cfg := writeConfig(t, "")
	raw, err := os.ReadFile(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg, append(raw, []byte("indexer:\n  async_refresh: true\n")...), 0644))

	batch := `
events:
  - op: PUT
    uri: pubky://alice/pub/pubky.app/profile.json
    payload: {name: Alice}
  - op: PUT
    uri: pubky://alice/pub/pubky.app/posts/p1
    payload: {content: one}
  - op: PUT
    uri: pubky://alice/pub/pubky.app/posts/p1
    payload: {content: two}
`
	_, err = execute(t, "-c", cfg, "run", writeBatch(t, batch))
	require.NoError(t, err)

	out, err := execute(t, "-c", cfg, "--format", "json", "get", "pubky://alice/pub/pubky.app/posts/p1")
	require.NoError(t, err)
	var rec map[string]any
	data(t, out, &rec)
	assert.Equal(t, "two", rec["content"])
}

func TestRun_BadInput(t *testing.T) {
	cfg := writeConfig(t, "")

	_, err := execute(t, "-c", cfg, "run", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "-c", filepath.Join(t.TempDir(), "missing.yaml"), "run", writeBatch(t, "events: []\n"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestGet_NotFound(t *testing.T) {
	cfg := writeConfig(t, "")
	out, err := execute(t, "-c", cfg, "--format", "json", "get", "pubky://alice/pub/pubky.app/posts/p1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestGet_InvalidURI(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := execute(t, "-c", cfg, "get", "https://example.com")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestView(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := execute(t, "-c", cfg, "run", writeBatch(t, eventsBatch))
	require.NoError(t, err)

	t.Run("event", func(t *testing.T) {
		out, err := execute(t, "-c", cfg, "--format", "json", "view", "pubky://alice/pub/pubky.app/events/e1")
		require.NoError(t, err)

		var v struct {
			Details   map[string]any `json:"details"`
			Tags      []struct {
				Label   string   `json:"label"`
				Taggers []string `json:"taggers"`
			} `json:"tags"`
			Attendees []map[string]any `json:"attendees"`
		}
		data(t, out, &v)
		assert.Equal(t, "Concert", v.Details["summary"])
		require.Len(t, v.Tags, 1)
		assert.Equal(t, "music", v.Tags[0].Label)
		assert.Equal(t, []string{"bob"}, v.Tags[0].Taggers)
		assert.Len(t, v.Attendees, 1)
	})

	t.Run("calendar", func(t *testing.T) {
		out, err := execute(t, "-c", cfg, "--format", "json", "view", "pubky://alice/pub/pubky.app/calendars/c1")
		require.NoError(t, err)

		var v struct {
			Events []string `json:"events"`
			Admins []string `json:"admins"`
		}
		data(t, out, &v)
		assert.Equal(t, []string{"pubky://alice/pub/pubky.app/events/e1"}, v.Events)
		assert.Equal(t, []string{"bob"}, v.Admins)
	})

	t.Run("kind without view", func(t *testing.T) {
		_, err := execute(t, "-c", cfg, "view", "pubky://bob/pub/pubky.app/tags/t1")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("missing", func(t *testing.T) {
		_, err := execute(t, "-c", cfg, "view", "pubky://alice/pub/pubky.app/events/e2")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
	})
}

func TestStream(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := execute(t, "-c", cfg, "run", writeBatch(t, eventsBatch))
	require.NoError(t, err)

	type item struct {
		Details map[string]any `json:"details"`
	}

	out, err := execute(t, "-c", cfg, "--format", "json", "stream", "events", "--tag", "music")
	require.NoError(t, err)
	var events []item
	data(t, out, &events)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].Details["id"])

	out, err = execute(t, "-c", cfg, "--format", "json", "stream", "events", "--start", "2026-04-01T00:00:00Z")
	require.NoError(t, err)
	events = nil
	data(t, out, &events)
	assert.Empty(t, events)

	out, err = execute(t, "-c", cfg, "--format", "json", "stream", "calendars", "--admin", "bob")
	require.NoError(t, err)
	var calendars []item
	data(t, out, &calendars)
	require.Len(t, calendars, 1)
	assert.Equal(t, "Gigs", calendars[0].Details["name"])

	_, err = execute(t, "-c", cfg, "stream", "events", "--start", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "-c", cfg, "stream", "posts")
	require.Error(t, err)
}

func TestReindex_SharedRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := writeConfig(t, mr.Addr())

	_, err := execute(t, "-c", cfg, "run", writeBatch(t, eventsBatch))
	require.NoError(t, err)
	require.True(t, mr.Exists("test:Calendar:alice:c1"), "created records are written through to redis")

	mr.Del("test:Calendar:alice:c1")
	out, err := execute(t, "-c", cfg, "--format", "json", "reindex", "pubky://alice/pub/pubky.app/calendars/c1")
	require.NoError(t, err)

	var res struct {
		Reindexed []string `json:"reindexed"`
	}
	data(t, out, &res)
	assert.Equal(t, []string{"pubky://alice/pub/pubky.app/calendars/c1"}, res.Reindexed)
	assert.True(t, mr.Exists("test:Calendar:alice:c1"))
}
