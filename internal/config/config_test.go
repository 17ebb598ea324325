package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.Indexer.EventTimeout.Std())
	assert.Equal(t, 2*time.Second, cfg.Indexer.BackfillTimeout.Std())
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
graph:
  backend: neo4j
  neo4j:
    uri: bolt://graph:7687
cache:
  backend: redis
  addr: cache:6379
indexer:
  event_timeout: 750ms
  async_refresh: true
retry:
  max_attempts: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, GraphNeo4j, cfg.Graph.Backend)
	assert.Equal(t, "bolt://graph:7687", cfg.Graph.Neo4j.URI)
	assert.Equal(t, "neo4j", cfg.Graph.Neo4j.User, "unset fields keep defaults")
	assert.Equal(t, CacheRedis, cfg.Cache.Backend)
	assert.Equal(t, 750*time.Millisecond, cfg.Indexer.EventTimeout.Std())
	assert.Equal(t, 2*time.Second, cfg.Indexer.BackfillTimeout.Std())
	assert.True(t, cfg.Indexer.AsyncRefresh)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoad_PasswordsFromEnv(t *testing.T) {
	t.Setenv("NEXUS_NEO4J_PASSWORD", "s3cret")
	t.Setenv("NEXUS_REDIS_PASSWORD", "r3dis")
	cfg, err := Load(writeConfig(t, "graph:\n  backend: sqlite\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Graph.Neo4j.Password)
	assert.Equal(t, "r3dis", cfg.Cache.Password)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad duration", "indexer:\n  event_timeout: soon\n", "duration"},
		{"bad graph backend", "graph:\n  backend: postgres\n", "graph.backend"},
		{"bad cache backend", "cache:\n  backend: memcached\n", "cache.backend"},
		{"zero attempts", "retry:\n  max_attempts: 0\n", "retry.max_attempts"},
		{"negative timeout", "indexer:\n  backfill_timeout: -1s\n", "indexer.backfill_timeout"},
		{"not yaml", "graph: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
