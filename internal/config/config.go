// Package config loads the indexer's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Graph backends.
const (
	GraphSQLite = "sqlite"
	GraphNeo4j  = "neo4j"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the full indexer configuration.
type Config struct {
	Graph      Graph      `yaml:"graph"`
	Cache      Cache      `yaml:"cache"`
	Homeserver Homeserver `yaml:"homeserver"`
	Indexer    Indexer    `yaml:"indexer"`
	Retry      Retry      `yaml:"retry"`
}

// Graph selects and locates the graph store.
type Graph struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	Neo4j   Neo4j  `yaml:"neo4j"`
}

// Neo4j holds Neo4j connection settings.
type Neo4j struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Cache selects and locates the record cache.
type Cache struct {
	Backend string `yaml:"backend"`
	Addr    string `yaml:"addr"`
	// Password may be left empty and supplied via NEXUS_REDIS_PASSWORD.
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Homeserver configures backfill fetches.
type Homeserver struct {
	BaseURL   string `yaml:"base_url"`
	ID        string `yaml:"id"`
	UserAgent string `yaml:"user_agent"`
	// Backfill disables dependency fetches when false.
	Backfill bool `yaml:"backfill"`
}

// Indexer configures event processing.
type Indexer struct {
	EventTimeout    Duration `yaml:"event_timeout"`
	BackfillTimeout Duration `yaml:"backfill_timeout"`
	AsyncRefresh    bool     `yaml:"async_refresh"`
}

// Retry configures the retry ledger.
type Retry struct {
	Path        string `yaml:"path"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns a configuration that runs entirely on local files.
func Default() Config {
	return Config{
		Graph: Graph{
			Backend: GraphSQLite,
			Path:    "nexus-graph.db",
			Neo4j: Neo4j{
				URI:      "bolt://localhost:7687",
				User:     "neo4j",
				Database: "neo4j",
			},
		},
		Cache: Cache{
			Backend: CacheMemory,
			Addr:    "localhost:6379",
			Prefix:  "nexus",
		},
		Homeserver: Homeserver{
			BaseURL:   "http://localhost:6286",
			ID:        "default",
			UserAgent: "pubky-nexus",
			Backfill:  true,
		},
		Indexer: Indexer{
			EventTimeout:    Duration(5 * time.Second),
			BackfillTimeout: Duration(2 * time.Second),
		},
		Retry: Retry{
			Path:        "nexus-retry.db",
			MaxAttempts: 5,
		},
	}
}

// Load reads path over Default and validates the result. Fields absent
// from the file keep their defaults. Environment variables
// NEXUS_NEO4J_PASSWORD and NEXUS_REDIS_PASSWORD fill empty passwords.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if c.Graph.Neo4j.Password == "" {
		c.Graph.Neo4j.Password = os.Getenv("NEXUS_NEO4J_PASSWORD")
	}
	if c.Cache.Password == "" {
		c.Cache.Password = os.Getenv("NEXUS_REDIS_PASSWORD")
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Graph.Backend {
	case GraphSQLite:
		if c.Graph.Path == "" {
			return fmt.Errorf("graph.path is required for the sqlite backend")
		}
	case GraphNeo4j:
		if c.Graph.Neo4j.URI == "" {
			return fmt.Errorf("graph.neo4j.uri is required for the neo4j backend")
		}
	default:
		return fmt.Errorf("graph.backend %q: must be %s or %s", c.Graph.Backend, GraphSQLite, GraphNeo4j)
	}

	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.Addr == "" {
			return fmt.Errorf("cache.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend %q: must be %s or %s", c.Cache.Backend, CacheMemory, CacheRedis)
	}

	if c.Homeserver.Backfill && c.Homeserver.BaseURL == "" {
		return fmt.Errorf("homeserver.base_url is required when backfill is enabled")
	}
	if c.Indexer.EventTimeout <= 0 {
		return fmt.Errorf("indexer.event_timeout must be positive")
	}
	if c.Indexer.BackfillTimeout <= 0 {
		return fmt.Errorf("indexer.backfill_timeout must be positive")
	}
	if c.Retry.Path == "" {
		return fmt.Errorf("retry.path is required")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	return nil
}
