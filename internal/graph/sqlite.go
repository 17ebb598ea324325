package graph

import (
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/gillohner/pubky-nexus/internal/sqlitedb"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - empty database
// 1 - nodes and edges tables
// 2 - idx_nodes_label_indexed for calendar streams
const currentSchemaVersion = 2

// SQLiteStore is the embedded graph backend. Each Mutation runs in one
// transaction, so a failed required match rolls back every write.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite creates or opens a graph database at path and applies the
// schema. Foreign keys are enforced, so edges cascade with their nodes.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sqlitedb.Open(path, schemaSQL, currentSchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("graph database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
