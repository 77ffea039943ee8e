// Package sqlite persists policies, profiles, secrets, and the policy
// graph in a single SQLite database file.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS policies (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL DEFAULT '',
	profile_id     TEXT NOT NULL DEFAULT '',
	action         TEXT NOT NULL,
	target         TEXT NOT NULL,
	patterns       TEXT NOT NULL DEFAULT '[]',
	operations     TEXT NOT NULL DEFAULT '[]',
	enabled        INTEGER NOT NULL DEFAULT 1,
	priority       INTEGER NOT NULL DEFAULT 0,
	scope          TEXT NOT NULL DEFAULT '',
	network_access TEXT NOT NULL DEFAULT '',
	position       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS graph_nodes (
	id         TEXT PRIMARY KEY,
	profile_id TEXT NOT NULL DEFAULT '',
	policy_id  TEXT NOT NULL,
	dormant    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS graph_edges (
	id             TEXT PRIMARY KEY,
	profile_id     TEXT NOT NULL DEFAULT '',
	source_node_id TEXT NOT NULL,
	target_node_id TEXT NOT NULL,
	effect         TEXT NOT NULL,
	lifetime       TEXT NOT NULL DEFAULT '',
	priority       INTEGER NOT NULL DEFAULT 0,
	enabled        INTEGER NOT NULL DEFAULT 1,
	grant_patterns TEXT NOT NULL DEFAULT '[]',
	secret_name    TEXT NOT NULL DEFAULT '',
	condition      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS activations (
	id           TEXT PRIMARY KEY,
	edge_id      TEXT NOT NULL,
	activated_at TEXT NOT NULL,
	process_id   INTEGER NOT NULL DEFAULT 0,
	expires_at   TEXT,
	consumed     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_activations_edge ON activations(edge_id, consumed);

CREATE TABLE IF NOT EXISTS secrets (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	type         TEXT NOT NULL,
	token_digest TEXT NOT NULL DEFAULT '',
	token_hash   TEXT NOT NULL DEFAULT ''
);
`

// Store is the SQLite-backed implementation of the storage seam. A single
// connection serializes writers, which keeps activation transitions atomic
// with respect to readers of the dormant-active set.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. The special path ":memory:" yields a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
