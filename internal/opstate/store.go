// Package opstate keeps small pieces of state across restarts: the
// bridge's undelivered queue and per-session chat history. Entries live
// under a namespace and a key; values are strings, usually JSON.
package opstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	NamespaceBridge   = "bridge"
	NamespaceSessions = "sessions"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_state (
	ns      TEXT    NOT NULL,
	k       TEXT    NOT NULL,
	v       TEXT    NOT NULL,
	updated INTEGER NOT NULL,
	PRIMARY KEY (ns, k)
) WITHOUT ROWID`

// Store is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore opens the SQLite file at path and prepares it.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opstate: open %s: %w", path, err)
	}
	s, err := NewStoreDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreDB uses an open database, creating the table on first use.
// On error db is left open for the caller to close.
func NewStoreDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("opstate: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get reads ns/key. A missing entry is "" with no error.
func (s *Store) Get(ctx context.Context, ns, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv_state WHERE ns = ? AND k = ?`, ns, key).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("opstate: get %s/%s: %w", ns, key, err)
	}
	return v, nil
}

// Set writes ns/key, replacing any previous value.
func (s *Store) Set(ctx context.Context, ns, key, value string) error {
	const q = `INSERT INTO kv_state (ns, k, v, updated) VALUES (?, ?, ?, ?)
		ON CONFLICT (ns, k) DO UPDATE SET v = excluded.v, updated = excluded.updated`
	if _, err := s.db.ExecContext(ctx, q, ns, key, value, time.Now().Unix()); err != nil {
		return fmt.Errorf("opstate: set %s/%s: %w", ns, key, err)
	}
	return nil
}

// Delete drops ns/key if present.
func (s *Store) Delete(ctx context.Context, ns, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_state WHERE ns = ? AND k = ?`, ns, key); err != nil {
		return fmt.Errorf("opstate: delete %s/%s: %w", ns, key, err)
	}
	return nil
}

// List returns all entries in ns. The map is never nil.
func (s *Store) List(ctx context.Context, ns string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT k, v FROM kv_state WHERE ns = ?`, ns)
	if err != nil {
		return nil, fmt.Errorf("opstate: list %s: %w", ns, err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("opstate: list %s: %w", ns, err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("opstate: list %s: %w", ns, err)
	}
	return out, nil
}

// GetJSON unmarshals ns/key into out and reports whether the entry
// existed.
func (s *Store) GetJSON(ctx context.Context, ns, key string, out any) (bool, error) {
	v, err := s.Get(ctx, ns, key)
	if err != nil || v == "" {
		return false, err
	}
	if err := json.Unmarshal([]byte(v), out); err != nil {
		return false, fmt.Errorf("opstate: %s/%s holds invalid JSON: %w", ns, key, err)
	}
	return true, nil
}

// SetJSON marshals v into ns/key.
func (s *Store) SetJSON(ctx context.Context, ns, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("opstate: encode %s/%s: %w", ns, key, err)
	}
	return s.Set(ctx, ns, key, string(b))
}
