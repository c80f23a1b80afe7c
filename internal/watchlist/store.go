// Package watchlist persists the ticker symbols the trade_watchlist
// tool tracks. Symbols are stored upper-cased in SQLite and listed in
// the order they were added.
package watchlist

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Store persists watched ticker symbols.
type Store struct {
	db *sql.DB
}

// NewStore creates a watchlist store, running migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate watchlist: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS watched_symbols (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol   TEXT NOT NULL UNIQUE,
			added_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// Normalize upper-cases and trims a symbol.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Add inserts a symbol. Duplicates are ignored.
func (s *Store) Add(ctx context.Context, symbol string) error {
	symbol = Normalize(symbol)
	if symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO watched_symbols (symbol) VALUES (?)`, symbol)
	return err
}

// Remove deletes a symbol. Unknown symbols are a no-op.
func (s *Store) Remove(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM watched_symbols WHERE symbol = ?`, Normalize(symbol))
	return err
}

// Replace sets the watchlist to exactly symbols, dropping blanks and
// duplicates while keeping their order.
func (s *Store) Replace(ctx context.Context, symbols []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM watched_symbols`); err != nil {
		return err
	}
	for _, sym := range symbols {
		sym = Normalize(sym)
		if sym == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO watched_symbols (symbol) VALUES (?)`, sym); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// List returns all watched symbols in insertion order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol FROM watched_symbols ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var syms []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		syms = append(syms, sym)
	}
	return syms, rows.Err()
}
