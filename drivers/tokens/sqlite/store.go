// Package sqlite provides a SQLite-backed querykit.TokenStore, persisting
// the credential pair across process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"querykit"
)

const schema = `CREATE TABLE IF NOT EXISTS tokens (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	access_token TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);`

// Store implements querykit.TokenStore on a single-row SQLite table. The
// pair is replaced in one statement, so readers never observe a
// half-updated pair.
type Store struct {
	db *sqlx.DB
}

// Ensure Store implements querykit.TokenStore.
var _ querykit.TokenStore = (*Store)(nil)

// NewStore opens (or creates) the token database at dsn. The returned
// cleanup function closes the connection pool.
func NewStore(dsn string) (*Store, func(), error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sqlite token store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create tokens table: %w", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing sqlite token store: %v", err)
		}
	}
	return &Store{db: db}, cleanup, nil
}

// Load returns the stored pair, or a zero pair when none has been saved.
func (s *Store) Load(ctx context.Context) (querykit.TokenPair, error) {
	var pair querykit.TokenPair
	err := s.db.GetContext(ctx, &pair, `SELECT access_token, refresh_token FROM tokens WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return querykit.TokenPair{}, nil
	}
	if err != nil {
		return querykit.TokenPair{}, fmt.Errorf("failed to load token pair: %w", err)
	}
	return pair, nil
}

// Save replaces the stored pair atomically.
func (s *Store) Save(ctx context.Context, pair querykit.TokenPair) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (id, access_token, refresh_token, updated_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET access_token = excluded.access_token,
		 refresh_token = excluded.refresh_token, updated_at = excluded.updated_at`,
		pair.AccessToken, pair.RefreshToken, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save token pair: %w", err)
	}
	return nil
}

// Clear removes the stored pair.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear token pair: %w", err)
	}
	return nil
}
