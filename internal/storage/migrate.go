package storage

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		password_salt TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_email ON users (email)`,
	`CREATE TABLE IF NOT EXISTS authors (
		id UUID PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id UUID PRIMARY KEY,
		title TEXT NOT NULL,
		author_id UUID NOT NULL REFERENCES authors (id),
		stock INTEGER NOT NULL CHECK (stock >= 0),
		copies INTEGER NOT NULL CHECK (copies >= 0),
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_books_author ON books (author_id)`,
	`CREATE TABLE IF NOT EXISTS borrows (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users (id),
		book_id UUID NOT NULL REFERENCES books (id) ON DELETE CASCADE,
		borrowed_at TIMESTAMPTZ NOT NULL,
		returned_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_borrows_outstanding ON borrows (book_id) WHERE returned_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS borrow_events (
		id BIGSERIAL PRIMARY KEY,
		borrow_id UUID NOT NULL,
		event_type TEXT NOT NULL,
		event_data JSONB NOT NULL,
		version INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (borrow_id, version)
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		password_salt TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_email ON users (email)`,
	`CREATE TABLE IF NOT EXISTS authors (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author_id TEXT NOT NULL REFERENCES authors (id),
		stock INTEGER NOT NULL CHECK (stock >= 0),
		copies INTEGER NOT NULL CHECK (copies >= 0),
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_books_author ON books (author_id)`,
	`CREATE TABLE IF NOT EXISTS borrows (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users (id),
		book_id TEXT NOT NULL REFERENCES books (id) ON DELETE CASCADE,
		borrowed_at DATETIME NOT NULL,
		returned_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_borrows_outstanding ON borrows (book_id) WHERE returned_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS borrow_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		borrow_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_data TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (borrow_id, version)
	)`,
}

// Migrate creates the schema if it does not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if db.driver == DriverSQLite {
		schema = sqliteSchema
	}

	return db.InTx(ctx, "migrate", func(ctx context.Context) error {
		conn := db.Conn(ctx)
		for i, stmt := range schema {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %d: %w", i, Classify("migrate", err))
			}
		}
		db.logger.Info().Int("statements", len(schema)).Msg("schema migrated")
		return nil
	})
}

// Truncate removes every row, child tables first.
func (db *DB) Truncate(ctx context.Context) error {
	return db.InTx(ctx, "truncate", func(ctx context.Context) error {
		for _, table := range []string{"borrow_events", "borrows", "books", "authors", "users"} {
			if _, err := db.Exec(ctx, "truncate "+table, db.dialect.Delete(table)); err != nil {
				return err
			}
		}
		return nil
	})
}
