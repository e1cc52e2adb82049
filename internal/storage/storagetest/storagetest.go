// Package storagetest opens migrated databases for tests.
package storagetest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"libris/internal/storage"
)

// NewSQLite returns a migrated in-memory database that is closed when the test ends.
func NewSQLite(t testing.TB) *storage.DB {
	t.Helper()

	db, err := storage.Open(context.Background(), storage.Config{
		Driver:         storage.DriverSQLite,
		DSN:            ":memory:",
		Timeout:        5 * time.Second,
		ConnectTimeout: time.Second,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return db
}

// NewPostgres connects to the PostgreSQL server described by the usual PG*
// environment variables. It skips the test if the connection cannot be established.
func NewPostgres(t testing.TB) *storage.DB {
	t.Helper()

	pgUser := getenv("PGUSER", "user")
	pgPassword := getenv("PGPASSWORD", "password")
	pgHost := getenv("PGHOST", "localhost")
	pgPort := getenv("PGPORT", "5432")
	pgDB := getenv("PGDATABASE", "testdb")

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		pgHost, pgPort, pgUser, pgPassword, pgDB)

	db, err := storage.Open(context.Background(), storage.Config{
		Driver:         storage.DriverPostgres,
		DSN:            connStr,
		Timeout:        5 * time.Second,
		ConnectTimeout: time.Second,
		MaxOpenConns:   32,
	}, zerolog.Nop())
	if err != nil {
		t.Skipf("skipping postgres tests: could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	if err := db.Truncate(context.Background()); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
	return db
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
