// Package storage owns the connection to the store of record. Every component
// reaches the database through a DB so that a transaction opened by InTx is
// picked up from the context by whichever store runs inside it.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	_ "github.com/jackc/pgx/v5/stdlib"                  // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" driver
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"
	DriverSQLite   = "sqlite"

	defaultTimeout = 5 * time.Second
)

var (
	ErrUnknownDriver = errors.New("unknown database driver")
	ErrEmptyDSN      = errors.New("database dsn must not be empty")
)

// Config describes how to reach the store of record.
type Config struct {
	Driver         string
	DSN            string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	MaxOpenConns   int
}

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type Querier interface {
	sqlx.ExtContext
}

// Statement is any goqu dataset that renders to SQL.
type Statement interface {
	ToSQL() (string, []interface{}, error)
}

// DB wraps the pooled connection with its SQL dialect and the per-call timeout.
type DB struct {
	x       *sqlx.DB
	dialect goqu.DialectWrapper
	driver  string
	timeout time.Duration
	tracer  trace.Tracer
	logger  zerolog.Logger
}

type txKey struct{}

// Open connects to the configured database, retrying with exponential backoff
// until ConnectTimeout elapses.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	if cfg.DSN == "" {
		return nil, ErrEmptyDSN
	}

	var dialect string
	switch cfg.Driver {
	case DriverPostgres, DriverPGX:
		dialect = "postgres"
	case DriverSQLite:
		dialect = "sqlite3"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}

	x, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// One connection: an in-memory database lives and dies with its
		// connection, and SQLite allows a single writer anyway.
		x.SetMaxOpenConns(1)
		x.SetConnMaxLifetime(0)
		x.SetConnMaxIdleTime(0)
	} else if cfg.MaxOpenConns > 0 {
		x.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := x.PingContext(pingCtx); err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Str("driver", cfg.Driver).Msg("database not reachable yet")
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(connectTimeout),
	)
	if err != nil {
		x.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	logger.Info().Str("driver", cfg.Driver).Int("attempts", attempt).Msg("database connected")

	return &DB{
		x:       x,
		dialect: goqu.Dialect(dialect),
		driver:  cfg.Driver,
		timeout: timeout,
		tracer:  otel.Tracer("libris/storage"),
		logger:  logger,
	}, nil
}

// Close releases the pool.
func (db *DB) Close() error {
	return db.x.Close()
}

// Driver returns the configured driver name.
func (db *DB) Driver() string { return db.driver }

// Builder returns the goqu dialect matching the driver.
func (db *DB) Builder() goqu.DialectWrapper { return db.dialect }

// Ping checks the store is reachable within the configured timeout.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()
	if err := db.x.PingContext(ctx); err != nil {
		return Classify("ping", err)
	}
	return nil
}

// WithTimeout bounds a storage call.
func (db *DB) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, db.timeout)
}

// Conn returns the transaction carried by ctx, or the pool.
func (db *DB) Conn(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db.x
}

// InTx runs fn inside a single transaction. Stores called with the context
// handed to fn join the transaction. Any error returned by fn rolls everything
// back; a nested InTx joins the outer transaction.
func (db *DB) InTx(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	ctx, span := db.tracer.Start(ctx, "storage.tx",
		trace.WithAttributes(attribute.String("tx.name", name)),
	)
	defer span.End()

	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	tx, err := db.x.BeginTxx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return Classify("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		span.SetAttributes(attribute.Bool("tx.rolled_back", true))
		return err
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return Classify("commit transaction", err)
	}

	span.SetAttributes(attribute.Bool("tx.committed", true))
	return nil
}

// Get renders stmt and scans exactly one row into dest. A missing row is
// returned as sql.ErrNoRows so callers can map it to their own not-found error.
func (db *DB) Get(ctx context.Context, op string, dest any, stmt Statement) error {
	query, args, err := stmt.ToSQL()
	if err != nil {
		return fmt.Errorf("%s: build query: %w", op, err)
	}

	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	err = sqlx.GetContext(ctx, db.Conn(ctx), dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.ErrNoRows
	}
	if err != nil {
		db.logger.Debug().Err(err).Str("query", query).Msg(op)
		return Classify(op, err)
	}
	return nil
}

// Select renders stmt and scans all rows into dest, which must be a pointer to a slice.
func (db *DB) Select(ctx context.Context, op string, dest any, stmt Statement) error {
	query, args, err := stmt.ToSQL()
	if err != nil {
		return fmt.Errorf("%s: build query: %w", op, err)
	}

	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	if err := sqlx.SelectContext(ctx, db.Conn(ctx), dest, query, args...); err != nil {
		db.logger.Debug().Err(err).Str("query", query).Msg(op)
		return Classify(op, err)
	}
	return nil
}

// Exec renders stmt, executes it and reports the number of affected rows.
func (db *DB) Exec(ctx context.Context, op string, stmt Statement) (int64, error) {
	query, args, err := stmt.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("%s: build query: %w", op, err)
	}

	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	res, err := db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		db.logger.Debug().Err(err).Str("query", query).Msg(op)
		return 0, Classify(op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, Classify(op, err)
	}
	return n, nil
}
