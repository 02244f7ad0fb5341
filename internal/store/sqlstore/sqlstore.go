// Package sqlstore implements store.Store on database/sql.
//
// Supported drivers are DuckDB (default), SQLite (pure Go) and PostgreSQL
// (pgx). The schema is bootstrapped with idempotent CREATE ... IF NOT EXISTS
// statements; there are no migrations.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/xtxerr/infoset/config"
	"github.com/xtxerr/infoset/internal/logging"
	"github.com/xtxerr/infoset/internal/store"
)

var log = logging.Component("store")

// =============================================================================
// Store Configuration
// =============================================================================

// Config holds store configuration options.
type Config struct {
	// Driver is one of duckdb, sqlite, postgres.
	Driver string

	// DSN is the database connection string.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration

	// QueryTimeout bounds every store operation. Zero disables it.
	QueryTimeout time.Duration

	// MaxRowsPerInsert limits the rows of one multi-row INSERT.
	MaxRowsPerInsert int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Driver:           config.DefaultStoreDriver,
		DSN:              config.DefaultStoreDSN,
		MaxOpenConns:     config.DefaultStoreMaxOpenConns,
		MaxIdleConns:     config.DefaultStoreMaxIdleConns,
		ConnMaxLifetime:  config.DefaultStoreConnMaxLifetime,
		QueryTimeout:     config.DefaultStoreQueryTimeout,
		MaxRowsPerInsert: config.DefaultMaxRowsPerInsert,
	}
}

// =============================================================================
// Store
// =============================================================================

// Store is a database/sql backed store.Store.
//
// Store is safe for concurrent use.
type Store struct {
	db      *sql.DB
	dialect *dialect
	config  Config
	mu      sync.RWMutex
	closed  bool
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Reader = (*Store)(nil)
)

// Open connects to the configured database and bootstraps the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s, err := New(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := s.Bootstrap(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("store opened", "driver", d.name)
	return s, nil
}

// New wraps an open database handle. It does not touch the schema.
func New(db *sql.DB, cfg Config) (*Store, error) {
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	if cfg.MaxRowsPerInsert <= 0 {
		cfg.MaxRowsPerInsert = config.DefaultMaxRowsPerInsert
	}

	if d.singleWriter {
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &Store{
		db:      db,
		dialect: d,
		config:  cfg,
	}, nil
}

// Bootstrap creates missing tables.
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

// Health checks database connectivity.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// Transaction Support
// =============================================================================

// TransactionContext executes a function within a database transaction.
//
// If the function returns an error, the transaction is rolled back.
// If the function returns nil, the transaction is committed.
func (s *Store) TransactionContext(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// begin checks the store is open and applies the query timeout.
func (s *Store) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return nil, nil, store.ErrClosed
	}

	if s.config.QueryTimeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
		return ctx, cancel, nil
	}
	return ctx, func() {}, nil
}

func (s *Store) q(query string) string {
	return s.dialect.rebind(query)
}
