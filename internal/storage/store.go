// Package storage is the persistence layer (L4): schema migration,
// idempotent single-row upserts, batched multi-row inserts, and the
// filtered reads backing the read-API contracts. Every operation
// acquires a connection from a bounded pgxpool.Pool and releases it on
// return; errors are always wrapped with operation context, never
// swallowed.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/csic/platform/blockchain/indexer/internal/migrations"
)

// DefaultPoolSize is the bounded connection pool size (§4.4).
const DefaultPoolSize = 10

// Store is the persistence layer's handle on the database. It is cheap
// to pass by pointer to every service that needs durable storage; it
// owns no back-pointers to its callers.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open connects to databaseURL, bounds the pool to DefaultPoolSize, and
// applies the embedded migration set exactly once.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse database url: %w", err)
	}
	cfg.MaxConns = DefaultPoolSize

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: open pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}

	s := &Store{pool: pool, logger: logger}
	if err := s.migrate(databaseURL); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// migrate applies the embedded migration set exactly once, tolerating
// the already-at-latest-version case. It opens a short-lived database/sql
// connection (golang-migrate's pgx driver speaks database/sql, not
// pgxpool) separate from the runtime pool.
func (s *Store) migrate(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("storage: open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("storage: init migration driver: %w", err)
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("storage: load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx", driver)
	if err != nil {
		return fmt.Errorf("storage: init migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("storage: apply migrations: %w", err)
	}

	s.logger.Info("schema migrations applied")
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
