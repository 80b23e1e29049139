// Package storage is the authoritative relational record of boards, lists and
// tasks. All structural changes to positions go through its transactional
// mutation methods; no other component writes positions directly.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// Store provides transactional access to the board model.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// New wraps an open database handle.
func New(db *sql.DB, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return orderingConflict(err)
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
