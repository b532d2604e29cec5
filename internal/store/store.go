// Package store is the typed gateway over the relational store. Every
// mutation runs in a transaction, writes an audit row before commit and
// emits a domain event after commit. Uniqueness and referential rules are
// backed by constraints and surfaced as typed errors.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
	"github.com/dnsweaver/dnsweaver/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is the subset of pgx both a pool and a transaction satisfy.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries bundles the raw SQL methods; New binds them to a pool or tx.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries { return &Queries{db: db} }

// Publisher receives the post-commit domain events. The event bus
// implements it; tests use a recorder.
type Publisher interface {
	Emit(model.Event)
}

// Store is the gateway handle.
type Store struct {
	pool   *pgxpool.Pool
	q      *Queries
	pub    Publisher
	logger *zap.Logger
}

func NewStore(pool *pgxpool.Pool, pub Publisher, logger *zap.Logger) *Store {
	return &Store{pool: pool, q: New(pool), pub: pub, logger: logger}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return apperr.Wrap(apperr.CodeStoreUnavailable, "applying schema", err)
	}
	s.logger.Info("store schema applied")
	return nil
}

// Queries exposes the read-side methods bound to the pool.
func (s *Store) Queries() *Queries { return s.q }

// withTx runs fn in a transaction, rolling back unless fn and the commit
// both succeed.
func (s *Store) withTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.CodeStoreUnavailable, "beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(New(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.CodeStoreUnavailable, "committing transaction", err)
	}
	return nil
}

// emit publishes a post-commit event when a publisher is wired.
func (s *Store) emit(e model.Event) {
	if s.pub != nil {
		s.pub.Emit(e)
	}
}

// mapPgError converts constraint violations to the stable taxonomy.
func mapPgError(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(entity, "")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return apperr.Conflict(pgErr.ConstraintName,
				fmt.Sprintf("%s violates unique constraint %s", entity, pgErr.ConstraintName))
		case "23503":
			return apperr.Referential(entity, pgErr.ConstraintName)
		}
	}
	return apperr.Wrap(apperr.CodeStoreUnavailable, fmt.Sprintf("%s query failed", entity), err)
}
