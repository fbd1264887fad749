// Package postgres implements the dimensional store against PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/remind101/migrate"

	"github.com/cvemart/cvemart"
	"github.com/cvemart/cvemart/datastore"
	"github.com/cvemart/cvemart/datastore/postgres/migrations"
)

var _ datastore.Store = (*MartStore)(nil)

// InitPostgresMartStore initializes a datastore.Store given the pgxpool.Pool.
func InitPostgresMartStore(_ context.Context, pool *pgxpool.Pool, doMigration bool) (datastore.Store, error) {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	// do migrations if requested
	if doMigration {
		migrator := migrate.NewPostgresMigrator(db)
		migrator.Table = migrations.MartMigrationTable
		err := migrator.Exec(migrate.Up, migrations.MartMigrations...)
		if err != nil {
			return nil, fmt.Errorf("failed to perform migrations: %w", err)
		}
	}

	store := NewMartStore(pool)
	return store, nil
}

// MartStore implements all interfaces in the datastore package.
//
// The write surface lives on the per-record transaction returned by Begin;
// everything else reads through the pool directly.
type MartStore struct {
	pool *pgxpool.Pool
}

func NewMartStore(pool *pgxpool.Pool) *MartStore {
	return &MartStore{
		pool: pool,
	}
}

func (s *MartStore) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}

// Begin implements [datastore.Materializer].
func (s *MartStore) Begin(ctx context.Context) (datastore.RecordTx, error) {
	const op = `datastore/postgres/MartStore.Begin`
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrapErr(op, "failed to open transaction", err)
	}
	return &recordTx{tx: tx}, nil
}

// wrapErr classifies a database error so callers can make retry decisions
// without knowing pgx.
func wrapErr(op, msg string, err error) error {
	if err == nil {
		return nil
	}
	kind := cvemart.ErrInternal
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err):
		kind = cvemart.ErrTimeout
	case errors.As(err, &pgErr):
		switch {
		case pgErr.Code == "23505":
			kind = cvemart.ErrConflict
		case strings.HasPrefix(pgErr.Code, "08"), // connection exceptions
			pgErr.Code == "40001", // serialization failure
			pgErr.Code == "40P01", // deadlock detected
			pgErr.Code == "57P01": // admin shutdown
			kind = cvemart.ErrTransient
		}
	}
	return &cvemart.Error{
		Op:      op,
		Kind:    kind,
		Message: msg,
		Inner:   err,
	}
}
