package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/quay/zlog"

	"github.com/cvemart/cvemart"
	"github.com/cvemart/cvemart/pkg/poolstats"
)

// Connect initializes a [pgxpool.Pool] based on the connection string.
func Connect(ctx context.Context, connString string, applicationName string) (*pgxpool.Pool, error) {
	const op = `datastore/postgres/Connect`
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, &cvemart.Error{
			Op:      op,
			Kind:    cvemart.ErrInternal,
			Message: "failed to parse connection string",
			Inner:   err,
		}
	}
	const appnameKey = `application_name`
	params := cfg.ConnConfig.RuntimeParams
	if _, ok := params[appnameKey]; !ok {
		params[appnameKey] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &cvemart.Error{
			Op:      op,
			Kind:    cvemart.ErrTransient,
			Message: "failed to create connection pool",
			Inner:   err,
		}
	}

	if err := prometheus.Register(poolstats.NewCollector(pool, applicationName)); err != nil {
		zlog.Info(ctx).Msg("pool metrics already registered")
	}

	return pool, nil
}
