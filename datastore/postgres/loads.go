package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cvemart/cvemart/datastore"
)

// RecordLoadStarted implements [datastore.Loads].
func (s *MartStore) RecordLoadStarted(ctx context.Context, ref uuid.UUID, startedAt time.Time) error {
	var err error
	insertLoad := newQuery(ctx, "mart", "insert_load_started")
	defer insertLoad.Start(&err)()
	_, err = s.pool.Exec(ctx, insertLoad.SQL, ref, startedAt)
	if err != nil {
		return wrapErr(`datastore/postgres/MartStore.RecordLoadStarted`, "failed to record load start", err)
	}
	return nil
}

// RecordLoadFinished implements [datastore.Loads].
func (s *MartStore) RecordLoadFinished(ctx context.Context, ref uuid.UUID, stats datastore.LoadStats) error {
	var err error
	updateLoad := newQuery(ctx, "mart", "update_load_finished")
	defer updateLoad.Start(&err)()
	_, err = s.pool.Exec(ctx, updateLoad.SQL,
		ref,
		stats.Attempted,
		stats.Succeeded,
		stats.Failed,
		stats.Skipped,
		stats.Flagged,
		stats.Status,
	)
	if err != nil {
		return wrapErr(`datastore/postgres/MartStore.RecordLoadFinished`, "failed to record load result", err)
	}
	return nil
}
