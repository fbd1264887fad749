package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/cvemart/cvemart"
	"github.com/cvemart/cvemart/datastore"
)

// CveExists implements [datastore.Reader].
func (s *MartStore) CveExists(ctx context.Context, id string) (bool, error) {
	var err error
	cveExists := newQuery(ctx, "mart", "cve_exists")
	defer cveExists.Start(&err)()
	var ok bool
	err = s.pool.QueryRow(ctx, cveExists.SQL, id).Scan(&ok)
	if err != nil {
		return false, wrapErr(`datastore/postgres/MartStore.CveExists`, "existence check failed", err)
	}
	return ok, nil
}

// GetCve implements [datastore.Reader]. A missing identifier reports nil
// without error.
func (s *MartStore) GetCve(ctx context.Context, id string) (*cvemart.NormalizedCve, error) {
	var err error
	selectCve := newQuery(ctx, "mart", "select_cve")
	defer selectCve.Start(&err)()
	var (
		c        cvemart.NormalizedCve
		severity string
	)
	err = s.pool.QueryRow(ctx, selectCve.SQL, id).Scan(
		&c.ID,
		&c.Title,
		&c.Description,
		&c.Category,
		&c.Published,
		&c.Modified,
		&c.RemoteExploit,
		&c.PrimarySource,
		&c.CanonicalVersion,
		&c.CanonicalScore,
		&severity,
		&c.URL,
		&c.CapturedAt,
	)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, pgx.ErrNoRows):
		err = nil
		return nil, nil
	default:
		return nil, wrapErr(`datastore/postgres/MartStore.GetCve`, "failed to select cve", err)
	}
	if sev, ok := cvemart.ParseSeverity(severity); ok {
		c.CanonicalSeverity = sev
	}
	return &c, nil
}

// Counts implements [datastore.Reader].
func (s *MartStore) Counts(ctx context.Context) (datastore.Counts, error) {
	var err error
	counts := newQuery(ctx, "mart", "counts")
	defer counts.Start(&err)()
	var c datastore.Counts
	err = s.pool.QueryRow(ctx, counts.SQL).Scan(
		&c.Cves,
		&c.Measurements,
		&c.Vendors,
		&c.Products,
		&c.Edges,
	)
	if err != nil {
		return datastore.Counts{}, wrapErr(`datastore/postgres/MartStore.Counts`, "census failed", err)
	}
	return c, nil
}
