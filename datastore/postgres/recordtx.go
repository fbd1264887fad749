package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cvemart/cvemart"
	"github.com/cvemart/cvemart/cvss"
	"github.com/cvemart/cvemart/datastore"
	"github.com/cvemart/cvemart/internal/microbatch"
)

var _ datastore.RecordTx = (*recordTx)(nil)

// recordTx wraps one pgx transaction; it is the envelope for one CVE's
// materialization.
type recordTx struct {
	tx pgx.Tx
}

func (t *recordTx) Commit(ctx context.Context) error {
	const op = `datastore/postgres/recordTx.Commit`
	if err := t.tx.Commit(ctx); err != nil {
		return wrapErr(op, "failed to commit", err)
	}
	return nil
}

func (t *recordTx) Rollback(ctx context.Context) error {
	// Rollback after Commit reports ErrTxClosed; that is the no-op path.
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return wrapErr(`datastore/postgres/recordTx.Rollback`, "failed to roll back", err)
	}
	return nil
}

// UpsertCve implements [datastore.RecordTx].
func (t *recordTx) UpsertCve(ctx context.Context, cve *cvemart.NormalizedCve) error {
	var err error
	upsertCve := newQuery(ctx, "mart", "upsert_cve")
	defer upsertCve.Start(&err)()
	_, err = t.tx.Exec(ctx, upsertCve.SQL,
		cve.ID,
		cve.Title,
		cve.Description,
		cve.Category,
		cve.Published,
		cve.Modified,
		cve.RemoteExploit,
		cve.PrimarySource,
		cve.CanonicalVersion,
		cve.CanonicalScore,
		cve.CanonicalSeverity.String(),
		cve.URL,
		cve.CapturedAt,
	)
	if err != nil {
		return wrapErr(`datastore/postgres/recordTx.UpsertCve`, "failed to upsert cve", err)
	}
	return nil
}

// UpsertCvssMeasurements implements [datastore.RecordTx].
//
// Measurements are routed to the per-version fact table matching their tag;
// unrecognized tags land in fact_cvss_other. Writes go through the batcher,
// one statement per row, all inside the record's transaction.
func (t *recordTx) UpsertCvssMeasurements(ctx context.Context, cveID string, ms []cvemart.CvssMeasurement) error {
	const op = `datastore/postgres/recordTx.UpsertCvssMeasurements`
	type key struct{ tag, source string }
	// Last-in-list wins before anything reaches the database.
	dedup := make(map[key]int, len(ms))
	order := make([]key, 0, len(ms))
	for i := range ms {
		k := key{ms[i].VersionTag, ms[i].Source}
		if _, ok := dedup[k]; !ok {
			order = append(order, k)
		}
		dedup[k] = i
	}

	sources, err := t.internSources(ctx, ms)
	if err != nil {
		return err
	}

	upserts := map[cvss.Version]query{
		cvss.V20:      newQuery(ctx, "mart", "upsert_fact_v2"),
		cvss.V30:      newQuery(ctx, "mart", "upsert_fact_v3"),
		cvss.V31:      newQuery(ctx, "mart", "upsert_fact_v3"),
		cvss.V40:      newQuery(ctx, "mart", "upsert_fact_v4"),
		cvss.VUnknown: newQuery(ctx, "mart", "upsert_fact_other"),
	}
	mBatcher := microbatch.NewInsert(t.tx, 500, time.Minute)
	for _, k := range order {
		m := &ms[dedup[k]]
		q := upserts[cvss.ParseVersion(m.VersionTag)]
		if err := mBatcher.Queue(ctx, q.SQL, factArgs(cveID, sources[m.Source], m)...); err != nil {
			return wrapErr(op, "batch queue failed", err)
		}
	}
	if err := mBatcher.Done(ctx); err != nil {
		return wrapErr(op, "final batch insert failed", err)
	}
	return nil
}

// internSources resolves each distinct source name to its surrogate id,
// creating rows as needed.
func (t *recordTx) internSources(ctx context.Context, ms []cvemart.CvssMeasurement) (map[string]int64, error) {
	var err error
	upsertSource := newQuery(ctx, "mart", "upsert_source")
	ids := make(map[string]int64, len(ms))
	for i := range ms {
		name := ms[i].Source
		if _, ok := ids[name]; ok {
			continue
		}
		end := upsertSource.Start(&err)
		var id int64
		err = t.tx.QueryRow(ctx, upsertSource.SQL, name).Scan(&id)
		end()
		if err != nil {
			return nil, wrapErr(`datastore/postgres/recordTx.internSources`, "failed to intern source", err)
		}
		ids[name] = id
	}
	return ids, nil
}

// factArgs builds the argument list for the fact table matching the
// measurement's version tag.
func factArgs(cveID string, sourceID int64, m *cvemart.CvssMeasurement) []interface{} {
	base := []interface{}{
		cveID, sourceID, m.VersionTag, m.Score, m.Severity.String(), m.Vector,
		m.ExploitabilityScore, m.ImpactScore, m.Malformed,
	}
	pick := func(code string) *string {
		if v, ok := m.Metrics[code]; ok {
			return &v
		}
		return nil
	}
	switch cvss.ParseVersion(m.VersionTag) {
	case cvss.V20:
		base = append(base,
			pick("AV"), pick("AC"), pick("Au"),
			pick("C"), pick("I"), pick("A"),
		)
	case cvss.V30, cvss.V31:
		base = append(base,
			pick("AV"), pick("AC"), pick("PR"),
			pick("UI"), pick("S"),
			pick("C"), pick("I"), pick("A"),
		)
	case cvss.V40:
		base = append(base,
			pick("AV"), pick("AC"), pick("AT"),
			pick("PR"), pick("UI"),
			pick("VC"), pick("VI"), pick("VA"),
			pick("SC"), pick("SI"), pick("SA"),
		)
	}
	metrics := m.Metrics
	if metrics == nil {
		metrics = map[string]string{}
	}
	return append(base, metrics)
}

// UpsertVendorProduct implements [datastore.RecordTx].
func (t *recordTx) UpsertVendorProduct(ctx context.Context, ref cvemart.ProductRef) (int64, int64, error) {
	const op = `datastore/postgres/recordTx.UpsertVendorProduct`
	var err error
	var vendorID, productID int64

	upsertVendor := newQuery(ctx, "mart", "upsert_vendor")
	end := upsertVendor.Start(&err)
	err = t.tx.QueryRow(ctx, upsertVendor.SQL, ref.Vendor, ref.VendorKey).Scan(&vendorID)
	end()
	if err != nil {
		return 0, 0, wrapErr(op, "failed to upsert vendor", err)
	}

	upsertProduct := newQuery(ctx, "mart", "upsert_product")
	end = upsertProduct.Start(&err)
	err = t.tx.QueryRow(ctx, upsertProduct.SQL, vendorID, ref.Product, ref.ProductKey).Scan(&productID)
	end()
	if err != nil {
		return 0, 0, wrapErr(op, "failed to upsert product", err)
	}

	syncCount := newQuery(ctx, "mart", "sync_vendor_product_count")
	end = syncCount.Start(&err)
	_, err = t.tx.Exec(ctx, syncCount.SQL, vendorID)
	end()
	if err != nil {
		return 0, 0, wrapErr(op, "failed to sync vendor product count", err)
	}
	return vendorID, productID, nil
}

// LinkCveProduct implements [datastore.RecordTx].
func (t *recordTx) LinkCveProduct(ctx context.Context, cveID string, productID int64) (bool, error) {
	const op = `datastore/postgres/recordTx.LinkCveProduct`
	var err error
	insertBridge := newQuery(ctx, "mart", "insert_bridge")
	end := insertBridge.Start(&err)
	tag, err := t.tx.Exec(ctx, insertBridge.SQL, cveID, productID)
	end()
	if err != nil {
		return false, wrapErr(op, "failed to insert bridge row", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	for _, name := range []string{"bump_product_aggregates", "bump_vendor_aggregates"} {
		bump := newQuery(ctx, "mart", name)
		end := bump.Start(&err)
		_, err = t.tx.Exec(ctx, bump.SQL, cveID, productID)
		end()
		if err != nil {
			return false, wrapErr(op, "failed to apply aggregate delta", err)
		}
	}
	return true, nil
}

// LinkedProducts implements [datastore.RecordTx].
func (t *recordTx) LinkedProducts(ctx context.Context, cveID string) ([]datastore.ProductLink, error) {
	const op = `datastore/postgres/recordTx.LinkedProducts`
	var err error
	selectPairs := newQuery(ctx, "mart", "select_linked_pairs")
	end := selectPairs.Start(&err)
	defer end()
	rows, err := t.tx.Query(ctx, selectPairs.SQL, cveID)
	if err != nil {
		return nil, wrapErr(op, "failed to query bridged products", err)
	}
	defer rows.Close()
	var out []datastore.ProductLink
	for rows.Next() {
		var l datastore.ProductLink
		if err = rows.Scan(&l.VendorID, &l.ProductID); err != nil {
			return nil, wrapErr(op, "failed to scan bridged product", err)
		}
		out = append(out, l)
	}
	if err = rows.Err(); err != nil {
		return nil, wrapErr(op, "failed to read bridged products", err)
	}
	return out, nil
}

// RecomputeAggregates implements [datastore.RecordTx].
func (t *recordTx) RecomputeAggregates(ctx context.Context, vendorID, productID int64) error {
	const op = `datastore/postgres/recordTx.RecomputeAggregates`
	var err error

	recomputeProduct := newQuery(ctx, "mart", "recompute_product")
	end := recomputeProduct.Start(&err)
	_, err = t.tx.Exec(ctx, recomputeProduct.SQL, productID)
	end()
	if err != nil {
		return wrapErr(op, "failed to recompute product aggregates", err)
	}

	recomputeVendor := newQuery(ctx, "mart", "recompute_vendor")
	end = recomputeVendor.Start(&err)
	_, err = t.tx.Exec(ctx, recomputeVendor.SQL, vendorID)
	end()
	if err != nil {
		return wrapErr(op, "failed to recompute vendor aggregates", err)
	}
	return nil
}
