// Package datastore defines the write and read surfaces of the dimensional
// store.
//
// The materializer's five operations, exposed on a per-record transaction,
// are the entire write surface: no other component writes to the dimensional
// model. The transactional boundary is one CVE; a record either lands
// completely or not at all, and a failed record is retryable from scratch.
package datastore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cvemart/cvemart"
)

// Store is the full surface a load controller needs.
type Store interface {
	Materializer
	Reader
	Loads
}

// Materializer hands out per-record transactions.
type Materializer interface {
	// Begin opens the transactional envelope for one CVE's
	// materialization.
	Begin(ctx context.Context) (RecordTx, error)
}

// RecordTx is the write surface of the dimensional store, scoped to one
// CVE's materialization.
//
// Nothing written through a RecordTx is visible to readers until Commit
// returns nil. Rollback is always safe to call; after Commit it is a no-op.
type RecordTx interface {
	// UpsertCve inserts the CVE row or, if the identifier is already
	// present, overwrites all mutable fields in place. Feed corrections
	// are expected; the identifier itself never changes.
	UpsertCve(ctx context.Context, cve *cvemart.NormalizedCve) error

	// UpsertCvssMeasurements insert-or-replaces one row per
	// (version, source) pair. Duplicate pairs within ms are resolved
	// last-in-list-wins before anything reaches storage.
	UpsertCvssMeasurements(ctx context.Context, cveID string, ms []cvemart.CvssMeasurement) error

	// UpsertVendorProduct is an idempotent get-or-create on the vendor
	// and product dimension keys, returning stable surrogate ids.
	UpsertVendorProduct(ctx context.Context, ref cvemart.ProductRef) (vendorID, productID int64, err error)

	// LinkCveProduct creates the bridge edge if it does not exist and
	// reports whether it did. Re-linking an existing pair is a no-op.
	// Creating an edge applies the additive aggregate deltas (counts,
	// first/last seen) to the owning vendor and product rows.
	LinkCveProduct(ctx context.Context, cveID string, productID int64) (created bool, err error)

	// LinkedProducts reports every (vendor, product) pair currently
	// bridged to the CVE, within this transaction's view. Corrections
	// use it to find the rows whose aggregates need rebuilding,
	// including products the incoming record no longer names.
	LinkedProducts(ctx context.Context, cveID string) ([]ProductLink, error)

	// RecomputeAggregates rebuilds the vendor's and product's rolling
	// aggregates from the bridge and the CVE dimension. It is the
	// authoritative path, used when a non-additive change (a feed
	// correction to an already-linked CVE) may have invalidated the
	// incremental deltas, and as a periodic correctness check. The
	// incremental path must agree with it.
	RecomputeAggregates(ctx context.Context, vendorID, productID int64) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Reader is the minimal read surface the load controller and tests need.
// BI consumers read the star schema directly, joining on the documented
// keys.
type Reader interface {
	CveExists(ctx context.Context, id string) (bool, error)
	// GetCve reports nil without error when the identifier is absent.
	GetCve(ctx context.Context, id string) (*cvemart.NormalizedCve, error)
	Counts(ctx context.Context) (Counts, error)
}

// ProductLink is one bridge edge's owning dimension pair.
type ProductLink struct {
	VendorID  int64
	ProductID int64
}

// Counts is a row census across the star schema.
type Counts struct {
	Cves         int64
	Measurements int64
	Vendors      int64
	Products     int64
	Edges        int64
}

// Loads is the load-operation bookkeeping surface.
type Loads interface {
	RecordLoadStarted(ctx context.Context, ref uuid.UUID, startedAt time.Time) error
	RecordLoadFinished(ctx context.Context, ref uuid.UUID, stats LoadStats) error
}

// LoadStats is the per-invocation tally recorded with a load operation.
type LoadStats struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
	Flagged   int
	Status    string
}
