package mem

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/cvemart/cvemart"
	"github.com/cvemart/cvemart/datastore"
)

func mustUUID(t *testing.T) uuid.UUID {
	t.Helper()
	ref, err := uuid.NewRandom()
	if err != nil {
		t.Fatal(err)
	}
	return ref
}

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func score(f float64) *float64 { return &f }

func cveFixture(id string, published *time.Time) *cvemart.NormalizedCve {
	return &cvemart.NormalizedCve{
		ID:                id,
		Title:             "title of " + id,
		Published:         published,
		CanonicalVersion:  "CVSS 3.1",
		CanonicalScore:    score(7.5),
		CanonicalSeverity: cvemart.High,
	}
}

// materialize runs the five ops for one record in the documented order.
func materialize(t *testing.T, s *Store, cve *cvemart.NormalizedCve, ms []cvemart.CvssMeasurement, refs []cvemart.ProductRef) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback(ctx)
	if err := tx.UpsertCve(ctx, cve); err != nil {
		t.Fatal(err)
	}
	if err := tx.UpsertCvssMeasurements(ctx, cve.ID, ms); err != nil {
		t.Fatal(err)
	}
	for _, ref := range refs {
		_, pid, err := tx.UpsertVendorProduct(ctx, ref)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := tx.LinkCveProduct(ctx, cve.ID, pid); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
}

var acmeWidget = cvemart.ProductRef{
	Vendor: "Acme", VendorKey: "acme", Product: "Widget", ProductKey: "widget",
}

func TestIdempotentUpsert(t *testing.T) {
	ctx := context.Background()
	s := New()
	ms := []cvemart.CvssMeasurement{
		{VersionTag: "3.1", Source: "nvd@nist.gov", Score: 7.5, Severity: cvemart.High},
	}
	materialize(t, s, cveFixture("CVE-1", date("2024-01-02")), ms, []cvemart.ProductRef{acmeWidget})
	first, err := s.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Same content again: identical dimensional state, no aggregate drift.
	materialize(t, s, cveFixture("CVE-1", date("2024-01-02")), ms, []cvemart.ProductRef{acmeWidget})
	second, err := s.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(first, second) {
		t.Error(cmp.Diff(first, second))
	}
	vs := s.Vendors(ctx)
	if len(vs) != 1 || vs[0].TotalCves != 1 || vs[0].TotalProducts != 1 {
		t.Errorf("vendor aggregates drifted: %+v", vs)
	}
}

func TestUpdateNotDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()
	materialize(t, s, cveFixture("CVE-1", date("2024-01-02")), nil, nil)

	upd := cveFixture("CVE-1", date("2024-01-02"))
	upd.Title = "corrected title"
	upd.Category = "memory corruption"
	materialize(t, s, upd, nil, nil)

	c, err := s.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c.Cves != 1 {
		t.Errorf("got %d CVE rows, want 1", c.Cves)
	}
	got, err := s.GetCve(ctx, "CVE-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "corrected title" || got.Category != "memory corruption" {
		t.Errorf("row not updated in place: %+v", got)
	}
}

func TestMeasurementReplace(t *testing.T) {
	ctx := context.Background()
	s := New()
	materialize(t, s, cveFixture("CVE-1", nil), []cvemart.CvssMeasurement{
		{VersionTag: "3.1", Source: "a", Score: 5.0, Severity: cvemart.Medium},
	}, nil)
	// Same (version, source): replaced, not duplicated. Within one call,
	// the later list entry wins.
	materialize(t, s, cveFixture("CVE-1", nil), []cvemart.CvssMeasurement{
		{VersionTag: "3.1", Source: "a", Score: 6.0, Severity: cvemart.Medium},
		{VersionTag: "3.1", Source: "a", Score: 9.9, Severity: cvemart.Critical},
	}, nil)

	got := s.Measurements(ctx, "CVE-1")
	if len(got) != 1 {
		t.Fatalf("got %d measurements, want 1", len(got))
	}
	if got[0].Score != 9.9 {
		t.Errorf("got score %v, want last-write 9.9", got[0].Score)
	}
}

func TestLinkIdempotence(t *testing.T) {
	ctx := context.Background()
	s := New()
	materialize(t, s, cveFixture("CVE-X", date("2024-02-01")), nil, []cvemart.ProductRef{acmeWidget})
	materialize(t, s, cveFixture("CVE-X", date("2024-02-01")), nil, []cvemart.ProductRef{acmeWidget})

	c, err := s.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c.Edges != 1 {
		t.Errorf("got %d bridge rows, want exactly 1", c.Edges)
	}
	ps := s.Products(ctx)
	if len(ps) != 1 || ps[0].TotalCves != 1 {
		t.Errorf("product aggregates: %+v", ps)
	}
}

func TestAggregateEquivalence(t *testing.T) {
	// After an arbitrary sequence of upserts, the incremental aggregates
	// must equal a full recomputation for every vendor and product.
	ctx := context.Background()
	s := New()
	refs := []cvemart.ProductRef{
		acmeWidget,
		{Vendor: "Acme", VendorKey: "acme", Product: "Gadget", ProductKey: "gadget"},
		{Vendor: "Umbrella", VendorKey: "umbrella", Product: "Core", ProductKey: "core"},
	}
	materialize(t, s, cveFixture("CVE-1", date("2024-01-10")), nil, refs[:2])
	materialize(t, s, cveFixture("CVE-2", date("2023-06-01")), nil, refs[1:])
	materialize(t, s, cveFixture("CVE-3", nil), nil, refs)
	// Repeats must not drift anything.
	materialize(t, s, cveFixture("CVE-2", date("2023-06-01")), nil, refs[1:])

	incVendors, incProducts := s.Vendors(ctx), s.Products(ctx)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range incProducts {
		if err := tx.RecomputeAggregates(ctx, p.VendorID, p.ID); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	if got := s.Vendors(ctx); !cmp.Equal(got, incVendors) {
		t.Error(cmp.Diff(got, incVendors))
	}
	if got := s.Products(ctx); !cmp.Equal(got, incProducts) {
		t.Error(cmp.Diff(got, incProducts))
	}
}

func TestRollbackLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := New()
	materialize(t, s, cveFixture("CVE-1", date("2024-01-02")), nil, []cvemart.ProductRef{acmeWidget})
	before, err := s.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.UpsertCve(ctx, cveFixture("CVE-2", nil)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := tx.UpsertVendorProduct(ctx, cvemart.ProductRef{
		Vendor: "Ghost", VendorKey: "ghost", Product: "Shell", ProductKey: "shell",
	}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}

	after, err := s.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(before, after) {
		t.Error(cmp.Diff(before, after))
	}
}

func TestLoadBookkeeping(t *testing.T) {
	ctx := context.Background()
	s := New()
	ref := mustUUID(t)
	if err := s.RecordLoadStarted(ctx, ref, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordLoadFinished(ctx, ref, datastore.LoadStats{
		Attempted: 3, Succeeded: 3, Status: "SUCCESS",
	}); err != nil {
		t.Fatal(err)
	}
	total, finished := s.LoadOperations(ctx)
	if total != 1 || finished != 1 {
		t.Errorf("got %d/%d load operations, want 1/1", total, finished)
	}
}
