package mem

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cvemart/cvemart"
	"github.com/cvemart/cvemart/datastore"
)

var _ datastore.RecordTx = (*recordTx)(nil)

// recordTx holds the store lock for its lifetime. Rollback restores the
// snapshot taken at Begin, so a failed record leaves no trace.
type recordTx struct {
	store *Store
	snap  *state
	done  bool
}

func (tx *recordTx) Commit(_ context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.snap = nil
	tx.store.mu.Unlock()
	return nil
}

func (tx *recordTx) Rollback(_ context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.store.s = tx.snap
	tx.snap = nil
	tx.store.mu.Unlock()
	return nil
}

func (tx *recordTx) UpsertCve(_ context.Context, cve *cvemart.NormalizedCve) error {
	c := *cve
	tx.store.s.cves[cve.ID] = &c
	return nil
}

func (tx *recordTx) UpsertCvssMeasurements(_ context.Context, cveID string, ms []cvemart.CvssMeasurement) error {
	s := tx.store.s
	rows, ok := s.measurements[cveID]
	if !ok {
		rows = make(map[measKey]*cvemart.CvssMeasurement, len(ms))
		s.measurements[cveID] = rows
	}
	// Last-in-list wins before anything is stored.
	for i := range ms {
		m := ms[i]
		rows[measKey{m.VersionTag, m.Source}] = &m
	}
	return nil
}

func (tx *recordTx) UpsertVendorProduct(_ context.Context, ref cvemart.ProductRef) (int64, int64, error) {
	s := tx.store.s
	v, ok := s.vendors[ref.VendorKey]
	if !ok {
		s.nextVendorID++
		v = &cvemart.Vendor{
			ID:   s.nextVendorID,
			Name: ref.Vendor,
			Key:  ref.VendorKey,
		}
		s.vendors[ref.VendorKey] = v
	}
	pk := prodKey{v.ID, ref.ProductKey}
	p, ok := s.products[pk]
	if !ok {
		s.nextProductID++
		p = &cvemart.Product{
			ID:       s.nextProductID,
			VendorID: v.ID,
			Name:     ref.Product,
			Key:      ref.ProductKey,
		}
		s.products[pk] = p
		v.TotalProducts++
	}
	return v.ID, p.ID, nil
}

func (tx *recordTx) LinkCveProduct(_ context.Context, cveID string, productID int64) (bool, error) {
	const op = `datastore/mem/recordTx.LinkCveProduct`
	s := tx.store.s
	k := edgeKey{cveID, productID}
	if _, ok := s.edges[k]; ok {
		return false, nil
	}
	cve, ok := s.cves[cveID]
	if !ok {
		return false, &cvemart.Error{
			Op:      op,
			Kind:    cvemart.ErrInternal,
			Message: fmt.Sprintf("cve %q not upserted before linking", cveID),
		}
	}
	p := s.productByID(productID)
	if p == nil {
		return false, &cvemart.Error{
			Op:      op,
			Kind:    cvemart.ErrInternal,
			Message: fmt.Sprintf("unknown product id %d", productID),
		}
	}
	s.edges[k] = struct{}{}

	// Additive deltas; the full recomputation must agree.
	p.TotalCves++
	p.FirstCveDate = minDate(p.FirstCveDate, cve.Published)
	p.LastCveDate = maxDate(p.LastCveDate, cve.Published)
	if v := s.vendorByID(p.VendorID); v != nil {
		v.TotalCves++
		v.FirstCveDate = minDate(v.FirstCveDate, cve.Published)
		v.LastCveDate = maxDate(v.LastCveDate, cve.Published)
	}
	return true, nil
}

func (tx *recordTx) LinkedProducts(_ context.Context, cveID string) ([]datastore.ProductLink, error) {
	s := tx.store.s
	var out []datastore.ProductLink
	for e := range s.edges {
		if e.cveID != cveID {
			continue
		}
		p := s.productByID(e.productID)
		if p == nil {
			continue
		}
		out = append(out, datastore.ProductLink{VendorID: p.VendorID, ProductID: p.ID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (tx *recordTx) RecomputeAggregates(_ context.Context, vendorID, productID int64) error {
	s := tx.store.s
	if p := s.productByID(productID); p != nil {
		s.recomputeProduct(p)
	}
	if v := s.vendorByID(vendorID); v != nil {
		s.recomputeVendor(v)
	}
	return nil
}

func (s *state) vendorByID(id int64) *cvemart.Vendor {
	for _, v := range s.vendors {
		if v.ID == id {
			return v
		}
	}
	return nil
}

func (s *state) productByID(id int64) *cvemart.Product {
	for _, p := range s.products {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *state) recomputeProduct(p *cvemart.Product) {
	p.TotalCves = 0
	p.FirstCveDate, p.LastCveDate = nil, nil
	for e := range s.edges {
		if e.productID != p.ID {
			continue
		}
		p.TotalCves++
		if c, ok := s.cves[e.cveID]; ok {
			p.FirstCveDate = minDate(p.FirstCveDate, c.Published)
			p.LastCveDate = maxDate(p.LastCveDate, c.Published)
		}
	}
}

func (s *state) recomputeVendor(v *cvemart.Vendor) {
	v.TotalProducts, v.TotalCves = 0, 0
	v.FirstCveDate, v.LastCveDate = nil, nil
	for _, p := range s.products {
		if p.VendorID != v.ID {
			continue
		}
		v.TotalProducts++
		for e := range s.edges {
			if e.productID != p.ID {
				continue
			}
			v.TotalCves++
			if c, ok := s.cves[e.cveID]; ok {
				v.FirstCveDate = minDate(v.FirstCveDate, c.Published)
				v.LastCveDate = maxDate(v.LastCveDate, c.Published)
			}
		}
	}
}

func minDate(cur, next *time.Time) *time.Time {
	switch {
	case next == nil:
		return cur
	case cur == nil, next.Before(*cur):
		t := *next
		return &t
	}
	return cur
}

func maxDate(cur, next *time.Time) *time.Time {
	switch {
	case next == nil:
		return cur
	case cur == nil, next.After(*cur):
		t := *next
		return &t
	}
	return cur
}
