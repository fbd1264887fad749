// Package mem implements the dimensional store in memory.
//
// The store exists for unit tests and offline loads: it honors the same
// write-surface contract as the postgres implementation, including the
// one-CVE transactional boundary, without needing a database. It is a
// single-writer structure; a RecordTx holds the store lock from Begin until
// Commit or Rollback.
package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cvemart/cvemart"
	"github.com/cvemart/cvemart/datastore"
)

var _ datastore.Store = (*Store)(nil)

// New constructs an empty Store.
func New() *Store {
	return &Store{s: newState()}
}

// Store buffers the star schema in maps.
type Store struct {
	mu sync.Mutex
	s  *state
}

type measKey struct{ tag, source string }
type prodKey struct {
	vendorID int64
	key      string
}
type edgeKey struct {
	cveID     string
	productID int64
}

type loadRow struct {
	started  time.Time
	finished time.Time
	stats    datastore.LoadStats
	done     bool
}

type state struct {
	cves         map[string]*cvemart.NormalizedCve
	measurements map[string]map[measKey]*cvemart.CvssMeasurement
	vendors      map[string]*cvemart.Vendor
	products     map[prodKey]*cvemart.Product
	edges        map[edgeKey]struct{}
	loads        map[uuid.UUID]*loadRow

	nextVendorID  int64
	nextProductID int64
}

func newState() *state {
	return &state{
		cves:         make(map[string]*cvemart.NormalizedCve),
		measurements: make(map[string]map[measKey]*cvemart.CvssMeasurement),
		vendors:      make(map[string]*cvemart.Vendor),
		products:     make(map[prodKey]*cvemart.Product),
		edges:        make(map[edgeKey]struct{}),
		loads:        make(map[uuid.UUID]*loadRow),
	}
}

// clone deep-copies the state; the Begin/Rollback snapshot.
func (s *state) clone() *state {
	n := newState()
	n.nextVendorID, n.nextProductID = s.nextVendorID, s.nextProductID
	for k, v := range s.cves {
		c := *v
		n.cves[k] = &c
	}
	for k, mm := range s.measurements {
		inner := make(map[measKey]*cvemart.CvssMeasurement, len(mm))
		for mk, m := range mm {
			c := *m
			inner[mk] = &c
		}
		n.measurements[k] = inner
	}
	for k, v := range s.vendors {
		c := *v
		n.vendors[k] = &c
	}
	for k, v := range s.products {
		c := *v
		n.products[k] = &c
	}
	for k := range s.edges {
		n.edges[k] = struct{}{}
	}
	for k, v := range s.loads {
		c := *v
		n.loads[k] = &c
	}
	return n
}

// Begin implements [datastore.Materializer].
func (s *Store) Begin(_ context.Context) (datastore.RecordTx, error) {
	s.mu.Lock()
	return &recordTx{store: s, snap: s.s.clone()}, nil
}

// CveExists implements [datastore.Reader].
func (s *Store) CveExists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.s.cves[id]
	return ok, nil
}

// GetCve implements [datastore.Reader].
func (s *Store) GetCve(_ context.Context, id string) (*cvemart.NormalizedCve, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.s.cves[id]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

// Counts implements [datastore.Reader].
func (s *Store) Counts(_ context.Context) (datastore.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, mm := range s.s.measurements {
		n += int64(len(mm))
	}
	return datastore.Counts{
		Cves:         int64(len(s.s.cves)),
		Measurements: n,
		Vendors:      int64(len(s.s.vendors)),
		Products:     int64(len(s.s.products)),
		Edges:        int64(len(s.s.edges)),
	}, nil
}

// Vendors reports all vendor rows, ordered by surrogate id.
func (s *Store) Vendors(_ context.Context) []cvemart.Vendor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cvemart.Vendor, 0, len(s.s.vendors))
	for _, v := range s.s.vendors {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Products reports all product rows, ordered by surrogate id.
func (s *Store) Products(_ context.Context) []cvemart.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cvemart.Product, 0, len(s.s.products))
	for _, p := range s.s.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Measurements reports the stored measurements for one CVE, ordered by
// (version, source) for stable comparison.
func (s *Store) Measurements(_ context.Context, cveID string) []cvemart.CvssMeasurement {
	s.mu.Lock()
	defer s.mu.Unlock()
	mm := s.s.measurements[cveID]
	out := make([]cvemart.CvssMeasurement, 0, len(mm))
	for _, m := range mm {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VersionTag != out[j].VersionTag {
			return out[i].VersionTag < out[j].VersionTag
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// RecordLoadStarted implements [datastore.Loads].
func (s *Store) RecordLoadStarted(_ context.Context, ref uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.loads[ref] = &loadRow{started: startedAt}
	return nil
}

// RecordLoadFinished implements [datastore.Loads].
func (s *Store) RecordLoadFinished(_ context.Context, ref uuid.UUID, stats datastore.LoadStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.s.loads[ref]
	if !ok {
		row = &loadRow{}
		s.s.loads[ref] = row
	}
	row.finished = time.Now()
	row.stats = stats
	row.done = true
	return nil
}

// LoadOperations reports how many load operations were recorded; finished
// counts those with a final result.
func (s *Store) LoadOperations(_ context.Context) (total, finished int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.s.loads {
		total++
		if r.done {
			finished++
		}
	}
	return total, finished
}
