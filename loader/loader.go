// Package loader drives a feed of raw records through normalization and
// into the dimensional store.
//
// Normalization is CPU-bound and runs concurrently in chunks; materialization
// is sequential and preserves feed order, so a correction later in the feed
// always lands after the record it corrects. Each record gets its own
// transaction: a failed record rolls back alone and the load continues.
package loader

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"
	"golang.org/x/sync/semaphore"

	"github.com/cvemart/cvemart"
	"github.com/cvemart/cvemart/datastore"
	"github.com/cvemart/cvemart/normalize"
)

var (
	recordCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cvemart",
		Subsystem: "loader",
		Name:      "records_total",
		Help:      "Load outcomes per record.",
	}, []string{"outcome"})
	recordDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cvemart",
		Subsystem: "loader",
		Name:      "record_duration_seconds",
		Help:      "Time to materialize one record, retries included.",
	})
)

// chunkSize bounds how many records are normalized ahead of the writer.
const chunkSize = 256

// Source yields raw records one at a time. The feed package implements it;
// FromRecords adapts a slice.
type Source interface {
	// Next advances to the next record, reporting false at end of input.
	Next() bool
	Record() *cvemart.RawRecord
	Err() error
}

// Options configure a load run. The zero value is usable.
type Options struct {
	// SkipExisting counts records whose identifier is already
	// materialized as skipped instead of re-materializing them.
	SkipExisting bool
	// Timeout bounds a single materialization attempt. Zero means no
	// per-record deadline.
	Timeout time.Duration
	// RetryLimit is the number of extra attempts granted to a record
	// whose failure is classified retryable.
	RetryLimit int
	// Workers bounds concurrent normalization. Zero picks a small
	// default.
	Workers int
}

// Controller runs load operations against one store.
type Controller struct {
	store  datastore.Store
	engine *normalize.Engine
	opts   Options
}

// New constructs a Controller.
func New(store datastore.Store, engine *normalize.Engine, opts Options) *Controller {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Controller{
		store:  store,
		engine: engine,
		opts:   opts,
	}
}

// Failure describes one record that could not be materialized.
type Failure struct {
	ID      string
	Kind    cvemart.ErrorKind
	Message string
}

// FlaggedRecord pairs a record identifier with its data-quality flags. A
// flagged record still materialized successfully.
type FlaggedRecord struct {
	ID    string
	Flags []normalize.Flag
}

// Result is the outcome of one load operation.
type Result struct {
	Ref       uuid.UUID
	Status    string
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
	Flagged   int
	Failures  []Failure
	Flags     []FlaggedRecord
}

func (r *Result) stats() datastore.LoadStats {
	return datastore.LoadStats{
		Attempted: r.Attempted,
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		Skipped:   r.Skipped,
		Flagged:   r.Flagged,
		Status:    r.Status,
	}
}

// item carries one record through the normalize → materialize pipeline.
type item struct {
	raw  *cvemart.RawRecord
	norm *normalize.Result
	err  error
}

// Load drains src into the store.
//
// The returned Result is valid even when an error is returned; the error
// then explains why the run stopped early (cancellation, a source failure,
// or bookkeeping).
func (c *Controller) Load(ctx context.Context, src Source) (*Result, error) {
	ref, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	ctx = zlog.ContextWithValues(ctx,
		"component", "loader/Controller.Load",
		"ref", ref.String())
	res := &Result{Ref: ref, Status: "RUNNING"}

	if err := c.store.RecordLoadStarted(ctx, ref, time.Now()); err != nil {
		return nil, err
	}
	zlog.Info(ctx).Msg("load started")

	runErr := c.run(ctx, src, res)
	if runErr == nil {
		runErr = src.Err()
	}

	// FAILED is reserved for a run that never got going; once any record
	// was attempted, per-record failures degrade the run to PARTIAL.
	switch {
	case runErr != nil && res.Attempted == 0:
		res.Status = "FAILED"
	case res.Failed > 0 || runErr != nil:
		res.Status = "PARTIAL"
	default:
		res.Status = "SUCCESS"
	}

	// Bookkeeping must land even when the run was canceled.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.store.RecordLoadFinished(fctx, ref, res.stats()); err != nil {
		zlog.Error(ctx).Err(err).Msg("failed to record load result")
		if runErr == nil {
			runErr = err
		}
	}
	zlog.Info(ctx).
		Str("status", res.Status).
		Int("attempted", res.Attempted).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Int("flagged", res.Flagged).
		Msg("load finished")
	return res, runErr
}

func (c *Controller) run(ctx context.Context, src Source, res *Result) error {
	for {
		raws := readChunk(src, chunkSize)
		if len(raws) == 0 {
			return nil
		}
		items, err := c.normalizeChunk(ctx, raws)
		if err != nil {
			return err
		}
		// Materialization is sequential and in feed order.
		for _, it := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.loadOne(ctx, it, res)
		}
	}
}

func readChunk(src Source, n int) []*cvemart.RawRecord {
	out := make([]*cvemart.RawRecord, 0, n)
	for len(out) < n && src.Next() {
		out = append(out, src.Record())
	}
	return out
}

// normalizeChunk normalizes a chunk concurrently, preserving input order.
func (c *Controller) normalizeChunk(ctx context.Context, raws []*cvemart.RawRecord) ([]*item, error) {
	items := make([]*item, len(raws))
	sem := semaphore.NewWeighted(int64(c.opts.Workers))
	for i := range raws {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		go func(i int) {
			defer sem.Release(1)
			it := &item{raw: raws[i]}
			it.norm, it.err = c.engine.Record(ctx, raws[i])
			items[i] = it
		}(i)
	}
	// Wait for every worker.
	if err := sem.Acquire(ctx, int64(c.opts.Workers)); err != nil {
		return nil, err
	}
	sem.Release(int64(c.opts.Workers))
	return items, nil
}

func (c *Controller) loadOne(ctx context.Context, it *item, res *Result) {
	res.Attempted++
	id := it.raw.ID
	ctx = zlog.ContextWithValues(ctx, "cve", id)
	if it.err != nil {
		c.fail(ctx, res, id, it.err)
		return
	}

	exists, err := c.store.CveExists(ctx, it.norm.Cve.ID)
	if err != nil {
		c.fail(ctx, res, id, err)
		return
	}
	if exists && c.opts.SkipExisting {
		res.Skipped++
		recordCounter.WithLabelValues("skipped").Inc()
		return
	}

	timer := prometheus.NewTimer(recordDuration)
	defer timer.ObserveDuration()
	err = c.materialize(ctx, it.norm, exists)
	for attempt := 0; err != nil && attempt < c.opts.RetryLimit && retryable(err); attempt++ {
		zlog.Debug(ctx).Err(err).Int("attempt", attempt+1).Msg("retrying record")
		if werr := wait(ctx, backoff(attempt)); werr != nil {
			break
		}
		err = c.materialize(ctx, it.norm, exists)
	}
	if err != nil {
		c.fail(ctx, res, id, err)
		return
	}
	res.Succeeded++
	recordCounter.WithLabelValues("succeeded").Inc()
	// Flags are tallied only for records that landed; skipped and failed
	// records keep the flagged count clean.
	if len(it.norm.Flags) > 0 {
		res.Flagged++
		res.Flags = append(res.Flags, FlaggedRecord{ID: it.norm.Cve.ID, Flags: it.norm.Flags})
		recordCounter.WithLabelValues("flagged").Inc()
		for _, f := range it.norm.Flags {
			zlog.Debug(ctx).
				Str("kind", string(f.Kind)).
				Str("detail", f.Detail).
				Msg("data quality flag")
		}
	}
}

// materialize walks one record through the write surface inside a single
// transaction.
//
// When the CVE already existed, a correction may have moved its published
// date, which the additive aggregate deltas cannot express; every vendor
// and product still bridged to the CVE is then rebuilt, including ones
// the incoming record no longer names.
func (c *Controller) materialize(ctx context.Context, nr *normalize.Result, exists bool) error {
	mctx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		mctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}
	tx, err := c.store.Begin(mctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(mctx)

	if err := tx.UpsertCve(mctx, &nr.Cve); err != nil {
		return err
	}
	if err := tx.UpsertCvssMeasurements(mctx, nr.Cve.ID, nr.Measurements); err != nil {
		return err
	}
	for _, ref := range nr.Products {
		_, productID, err := tx.UpsertVendorProduct(mctx, ref)
		if err != nil {
			return err
		}
		if _, err := tx.LinkCveProduct(mctx, nr.Cve.ID, productID); err != nil {
			return err
		}
	}
	if exists {
		pairs, err := tx.LinkedProducts(mctx, nr.Cve.ID)
		if err != nil {
			return err
		}
		for _, p := range pairs {
			if err := tx.RecomputeAggregates(mctx, p.VendorID, p.ProductID); err != nil {
				return err
			}
		}
	}
	return tx.Commit(mctx)
}

func (c *Controller) fail(ctx context.Context, res *Result, id string, err error) {
	res.Failed++
	recordCounter.WithLabelValues("failed").Inc()
	f := Failure{ID: id, Kind: cvemart.ErrInternal, Message: err.Error()}
	var ce *cvemart.Error
	if errors.As(err, &ce) {
		f.Kind = ce.Kind
	}
	res.Failures = append(res.Failures, f)
	zlog.Warn(ctx).Err(err).Str("kind", string(f.Kind)).Msg("record failed")
}

func retryable(err error) bool {
	var ce *cvemart.Error
	if errors.As(err, &ce) {
		return ce.Kind.Retryable()
	}
	return false
}

func backoff(attempt int) time.Duration {
	d := 100 * time.Millisecond << attempt
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// records adapts an in-memory slice to the Source interface.
type records struct {
	recs []cvemart.RawRecord
	i    int
}

// FromRecords wraps an already-decoded slice as a Source.
func FromRecords(recs []cvemart.RawRecord) Source {
	return &records{recs: recs}
}

func (r *records) Next() bool {
	if r.i >= len(r.recs) {
		return false
	}
	r.i++
	return true
}

func (r *records) Record() *cvemart.RawRecord { return &r.recs[r.i-1] }

func (r *records) Err() error { return nil }
