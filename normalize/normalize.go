// Package normalize turns raw feed records into their normalized,
// measurement-and-edge form.
//
// The engine is a pure transform over one record: it never sees the
// database. Data-quality problems (unparseable dates, malformed vectors,
// severity label mismatches) are flagged and carried in the result rather
// than failing the record; only a reconciliation ambiguity, which indicates
// a policy bug, is fatal.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quay/zlog"

	"github.com/cvemart/cvemart"
	"github.com/cvemart/cvemart/cvss"
	"github.com/cvemart/cvemart/reconcile"
)

// Engine normalizes records under a reconciliation policy.
type Engine struct {
	Policy *reconcile.Policy
}

// New returns an Engine using the provided policy, or the zero policy if
// nil.
func New(p *reconcile.Policy) *Engine {
	if p == nil {
		p = &reconcile.Policy{}
	}
	return &Engine{Policy: p}
}

// Flag is one data-quality signal raised while normalizing a record.
type Flag struct {
	Kind   cvemart.ErrorKind `json:"kind"`
	Detail string            `json:"detail"`
}

// Result is the complete normalized form of one raw record.
type Result struct {
	Cve          cvemart.NormalizedCve
	Measurements []cvemart.CvssMeasurement
	Products     []cvemart.ProductRef
	Flags        []Flag
}

// Record normalizes one raw record.
//
// The returned error is nil for every data-quality problem; those are
// reported via Result.Flags. A non-nil error means the record cannot be
// materialized: a missing identifier, or a reconciliation ambiguity.
func (e *Engine) Record(ctx context.Context, r *cvemart.RawRecord) (*Result, error) {
	const op = `normalize/Engine.Record`
	ctx = zlog.ContextWithValues(ctx, "component", op)

	id := strings.TrimSpace(r.ID)
	if id == "" {
		return nil, &cvemart.Error{
			Op:      op,
			Kind:    cvemart.ErrInternal,
			Message: "record has no identifier",
		}
	}
	ctx = zlog.ContextWithValues(ctx, "cve", id)

	res := Result{
		Cve: cvemart.NormalizedCve{
			ID:            id,
			Title:         collapse(r.Title),
			Description:   strings.TrimSpace(r.Description),
			Category:      category(r.Category),
			RemoteExploit: r.RemotelyExploit.Bool(),
			PrimarySource: strings.TrimSpace(r.Source),
			URL:           strings.TrimSpace(r.URL),
			CapturedAt:    r.CapturedAt,
		},
	}

	// Dates: absent is just null, unparseable is null plus a flag.
	for _, d := range []struct {
		raw  string
		dst  **time.Time
		name string
	}{
		{r.Published, &res.Cve.Published, "published_date"},
		{r.Modified, &res.Cve.Modified, "last_modified"},
	} {
		t, err := parseDate(d.raw)
		switch {
		case err == nil:
			*d.dst = t
		case errors.Is(err, errNoDate):
		default:
			res.Flags = append(res.Flags, Flag{
				Kind:   cvemart.ErrDateParse,
				Detail: fmt.Sprintf("%s: %v", d.name, err),
			})
			zlog.Debug(ctx).Str("field", d.name).Str("value", d.raw).Msg("unparseable date")
		}
	}

	res.Measurements = e.measurements(ctx, r, &res)

	c, err := e.Policy.Canonical(res.Measurements)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing %s: %w", id, err)
	}
	if c != nil {
		score := c.Score
		res.Cve.CanonicalScore = &score
		res.Cve.CanonicalSeverity = c.Severity
		if c.Version.Known() {
			res.Cve.CanonicalVersion = c.Version.Label()
		} else {
			res.Cve.CanonicalVersion = c.VersionTag
		}
	}

	res.Products = products(r.Products)
	return &res, nil
}

// measurements decodes, flags and dedups the record's CVSS entries.
//
// Within one record, two entries for the same (version, source) pair are a
// malformed source payload: the later one in list order wins, and the
// collision never reaches the storage layer.
func (e *Engine) measurements(ctx context.Context, r *cvemart.RawRecord, res *Result) []cvemart.CvssMeasurement {
	type key struct{ tag, src string }
	idx := make(map[key]int, len(r.Scores))
	var out []cvemart.CvssMeasurement

	for i := range r.Scores {
		raw := &r.Scores[i]
		ver := cvss.ParseVersion(raw.Version)
		tag := strings.TrimSpace(raw.Version)
		if ver.Known() {
			tag = ver.String()
		}

		m := cvemart.CvssMeasurement{
			VersionTag:          tag,
			Source:              strings.TrimSpace(raw.Source),
			Score:               raw.Score,
			Vector:              strings.TrimSpace(raw.Vector),
			ExploitabilityScore: raw.ExploitabilityScore,
			ImpactScore:         raw.ImpactScore,
			Metrics:             cvss.Metrics{},
		}
		if sev, ok := cvemart.ParseSeverity(raw.Severity); ok {
			m.Severity = sev
		} else {
			m.Severity = reconcile.Band(raw.Score)
		}

		if m.Vector != "" {
			metrics, err := cvss.Decode(ver, m.Vector)
			m.Metrics = metrics
			if err != nil {
				// Keep the measurement; losing it is worse than
				// losing its decoded detail.
				m.Malformed = true
				res.Flags = append(res.Flags, Flag{
					Kind:   cvemart.ErrMalformedVector,
					Detail: fmt.Sprintf("cvss %s (%s): %q", tag, m.Source, m.Vector),
				})
				zlog.Info(ctx).
					Str("version", tag).
					Str("source", m.Source).
					Str("vector", m.Vector).
					Msg("malformed vector, keeping measurement without metrics")
			}
		}

		k := key{tag, m.Source}
		if j, dup := idx[k]; dup {
			out[j] = m // last write wins
			continue
		}
		idx[k] = len(out)
		out = append(out, m)
	}

	for _, mm := range reconcile.Mismatches(out) {
		res.Flags = append(res.Flags, Flag{
			Kind:   cvemart.ErrorKind("severity mismatch"),
			Detail: mm.String(),
		})
	}
	return out
}

// products normalizes and dedups the record's (vendor, product) pairs.
func products(raw []cvemart.RawProductEntry) []cvemart.ProductRef {
	seen := make(map[string]struct{}, len(raw))
	var out []cvemart.ProductRef
	for i := range raw {
		p := cvemart.ProductRef{
			Vendor:  collapse(raw[i].Vendor),
			Product: collapse(raw[i].Product),
		}
		if p.Vendor == "" || p.Product == "" {
			continue
		}
		p.VendorKey = foldKey(p.Vendor)
		p.ProductKey = foldKey(p.Product)
		k := p.VendorKey + "\x00" + p.ProductKey
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}

// category treats the feed's "undefined" placeholder as absent.
func category(s string) string {
	c := collapse(s)
	if strings.EqualFold(c, "undefined") {
		return ""
	}
	return c
}

// collapse trims and collapses inner whitespace, preserving a display form.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// foldKey is the dimension-matching key form: collapsed and case-folded.
func foldKey(s string) string {
	return strings.ToLower(collapse(s))
}
