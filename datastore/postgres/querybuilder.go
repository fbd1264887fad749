package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/postgres"

	"github.com/cvemart/cvemart"
)

// CveFilter narrows a dimensional search. Zero-valued fields do not
// constrain.
type CveFilter struct {
	// severity labels, matched exactly against the canonical severity
	Severities []cvemart.Severity
	// dimension-matching keys, not display names
	VendorKey  string
	ProductKey string
	MinScore   *float64
	// published_date range, half-open
	PublishedSince *time.Time
	PublishedUntil *time.Time
	RemoteExploit  *bool
	// 0 means no limit
	Limit uint
}

// buildSearchQuery renders a CveFilter into SQL over the star schema.
// Vendor or product constraints pull in the bridge and dimension joins;
// otherwise the query stays on dim_cve alone.
func buildSearchQuery(f *CveFilter) (string, error) {
	psql := goqu.Dialect("postgres")
	exps := []goqu.Expression{}

	if len(f.Severities) > 0 {
		labels := make([]string, len(f.Severities))
		for i, s := range f.Severities {
			labels[i] = s.String()
		}
		exps = append(exps, goqu.Ex{"dim_cve.canonical_severity": labels})
	}
	if f.MinScore != nil {
		exps = append(exps, goqu.C("canonical_score").Table("dim_cve").Gte(*f.MinScore))
	}
	if f.PublishedSince != nil {
		exps = append(exps, goqu.C("published_date").Table("dim_cve").Gte(*f.PublishedSince))
	}
	if f.PublishedUntil != nil {
		exps = append(exps, goqu.C("published_date").Table("dim_cve").Lt(*f.PublishedUntil))
	}
	if f.RemoteExploit != nil {
		exps = append(exps, goqu.Ex{"dim_cve.remote_exploit": *f.RemoteExploit})
	}

	query := psql.From("dim_cve").Select(
		goqu.I("dim_cve.cve_id"),
		goqu.I("dim_cve.title"),
		goqu.I("dim_cve.description"),
		goqu.I("dim_cve.category"),
		goqu.I("dim_cve.published_date"),
		goqu.I("dim_cve.last_modified"),
		goqu.I("dim_cve.remote_exploit"),
		goqu.I("dim_cve.primary_source"),
		goqu.I("dim_cve.canonical_version"),
		goqu.I("dim_cve.canonical_score"),
		goqu.I("dim_cve.canonical_severity"),
		goqu.I("dim_cve.url"),
		goqu.I("dim_cve.captured_at"),
	).Distinct()

	if f.VendorKey != "" || f.ProductKey != "" {
		query = query.
			Join(goqu.T("bridge_cve_product"), goqu.On(
				goqu.Ex{"bridge_cve_product.cve_id": goqu.I("dim_cve.cve_id")},
			)).
			Join(goqu.T("dim_product"), goqu.On(
				goqu.Ex{"dim_product.id": goqu.I("bridge_cve_product.product_id")},
			)).
			Join(goqu.T("dim_vendor"), goqu.On(
				goqu.Ex{"dim_vendor.id": goqu.I("dim_product.vendor_id")},
			))
		if f.VendorKey != "" {
			exps = append(exps, goqu.Ex{"dim_vendor.name_key": f.VendorKey})
		}
		if f.ProductKey != "" {
			exps = append(exps, goqu.Ex{"dim_product.name_key": f.ProductKey})
		}
	}

	query = query.Where(exps...).Order(goqu.I("dim_cve.cve_id").Asc())
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	sql, _, err := query.ToSQL()
	if err != nil {
		return "", err
	}
	return sql, nil
}

// Search runs the filter against the star schema and reports matching CVE
// rows, ordered by identifier.
func (s *MartStore) Search(ctx context.Context, f *CveFilter) ([]cvemart.NormalizedCve, error) {
	const op = `datastore/postgres/MartStore.Search`
	sql, err := buildSearchQuery(f)
	if err != nil {
		return nil, &cvemart.Error{
			Op:      op,
			Kind:    cvemart.ErrInternal,
			Message: "failed to build search query",
			Inner:   err,
		}
	}
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, wrapErr(op, "search query failed", err)
	}
	defer rows.Close()

	var out []cvemart.NormalizedCve
	for rows.Next() {
		var (
			c        cvemart.NormalizedCve
			severity string
		)
		err := rows.Scan(
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
		if err != nil {
			return nil, wrapErr(op, "failed to scan cve row "+strconv.Itoa(len(out)), err)
		}
		if sev, ok := cvemart.ParseSeverity(severity); ok {
			c.CanonicalSeverity = sev
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, "search row iteration failed", err)
	}
	return out, nil
}
