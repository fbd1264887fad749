package cvemart

import "time"

// NormalizedCve is the cleaned, canonical form of a RawRecord.
//
// The canonical fields are recomputed by the reconciliation policy on every
// load; they are never copied through from raw input. When a record carries
// no CVSS entry at all, CanonicalVersion is empty, CanonicalScore is nil and
// CanonicalSeverity is [Unknown] (rendered "NO CVSS").
type NormalizedCve struct {
	ID          string `json:"cve_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	// parsed, UTC-normalized; nil when the raw date was absent or
	// unparseable (the record is then flagged)
	Published *time.Time `json:"published_date,omitempty"`
	Modified  *time.Time `json:"last_modified,omitempty"`
	// tri-state collapsed; unknown is false
	RemoteExploit bool   `json:"remote_exploit"`
	PrimarySource string `json:"primary_source,omitempty"`
	// canonical fields, per the reconciliation policy
	CanonicalVersion  string   `json:"canonical_cvss_version,omitempty"`
	CanonicalScore    *float64 `json:"canonical_score,omitempty"`
	CanonicalSeverity Severity `json:"canonical_severity"`
	URL               string   `json:"url,omitempty"`
	CapturedAt        time.Time `json:"captured_at"`
}

// CvssMeasurement is one decoded CVSS entry, keyed by (CVE, version, source).
//
// Version-specific detail lives in Metrics, a code→value mapping produced by
// the vector decoder; Score and Severity are the version-agnostic projection
// used by reconciliation. A measurement whose vector could not be tokenized
// is kept with empty Metrics and Malformed set.
type CvssMeasurement struct {
	// version tag as reported; preserved even when unrecognized
	VersionTag string  `json:"version"`
	Source     string  `json:"source"`
	Score      float64 `json:"score"`
	Severity   Severity `json:"severity"`
	Vector     string  `json:"vector,omitempty"`
	// decoded metric code → value, e.g. "AV" → "N"
	Metrics             map[string]string `json:"metrics,omitempty"`
	ExploitabilityScore *float64          `json:"exploitability_score,omitempty"`
	ImpactScore         *float64          `json:"impact_score,omitempty"`
	// the vector string existed but could not be tokenized
	Malformed bool `json:"malformed,omitempty"`
}

// ProductRef is a normalized (vendor, product) pair emitted by the
// normalization engine.
//
// The Key forms are the dimension-matching keys: trimmed, inner whitespace
// collapsed, case-folded. The display forms preserve the feed's casing.
type ProductRef struct {
	Vendor     string `json:"vendor"`
	VendorKey  string `json:"vendor_key"`
	Product    string `json:"product"`
	ProductKey string `json:"product_key"`
}

// Vendor is a row of the vendor dimension.
//
// The aggregate columns are derived state: a cache over the bridge and the
// CVE dimension, maintained incrementally and recomputable in full.
type Vendor struct {
	ID   int64  `json:"vendor_id"`
	Name string `json:"vendor_name"`
	// case-folded unique key
	Key           string     `json:"-"`
	TotalProducts int64      `json:"total_products"`
	TotalCves     int64      `json:"total_cves"`
	FirstCveDate  *time.Time `json:"first_cve_date,omitempty"`
	LastCveDate   *time.Time `json:"last_cve_date,omitempty"`
}

// Product is a row of the product dimension. A product is owned by exactly
// one vendor; (VendorID, Key) is unique.
type Product struct {
	ID           int64      `json:"product_id"`
	VendorID     int64      `json:"vendor_id"`
	Name         string     `json:"product_name"`
	Key          string     `json:"-"`
	TotalCves    int64      `json:"total_cves"`
	FirstCveDate *time.Time `json:"first_cve_date,omitempty"`
	LastCveDate  *time.Time `json:"last_cve_date,omitempty"`
}

// CveProductEdge is a row of the CVE↔product bridge. Edges are created once
// per distinct pairing and never updated.
type CveProductEdge struct {
	CveID     string `json:"cve_id"`
	ProductID int64  `json:"product_id"`
}
