package cvemart

import (
	"bytes"
	"fmt"
	"time"
)

// RawRecord is one vulnerability record as captured from a feed.
//
// Records are never mutated after capture. The same identifier may recur
// across captures with differing content; the latest capture is authoritative
// for that identifier.
type RawRecord struct {
	// natural key, e.g. "CVE-2024-12345"
	ID          string `json:"cve_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	// Category is opaque input data. It may be absent or "undefined".
	Category string `json:"category,omitempty"`
	// date strings as scraped; format not guaranteed valid
	Published string `json:"published_date,omitempty"`
	Modified  string `json:"last_modified,omitempty"`
	// RemotelyExploit is a tri-state flag: feeds report it as a bool, a
	// string, a number, or not at all.
	RemotelyExploit TriState `json:"remotely_exploit,omitempty"`
	// top-level origin of the record, e.g. an authority email
	Source   string            `json:"source_identifier,omitempty"`
	Scores   []RawCvssEntry    `json:"cvss_scores,omitempty"`
	Products []RawProductEntry `json:"affected_products,omitempty"`
	URL      string            `json:"url,omitempty"`
	// when the bronze capture saw this record
	CapturedAt time.Time `json:"loaded_at"`
}

// RawCvssEntry is a single CVSS measurement as reported by one scoring
// authority.
type RawCvssEntry struct {
	// Version is the version tag as reported: "2.0", "3.0", "3.1", "4.0",
	// or something unrecognized. Unrecognized tags are preserved, not
	// dropped.
	Version  string  `json:"version"`
	Score    float64 `json:"score"`
	Severity string  `json:"severity,omitempty"`
	Vector   string  `json:"vector,omitempty"`
	// optional sub-scores
	ExploitabilityScore *float64 `json:"exploitability_score,omitempty"`
	ImpactScore         *float64 `json:"impact_score,omitempty"`
	// attributing source, free text
	Source string `json:"source,omitempty"`
}

// RawProductEntry names one affected (vendor, product) pair.
type RawProductEntry struct {
	Vendor  string `json:"vendor"`
	Product string `json:"product"`
	// opaque upstream product id, if the feed had one
	ExternalID string `json:"external_id,omitempty"`
}

// TriState is a lenient boolean for feed fields that may be true, false, or
// unknown, serialized in a variety of ways.
type TriState int8

// The three states.
const (
	TriUnknown TriState = iota
	TriTrue
	TriFalse
)

// Bool collapses the tri-state for normalized output; unknown maps to false.
func (t TriState) Bool() bool { return t == TriTrue }

// UnmarshalJSON implements [json.Unmarshaler].
//
// Accepted encodings: JSON booleans, the strings "true"/"false"/"t"/"f"/
// "1"/"0" (any case), the numbers 1/0, and null. Anything else is unknown.
func (t *TriState) UnmarshalJSON(b []byte) error {
	switch s := string(bytes.ToLower(bytes.Trim(b, `"`))); s {
	case "true", "t", "1":
		*t = TriTrue
	case "false", "f", "0":
		*t = TriFalse
	default:
		*t = TriUnknown
	}
	return nil
}

// MarshalJSON implements [json.Marshaler].
func (t TriState) MarshalJSON() ([]byte, error) {
	switch t {
	case TriTrue:
		return []byte("true"), nil
	case TriFalse:
		return []byte("false"), nil
	case TriUnknown:
		return []byte("null"), nil
	}
	return nil, fmt.Errorf("invalid TriState: %d", int8(t))
}
