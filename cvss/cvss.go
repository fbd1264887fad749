// Package cvss implements version-aware, loss-tolerant decoding of CVSS
// vector strings.
//
// Unlike a scoring implementation, the decoder never computes anything from
// the metrics: it tokenizes a vector into a metric-code → value mapping so
// the measurement's detail can be persisted alongside the reported score.
// The decoder is deliberately forgiving. Feeds routinely carry vectors with
// vendor extensions, missing metrics, or stale prefixes, and losing a
// measurement is worse than losing its decoded detail:
//
//   - unknown metric codes are ignored, not errors
//   - missing metrics are left absent, never defaulted
//   - only a string with no tokenizable pair at all is malformed
//
// Metric sets follow the v2.0, v3.x and v4.0 specifications; see
// https://www.first.org/cvss/ for the documents.
package cvss

import (
	"errors"
	"strings"
)

// ErrMalformedVector is reported when a vector string cannot be tokenized at
// all.
var ErrMalformedVector = errors.New("malformed vector")

// Version identifies a CVSS version for decoding and precedence purposes.
//
// The constants are declared in ascending precedence order: a higher Version
// is preferred by reconciliation. VUnknown sorts below every known version
// but is still decoded (generically) and persisted.
type Version int

// Known versions, ascending precedence.
const (
	VUnknown Version = iota
	V20
	V30
	V31
	V40
)

// ParseVersion maps a raw version tag onto a Version.
//
// It accepts the bare forms ("2.0", "3.1", …) and the labeled forms some
// feeds use ("CVSS 3.1", "CVSS:3.1"). Anything else is VUnknown; the
// caller is expected to preserve the original tag.
func ParseVersion(tag string) Version {
	s := strings.TrimSpace(tag)
	s = strings.TrimPrefix(s, "CVSS")
	s = strings.TrimLeft(s, ": ")
	switch s {
	case "2.0", "2":
		return V20
	case "3.0":
		return V30
	case "3.1", "3":
		return V31
	case "4.0", "4":
		return V40
	}
	return VUnknown
}

// String implements [fmt.Stringer], yielding the bare tag form.
func (v Version) String() string {
	switch v {
	case V20:
		return "2.0"
	case V30:
		return "3.0"
	case V31:
		return "3.1"
	case V40:
		return "4.0"
	}
	return "unknown"
}

// Label is the display form used by the dimensional model, e.g. "CVSS 3.1".
func (v Version) Label() string {
	if v == VUnknown {
		return "unknown"
	}
	return "CVSS " + v.String()
}

// Known reports whether the version is one of the defined CVSS versions.
func (v Version) Known() bool { return v > VUnknown && v <= V40 }

// Metrics is the decoded form of a vector: metric code → value, e.g.
// "AV" → "N". Only metrics present in the vector appear as keys.
type Metrics map[string]string

// Decode tokenizes vec according to ver.
//
// A leading "CVSS:x.y" segment is skipped regardless of whether it agrees
// with ver; the declared version wins, since the tag and the vector come
// from the same source payload and disagreements are not the decoder's to
// resolve. Decode reports ErrMalformedVector only when not a single
// "CODE:VALUE" pair can be extracted; the returned Metrics is then empty but
// non-nil so callers can persist it as-is.
func Decode(ver Version, vec string) (Metrics, error) {
	m := make(Metrics)
	s := strings.TrimSpace(vec)
	if strings.HasPrefix(s, "CVSS:") {
		if i := strings.IndexByte(s, '/'); i != -1 {
			s = s[i+1:]
		} else {
			// A bare "CVSS:x.y" carries no metrics.
			return m, ErrMalformedVector
		}
	}
	known := metricSet(ver)
	var ok bool
	for _, pair := range strings.Split(s, "/") {
		code, val, found := strings.Cut(pair, ":")
		code, val = strings.TrimSpace(code), strings.TrimSpace(val)
		if !found || code == "" || val == "" {
			continue
		}
		ok = true
		if known != nil {
			if _, keep := known[code]; !keep {
				continue
			}
		}
		m[code] = val
	}
	if !ok {
		return m, ErrMalformedVector
	}
	return m, nil
}
