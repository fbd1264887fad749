// Package reconcile implements the deterministic policy that picks a single
// canonical CVSS measurement for a CVE.
//
// Everything in this package is pure: no I/O, no clock, no randomness. The
// canonical value is what all downstream risk analytics key off, so running
// the policy twice on the same input yielding the same answer is a contract,
// not an implementation detail.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/cvemart/cvemart"
	"github.com/cvemart/cvemart/cvss"
)

// Policy configures canonical selection.
//
// The zero value is usable and selects purely on version precedence, score
// and source name.
type Policy struct {
	// AuthoritativeSource, when non-empty, wins ties within the selected
	// version regardless of score. The reference deployment sets this to
	// "nvd@nist.gov".
	AuthoritativeSource string
}

// Canonical is the selected measurement's version-agnostic projection.
type Canonical struct {
	Version cvss.Version
	// version tag of the winning measurement, as reported
	VersionTag string
	Score      float64
	Severity   cvemart.Severity
	Source     string
	Vector     string
}

// Canonical selects the canonical measurement for one CVE.
//
// Selection is a total order: highest version precedence first (4.0 over
// 3.1 over 3.0 over 2.0 over unrecognized tags), then within that version
// the authoritative source if configured, then highest score, then source
// name ascending. A nil Canonical with a nil error means the record has no
// measurements at all ("NO CVSS").
//
// Two measurements sharing a (version tag, source) pair indicate the
// upstream dedup failed; that reports [cvemart.ErrReconciliation] since a
// deterministic winner between identical keys would be a coin flip.
func (p *Policy) Canonical(ms []cvemart.CvssMeasurement) (*Canonical, error) {
	const op = `reconcile/Policy.Canonical`
	if len(ms) == 0 {
		return nil, nil
	}

	best := cvss.VUnknown
	for i := range ms {
		if v := cvss.ParseVersion(ms[i].VersionTag); v > best {
			best = v
		}
	}

	// Partition: only measurements of the winning version compete.
	cand := make([]*cvemart.CvssMeasurement, 0, len(ms))
	for i := range ms {
		if cvss.ParseVersion(ms[i].VersionTag) == best {
			cand = append(cand, &ms[i])
		}
	}

	seen := make(map[string]struct{}, len(cand))
	for _, m := range cand {
		k := m.VersionTag + "\x00" + m.Source
		if _, dup := seen[k]; dup {
			return nil, &cvemart.Error{
				Op:      op,
				Kind:    cvemart.ErrReconciliation,
				Message: fmt.Sprintf("duplicate measurement for version %q from source %q", m.VersionTag, m.Source),
			}
		}
		seen[k] = struct{}{}
	}

	sort.SliceStable(cand, func(i, j int) bool {
		a, b := cand[i], cand[j]
		if p.AuthoritativeSource != "" {
			aAuth, bAuth := a.Source == p.AuthoritativeSource, b.Source == p.AuthoritativeSource
			if aAuth != bAuth {
				return aAuth
			}
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Source < b.Source
	})

	w := cand[0]
	sev := w.Severity
	if sev == cvemart.Unknown {
		sev = Band(w.Score)
	}
	return &Canonical{
		Version:    best,
		VersionTag: w.VersionTag,
		Score:      w.Score,
		Severity:   sev,
		Source:     w.Source,
		Vector:     w.Vector,
	}, nil
}

// Band maps a numeric score onto the fixed severity banding:
//
//	0.0        → NONE
//	(0.0, 4.0) → LOW
//	[4.0, 7.0) → MEDIUM
//	[7.0, 9.0) → HIGH
//	[9.0, ∞)   → CRITICAL
//
// Out-of-range inputs clamp to the nearest band rather than error; scores
// are validated elsewhere.
func Band(score float64) cvemart.Severity {
	switch {
	case score <= 0.0:
		return cvemart.None
	case score < 4.0:
		return cvemart.Low
	case score < 7.0:
		return cvemart.Medium
	case score < 9.0:
		return cvemart.High
	}
	return cvemart.Critical
}

// Mismatch flags a measurement whose source-supplied severity label
// disagrees with the band computed from its score. The label still wins;
// this is a data-quality signal, not an error.
type Mismatch struct {
	VersionTag string
	Source     string
	Label      cvemart.Severity
	Banded     cvemart.Severity
}

// String implements [fmt.Stringer].
func (m Mismatch) String() string {
	return fmt.Sprintf("cvss %s (%s): label %v, banded %v", m.VersionTag, m.Source, m.Label, m.Banded)
}

// Mismatches runs the severity validation check over a record's
// measurements.
func Mismatches(ms []cvemart.CvssMeasurement) []Mismatch {
	var out []Mismatch
	for i := range ms {
		m := &ms[i]
		if m.Severity == cvemart.Unknown {
			continue
		}
		if b := Band(m.Score); b != m.Severity {
			out = append(out, Mismatch{
				VersionTag: m.VersionTag,
				Source:     m.Source,
				Label:      m.Severity,
				Banded:     b,
			})
		}
	}
	return out
}
