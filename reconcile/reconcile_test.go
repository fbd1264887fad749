package reconcile

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cvemart/cvemart"
	"github.com/cvemart/cvemart/cvss"
)

func TestBand(t *testing.T) {
	tcs := []struct {
		Score float64
		Want  cvemart.Severity
	}{
		{0.0, cvemart.None},
		{0.1, cvemart.Low},
		{3.9, cvemart.Low},
		{4.0, cvemart.Medium},
		{6.9, cvemart.Medium},
		{7.0, cvemart.High},
		{8.9, cvemart.High},
		{9.0, cvemart.Critical},
		{10.0, cvemart.Critical},
	}
	for _, tc := range tcs {
		if got := Band(tc.Score); got != tc.Want {
			t.Errorf("Band(%.1f): got %v, want %v", tc.Score, got, tc.Want)
		}
	}
}

func TestVersionPrecedence(t *testing.T) {
	var p Policy
	ms := []cvemart.CvssMeasurement{
		{VersionTag: "2.0", Source: "a@example.com", Score: 4.0, Severity: cvemart.Medium},
		{VersionTag: "3.1", Source: "b@example.com", Score: 7.5, Severity: cvemart.High},
	}
	// Input order must not matter.
	for i := 0; i < 2; i++ {
		got, err := p.Canonical(ms)
		if err != nil {
			t.Fatal(err)
		}
		if got.Version != cvss.V31 || got.Score != 7.5 {
			t.Errorf("got version %v score %v, want 3.1/7.5", got.Version, got.Score)
		}
		ms[0], ms[1] = ms[1], ms[0]
	}
}

func TestPrefers31Over30(t *testing.T) {
	var p Policy
	got, err := p.Canonical([]cvemart.CvssMeasurement{
		{VersionTag: "3.0", Source: "a", Score: 9.8, Severity: cvemart.Critical},
		{VersionTag: "3.1", Source: "a", Score: 5.0, Severity: cvemart.Medium},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.VersionTag != "3.1" || got.Score != 5.0 {
		t.Errorf("got %q/%v, want 3.1/5.0", got.VersionTag, got.Score)
	}
}

func TestAuthoritativeSourceWinsTies(t *testing.T) {
	p := Policy{AuthoritativeSource: "nvd@nist.gov"}
	got, err := p.Canonical([]cvemart.CvssMeasurement{
		{VersionTag: "3.1", Source: "vendor@example.com", Score: 9.9, Severity: cvemart.Critical},
		{VersionTag: "3.1", Source: "nvd@nist.gov", Score: 8.1, Severity: cvemart.High},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != "nvd@nist.gov" || got.Score != 8.1 {
		t.Errorf("got %q/%v, want the authoritative source", got.Source, got.Score)
	}
}

func TestTieBreakBySourceName(t *testing.T) {
	var p Policy
	got, err := p.Canonical([]cvemart.CvssMeasurement{
		{VersionTag: "3.1", Source: "zeta@example.com", Score: 7.5, Severity: cvemart.High},
		{VersionTag: "3.1", Source: "alpha@example.com", Score: 7.5, Severity: cvemart.High},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != "alpha@example.com" {
		t.Errorf("got source %q, want alpha@example.com", got.Source)
	}
}

func TestUnrecognizedVersionOnly(t *testing.T) {
	// A record carrying only an unrecognized version tag still gets a
	// canonical score; the tag is preserved.
	var p Policy
	got, err := p.Canonical([]cvemart.CvssMeasurement{
		{VersionTag: "5.0-draft", Source: "a", Score: 6.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != cvss.VUnknown || got.VersionTag != "5.0-draft" {
		t.Errorf("got %v/%q, want unknown/5.0-draft", got.Version, got.VersionTag)
	}
	if got.Severity != cvemart.Medium {
		t.Errorf("got severity %v, want banded MEDIUM", got.Severity)
	}
}

func TestNoMeasurements(t *testing.T) {
	var p Policy
	got, err := p.Canonical(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestDuplicateTripleIsAmbiguous(t *testing.T) {
	var p Policy
	_, err := p.Canonical([]cvemart.CvssMeasurement{
		{VersionTag: "3.1", Source: "a", Score: 7.5},
		{VersionTag: "3.1", Source: "a", Score: 2.0},
	})
	if !errors.Is(err, cvemart.ErrReconciliation) {
		t.Fatalf("got %v, want ErrReconciliation", err)
	}
}

func TestDeterminism(t *testing.T) {
	p := Policy{AuthoritativeSource: "nvd@nist.gov"}
	ms := []cvemart.CvssMeasurement{
		{VersionTag: "2.0", Source: "a", Score: 10.0, Severity: cvemart.Critical},
		{VersionTag: "3.0", Source: "b", Score: 4.2, Severity: cvemart.Medium},
		{VersionTag: "3.1", Source: "c", Score: 6.5, Severity: cvemart.Medium},
		{VersionTag: "3.1", Source: "nvd@nist.gov", Score: 6.5, Severity: cvemart.Medium},
		{VersionTag: "4.0", Source: "d", Score: 5.1, Severity: cvemart.Medium},
		{VersionTag: "4.0", Source: "e", Score: 5.1, Severity: cvemart.Medium},
	}
	want, err := p.Canonical(ms)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		rng.Shuffle(len(ms), func(i, j int) { ms[i], ms[j] = ms[j], ms[i] })
		got, err := p.Canonical(ms)
		if err != nil {
			t.Fatal(err)
		}
		if !cmp.Equal(got, want) {
			t.Fatal(cmp.Diff(got, want))
		}
	}
}

func TestMismatches(t *testing.T) {
	got := Mismatches([]cvemart.CvssMeasurement{
		// label agrees with band
		{VersionTag: "3.1", Source: "a", Score: 9.8, Severity: cvemart.Critical},
		// label disagrees: data-quality signal
		{VersionTag: "3.1", Source: "b", Score: 3.0, Severity: cvemart.High},
		// no label, nothing to check
		{VersionTag: "2.0", Source: "c", Score: 5.0},
	})
	want := []Mismatch{
		{VersionTag: "3.1", Source: "b", Label: cvemart.High, Banded: cvemart.Low},
	}
	if !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}
