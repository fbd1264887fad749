package cvss

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseVersion(t *testing.T) {
	tcs := []struct {
		In   string
		Want Version
	}{
		{"2.0", V20},
		{"3.0", V30},
		{"3.1", V31},
		{"4.0", V40},
		{"CVSS 3.1", V31},
		{"CVSS:4.0", V40},
		{" 2.0 ", V20},
		{"1.0", VUnknown},
		{"5.0", VUnknown},
		{"", VUnknown},
		{"surprise", VUnknown},
	}
	for _, tc := range tcs {
		if got := ParseVersion(tc.In); got != tc.Want {
			t.Errorf("ParseVersion(%q): got %v, want %v", tc.In, got, tc.Want)
		}
	}
}

func TestVersionPrecedence(t *testing.T) {
	// The constant ordering is the reconciliation precedence; pin it.
	order := []Version{VUnknown, V20, V30, V31, V40}
	for i := 1; i < len(order); i++ {
		if !(order[i] > order[i-1]) {
			t.Errorf("precedence broken: %v should sort above %v", order[i], order[i-1])
		}
	}
}

func TestDecode(t *testing.T) {
	tcs := []struct {
		Name   string
		Ver    Version
		Vector string
		Want   Metrics
		Err    bool
	}{
		{
			Name:   "V2Basic",
			Ver:    V20,
			Vector: "AV:N/AC:L/Au:N/C:P/I:N/A:N",
			Want:   Metrics{"AV": "N", "AC": "L", "Au": "N", "C": "P", "I": "N", "A": "N"},
		},
		{
			Name:   "V31Prefixed",
			Ver:    V31,
			Vector: "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H",
			Want:   Metrics{"AV": "N", "AC": "L", "PR": "N", "UI": "N", "S": "U", "C": "H", "I": "H", "A": "H"},
		},
		{
			Name:   "V3Temporal",
			Ver:    V30,
			Vector: "CVSS:3.0/AV:L/AC:H/PR:L/UI:R/S:C/C:L/I:L/A:N/E:F/RL:X",
			Want: Metrics{
				"AV": "L", "AC": "H", "PR": "L", "UI": "R", "S": "C",
				"C": "L", "I": "L", "A": "N", "E": "F", "RL": "X",
			},
		},
		{
			Name:   "V4Triads",
			Ver:    V40,
			Vector: "CVSS:4.0/AV:N/AC:L/AT:N/PR:N/UI:N/VC:H/VI:H/VA:H/SC:N/SI:N/SA:N",
			Want: Metrics{
				"AV": "N", "AC": "L", "AT": "N", "PR": "N", "UI": "N",
				"VC": "H", "VI": "H", "VA": "H", "SC": "N", "SI": "N", "SA": "N",
			},
		},
		{
			Name:   "UnknownCodesIgnored",
			Ver:    V31,
			Vector: "AV:N/ZZ:Q/AC:L",
			Want:   Metrics{"AV": "N", "AC": "L"},
		},
		{
			Name:   "V2RejectsV3Codes",
			Ver:    V20,
			Vector: "AV:N/PR:N/UI:N",
			Want:   Metrics{"AV": "N"},
		},
		{
			Name:   "IncompleteIsNotMalformed",
			Ver:    V31,
			Vector: "AV:N",
			Want:   Metrics{"AV": "N"},
		},
		{
			Name:   "UnrecognizedVersionKeepsEverything",
			Ver:    VUnknown,
			Vector: "AV:N/XX:Y",
			Want:   Metrics{"AV": "N", "XX": "Y"},
		},
		{
			Name:   "Garbage",
			Ver:    V31,
			Vector: "complete garbage",
			Want:   Metrics{},
			Err:    true,
		},
		{
			Name:   "Empty",
			Ver:    V31,
			Vector: "",
			Want:   Metrics{},
			Err:    true,
		},
		{
			Name:   "BarePrefix",
			Ver:    V31,
			Vector: "CVSS:3.1",
			Want:   Metrics{},
			Err:    true,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.Name, func(t *testing.T) {
			got, err := Decode(tc.Ver, tc.Vector)
			if tc.Err != (err != nil) {
				t.Fatalf("got error %v, want error: %v", err, tc.Err)
			}
			if err != nil && !errors.Is(err, ErrMalformedVector) {
				t.Errorf("error %v is not ErrMalformedVector", err)
			}
			if got == nil {
				t.Fatal("Decode returned nil Metrics")
			}
			if want := tc.Want; !cmp.Equal(got, want) {
				t.Error(cmp.Diff(got, want))
			}
		})
	}
}
