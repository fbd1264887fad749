package cvss

// Metric sets per version. Values are not validated: the decoder's job is to
// preserve what the source reported, valid or not.

var v2Metrics = map[string]struct{}{
	// base
	"AV": {}, "AC": {}, "Au": {}, "C": {}, "I": {}, "A": {},
	// temporal
	"E": {}, "RL": {}, "RC": {},
	// environmental
	"CDP": {}, "TD": {}, "CR": {}, "IR": {}, "AR": {},
}

var v3Metrics = map[string]struct{}{
	// base; v3 adds PR, UI and S over v2 and drops Au
	"AV": {}, "AC": {}, "PR": {}, "UI": {}, "S": {}, "C": {}, "I": {}, "A": {},
	// temporal
	"E": {}, "RL": {}, "RC": {},
	// environmental
	"CR": {}, "IR": {}, "AR": {},
	"MAV": {}, "MAC": {}, "MPR": {}, "MUI": {}, "MS": {}, "MC": {}, "MI": {}, "MA": {},
}

var v4Metrics = map[string]struct{}{
	// base; impact splits into vulnerable-system and subsequent-system
	// triads, Au is gone, AT is new
	"AV": {}, "AC": {}, "AT": {}, "PR": {}, "UI": {},
	"VC": {}, "VI": {}, "VA": {}, "SC": {}, "SI": {}, "SA": {},
	// threat
	"E": {},
	// environmental
	"CR": {}, "IR": {}, "AR": {},
	"MAV": {}, "MAC": {}, "MAT": {}, "MPR": {}, "MUI": {},
	"MVC": {}, "MVI": {}, "MVA": {}, "MSC": {}, "MSI": {}, "MSA": {},
	// supplemental
	"S": {}, "AU": {}, "R": {}, "V": {}, "RE": {}, "U": {},
}

// metricSet reports the allowed codes for ver, or nil when every
// syntactically valid pair should be kept (unrecognized versions).
func metricSet(ver Version) map[string]struct{} {
	switch ver {
	case V20:
		return v2Metrics
	case V30, V31:
		return v3Metrics
	case V40:
		return v4Metrics
	}
	return nil
}
