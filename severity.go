package cvemart

import (
	"bytes"
	"database/sql/driver"
	"fmt"
)

// Severity is a qualitative severity rating.
//
// The zero value, [Unknown], means no CVSS measurement exists for the record
// and renders as "NO CVSS".
type Severity uint

//go:generate go run golang.org/x/tools/cmd/stringer@latest -type=Severity -linecomment

// The defined ratings, ordered.
const (
	Unknown  Severity = iota // NO CVSS
	None                     // NONE
	Low                      // LOW
	Medium                   // MEDIUM
	High                     // HIGH
	Critical                 // CRITICAL
)

// ParseSeverity maps a source-supplied label onto a Severity.
//
// The empty string and anything unrecognized report Unknown and false.
func ParseSeverity(s string) (Severity, bool) {
	var sev Severity
	if err := sev.UnmarshalText(bytes.ToUpper(bytes.TrimSpace([]byte(s)))); err != nil {
		return Unknown, false
	}
	return sev, sev != Unknown
}

// MarshalText implements [encoding.TextMarshaler].
func (s *Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *Severity) UnmarshalText(b []byte) error {
	// This depends on the contents of severity_string.go.
	i := bytes.Index([]byte(_Severity_name), b)
	if i == -1 {
		return fmt.Errorf("unknown severity %q", string(b))
	}
	idx := uint8(i)
	for n, off := range _Severity_index {
		if idx == off {
			*s = Severity(n)
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", string(b))
}

// Value implements [driver.Valuer].
func (s Severity) Value() (driver.Value, error) {
	return s.String(), nil
}

// Scan implements [sql.Scanner].
func (s *Severity) Scan(i interface{}) error {
	switch v := i.(type) {
	case []byte:
		return s.UnmarshalText(v)
	case string:
		return s.UnmarshalText([]byte(v))
	case int64:
		if v >= int64(len(_Severity_index)-1) {
			return fmt.Errorf("unable to scan Severity from enum %d", v)
		}
		*s = Severity(v)
	default:
		return fmt.Errorf("unable to scan Severity from type %T", i)
	}
	return nil
}
