package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// errNoDate distinguishes "the feed had no date" from "the feed had a date
// we could not read". Only the latter is a data-quality flag.
var errNoDate = errors.New("no date")

// Feed placeholders that mean "no date".
var datePlaceholders = map[string]struct{}{
	"":     {},
	"null": {},
	"none": {},
	"nan":  {},
	"n/a":  {},
}

// parseDate parses the assorted textual formats the feeds emit and
// normalizes the result to UTC.
//
// dateparse handles the known shapes (RFC 3339, "Jan 02, 2006", US and
// day-first orderings, epoch seconds); anything it rejects reports a
// [cvemart.ErrDateParse]-wrapped error to the caller.
func parseDate(s string) (*time.Time, error) {
	raw := strings.TrimSpace(s)
	if _, empty := datePlaceholders[strings.ToLower(raw)]; empty {
		return nil, errNoDate
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", raw, err)
	}
	u := t.UTC()
	return &u, nil
}
