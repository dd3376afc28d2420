package normalizer

import (
	"fmt"
	"strings"
	"time"
)

const (
	minYear = 1900
	maxYear = 2100
)

// acceptedFormats is the user-facing list rendered into parse errors.
const acceptedFormats = "dd/mm/yyyy, dd-mm-yyyy, dd.mm.yyyy, yyyy-mm-dd, dd/mm/yy"

type datePattern struct {
	layout       string
	twoDigitYear bool
}

// Patterns are tried in order; the first exact round-trip match wins.
var datePatterns = []datePattern{
	{layout: "02/01/2006"},
	{layout: "02-01-2006"},
	{layout: "02.01.2006"},
	{layout: "2006-01-02"},
	{layout: "02/01/06", twoDigitYear: true},
}

// fallbackLayouts are the generic formats tried after the Brazilian patterns.
var fallbackLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"2 Jan 2006",
	"Jan 2, 2006",
}

// ParseDate converts a Brazilian-locale date string into a calendar date.
// Each pattern match is validated by formatting the reconstructed date back
// and comparing it to the input, which rejects impossible combinations such
// as day 31 in a 30-day month. Two-digit years are anchored to 2000.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date: accepted formats are %s", acceptedFormats)
	}

	for _, p := range datePatterns {
		t, err := time.Parse(p.layout, s)
		if err != nil {
			continue
		}
		if p.twoDigitYear {
			// time.Parse anchors 69-99 to the 1900s; the statement convention
			// is always the 2000s.
			t = time.Date(2000+t.Year()%100, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
		if t.Format(p.layout) != s {
			continue
		}
		if t.Year() < minYear || t.Year() > maxYear {
			continue
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}

	for _, layout := range fallbackLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() < minYear || t.Year() > maxYear {
			continue
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized date %q: accepted formats are %s", raw, acceptedFormats)
}
