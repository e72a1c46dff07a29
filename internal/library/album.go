package library

import (
	"strings"
	"time"
)

// DatePrecision indicates the granularity of a date string.
type DatePrecision int

const (
	PrecisionNone  DatePrecision = iota // No date or invalid
	PrecisionYear                       // "2024"
	PrecisionMonth                      // "2024-05"
	PrecisionDay                        // "2024-05-15"
)

var dateLayouts = map[DatePrecision]string{
	PrecisionYear:  "2006",
	PrecisionMonth: "2006-01",
	PrecisionDay:   "2006-01-02",
}

// ParseDatePrecision returns the precision level of an ISO date string.
func ParseDatePrecision(date string) DatePrecision {
	switch len(date) {
	case 4:
		return PrecisionYear
	case 7:
		return PrecisionMonth
	case 10:
		return PrecisionDay
	default:
		return PrecisionNone
	}
}

// ParseDate parses an ISO date of variable precision.
func ParseDate(date string) (time.Time, DatePrecision) {
	precision := ParseDatePrecision(date)
	if precision == PrecisionNone {
		return time.Time{}, PrecisionNone
	}
	t, err := time.Parse(dateLayouts[precision], date)
	if err != nil {
		return time.Time{}, PrecisionNone
	}
	return t, precision
}

// NormalizeDate turns a tag date into the ISO form stored in release_date.
// Slash and dot separators are accepted, and anything after the day (a time
// of day, a timezone) is dropped. Unparseable input yields "".
func NormalizeDate(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.NewReplacer("/", "-", ".", "-").Replace(s)
	if len(s) > 10 {
		s = s[:10]
	}
	for len(s) > 0 {
		if _, p := ParseDate(s); p != PrecisionNone {
			return s
		}
		// "2024-13-01" still carries a usable year
		i := strings.LastIndexByte(s, '-')
		if i < 0 {
			return ""
		}
		s = s[:i]
	}
	return ""
}

// BestDate picks between an original and a release date. The more precise
// one wins; at equal precision the original date is preferred.
func BestDate(original, release string) string {
	if ParseDatePrecision(release) > ParseDatePrecision(original) {
		return release
	}
	if original != "" {
		return original
	}
	return release
}
