package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// legacyDateRegex matches the OData v2 wire format /Date(milliseconds[+-zzzz])/.
var legacyDateRegex = regexp.MustCompile(`^/Date\((-?\d+)([\+\-]\d{4})?\)/$`)

// IsLegacyDate reports whether s is in the OData v2 legacy date format.
func IsLegacyDate(s string) bool {
	return legacyDateRegex.MatchString(s)
}

// ParseLegacyDate extracts milliseconds and the optional offset suffix.
func ParseLegacyDate(s string) (ms int64, offset string, ok bool) {
	matches := legacyDateRegex.FindStringSubmatch(s)
	if len(matches) < 2 {
		return 0, "", false
	}
	ms, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, "", false
	}
	if len(matches) > 2 {
		offset = matches[2]
	}
	return ms, offset, true
}

// LegacyToISO converts /Date(ms)/ to ISO 8601 UTC. Values with an explicit
// offset are shifted into that offset before formatting. Non-legacy input
// is returned unchanged.
func LegacyToISO(s string) string {
	ms, offset, ok := ParseLegacyDate(s)
	if !ok {
		return s
	}
	t := time.UnixMilli(ms).UTC()
	if offset != "" {
		if loc, err := parseOffset(offset); err == nil {
			t = t.In(loc)
		}
	}
	return t.Format(time.RFC3339)
}

// ISOToLegacy converts an ISO 8601 date or datetime to the legacy wire form.
// Non-ISO input is returned unchanged.
func ISOToLegacy(s string) string {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return fmt.Sprintf("/Date(%d)/", t.UnixMilli())
		}
	}
	return s
}

// IsISODateTime reports whether s looks like an ISO 8601 date or datetime.
func IsISODateTime(s string) bool {
	if len(s) < 10 || s[4] != '-' || s[7] != '-' {
		return false
	}
	if len(s) == 10 {
		return true
	}
	return s[10] == 'T' || s[10] == ' '
}

func parseOffset(offset string) (*time.Location, error) {
	if len(offset) != 5 {
		return nil, fmt.Errorf("bad offset %q", offset)
	}
	hours, err := strconv.Atoi(offset[1:3])
	if err != nil {
		return nil, err
	}
	minutes, err := strconv.Atoi(offset[3:5])
	if err != nil {
		return nil, err
	}
	seconds := hours*3600 + minutes*60
	if offset[0] == '-' {
		seconds = -seconds
	}
	return time.FixedZone(offset, seconds), nil
}
