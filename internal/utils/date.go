package utils

import (
	"fmt"
	"time"
)

// ParseSinceDate parses a lower-bound date string in two formats:
// - Relative: "7d" (days ago)
// - Absolute: "2025-12-15" (YYYY-MM-DD)
//
// Returns the parsed time or an error if the format is invalid.
func ParseSinceDate(since string) (time.Time, error) {
	return parseDate(since, "since")
}

// ParseUntilDate parses an upper-bound date string in the same formats as
// ParseSinceDate. Absolute dates are moved to the end of the named day so
// that --until 2025-12-15 includes messages sent on the 15th.
func ParseUntilDate(until string) (time.Time, error) {
	parsed, err := parseDate(until, "until")
	if err != nil {
		return time.Time{}, err
	}
	if len(until) == len("2006-01-02") {
		parsed = parsed.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return parsed, nil
}

func parseDate(value, label string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("%s date cannot be empty", label)
	}

	// Check for relative format (e.g., "7d")
	if value[len(value)-1] == 'd' {
		days := 0
		_, err := fmt.Sscanf(value, "%dd", &days)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid relative date format '%s': expected format like '7d'", value)
		}
		if days < 0 {
			return time.Time{}, fmt.Errorf("days cannot be negative: %d", days)
		}
		return time.Now().AddDate(0, 0, -days), nil
	}

	// Try absolute format (YYYY-MM-DD)
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format '%s': expected 'YYYY-MM-DD' or relative format like '7d'", value)
	}

	return parsed, nil
}
