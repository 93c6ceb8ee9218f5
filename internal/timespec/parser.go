// Package timespec parses operator time flags such as --since and --until.
package timespec

import (
	"fmt"
	"time"
)

// dateLayout is the date-only form accepted for event dates.
const dateLayout = "2006-01-02"

// Parse parses a time specification relative to now.
// Supports three formats:
//   - Go duration format: "24h", "30m", "1h30m" (subtracted from now, so "24h" means a day ago)
//   - RFC3339 timestamps: "2025-10-29T13:00:00Z"
//   - dates: "2024-03-01" (midnight UTC)
func Parse(spec string, now time.Time) (time.Time, error) {
	if spec == "" {
		return time.Time{}, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UTC(), nil
	}

	if t, err := time.Parse(dateLayout, spec); err == nil {
		return t.UTC(), nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("negative duration: %s", spec)
		}
		return now.Add(-d).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("invalid time specification: %s (use a duration like '24h', a date like '2024-03-01' or RFC3339 like '2025-10-29T13:00:00Z')", spec)
}

// ParseRange parses both --since and --until flags into a time range.
// Zero values indicate "no bound" for that end of the range.
//
// Validates that since is not after until if both are specified.
func ParseRange(since, until string, now time.Time) (time.Time, time.Time, error) {
	var sinceT, untilT time.Time
	var err error

	if since != "" {
		sinceT, err = Parse(since, now)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --since: %w", err)
		}
	}

	if until != "" {
		untilT, err = Parse(until, now)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if !sinceT.IsZero() && !untilT.IsZero() && sinceT.After(untilT) {
		return time.Time{}, time.Time{}, fmt.Errorf("--since must not be after --until")
	}

	return sinceT, untilT, nil
}
