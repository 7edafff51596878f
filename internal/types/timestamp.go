package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimestamp parses "HH:MM:SS[.mmm]" into seconds.
func ParseTimestamp(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q: expected HH:MM:SS[.mmm]", s)
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: bad hours: %w", s, err)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: bad minutes: %w", s, err)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: bad seconds: %w", s, err)
	}

	return float64(hours*3600+minutes*60) + seconds, nil
}

// FormatSeconds formats seconds as "HH:MM:SS.mmm".
func FormatSeconds(totalSeconds float64) string {
	if totalSeconds < 0 {
		totalSeconds = 0
	}
	d := time.Duration(totalSeconds * float64(time.Second))
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	secs := d.Seconds()
	return fmt.Sprintf("%02d:%02d:%06.3f", hours, minutes, secs)
}
