package tasks

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatError reports a clock string that is not H:MM or HH:MM.
type FormatError struct {
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("duration format error: %q %s", e.Value, e.Reason)
}

// ParseClock converts "H:MM" or "HH:MM" into seconds. The hour is not bounded,
// so the same parser serves both times of day and durations.
func ParseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, &FormatError{Value: s, Reason: "must have exactly one ':'"}
	}
	hourPart, minutePart := parts[0], parts[1]
	if len(hourPart) == 0 || len(hourPart) > 2 {
		return 0, &FormatError{Value: s, Reason: "hour must be 1 or 2 digits"}
	}
	if len(minutePart) != 2 {
		return 0, &FormatError{Value: s, Reason: "minute must be exactly 2 digits"}
	}
	hours, err := parseDigits(hourPart)
	if err != nil {
		return 0, &FormatError{Value: s, Reason: "hour is not a number"}
	}
	minutes, err := parseDigits(minutePart)
	if err != nil {
		return 0, &FormatError{Value: s, Reason: "minute is not a number"}
	}
	return hours*3600 + minutes*60, nil
}

// parseDigits rejects signs, which strconv.Atoi would otherwise accept.
func parseDigits(s string) (int, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}
