// Package dateparse turns the date and time shorthands accepted on the
// command line into the reminder wire formats (YYYY-MM-DD and HH:MM).
package dateparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/rem/internal/models"
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseDate parses a date relative to now.
//
// Supported formats:
//   - Exact dates: "2026-03-01"
//   - Offsets: "+7d", "-1d", "+2w", "+1m"
//   - Day names: "monday", "fri" (next occurrence, never today)
//   - Keywords: "today", "tomorrow", "yesterday", "next-week", "next-month"
func ParseDate(input string) (string, error) {
	return ParseDateFrom(input, time.Now())
}

// ParseDateFrom is ParseDate against a fixed reference time.
func ParseDateFrom(input string, now time.Time) (string, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return "", fmt.Errorf("empty date input")
	}

	if t, err := time.Parse(models.DateLayout, input); err == nil {
		return formatDate(t), nil
	}

	switch input {
	case "today":
		return formatDate(now), nil
	case "tomorrow":
		return formatDate(now.AddDate(0, 0, 1)), nil
	case "yesterday":
		return formatDate(now.AddDate(0, 0, -1)), nil
	case "next-week":
		return formatDate(now.AddDate(0, 0, daysUntil(now, time.Monday))), nil
	case "next-month":
		year, month, _ := now.Date()
		return formatDate(time.Date(year, month+1, 1, 0, 0, 0, 0, now.Location())), nil
	}

	if input[0] == '+' || input[0] == '-' {
		return parseOffset(input, now)
	}

	if target, ok := weekdays[input]; ok {
		return formatDate(now.AddDate(0, 0, daysUntil(now, target))), nil
	}

	return "", fmt.Errorf("unrecognized date format: %q", input)
}

func parseOffset(input string, now time.Time) (string, error) {
	if len(input) < 3 {
		return "", fmt.Errorf("unrecognized date format: %q", input)
	}
	unit := input[len(input)-1]
	n, err := strconv.Atoi(input[1 : len(input)-1])
	if err != nil || n < 0 {
		return "", fmt.Errorf("unrecognized date format: %q", input)
	}
	if input[0] == '-' {
		n = -n
	}
	switch unit {
	case 'd':
		return formatDate(now.AddDate(0, 0, n)), nil
	case 'w':
		return formatDate(now.AddDate(0, 0, n*7)), nil
	case 'm':
		return formatDate(now.AddDate(0, n, 0)), nil
	}
	return "", fmt.Errorf("unknown relative unit %q in %q (use d, w, or m)", string(unit), input)
}

// daysUntil counts days to the next target weekday, 1 to 7.
func daysUntil(now time.Time, target time.Weekday) int {
	d := (int(target) - int(now.Weekday()) + 7) % 7
	if d == 0 {
		d = 7
	}
	return d
}

// ParseTime parses a time of day: "14:30", "9am", "9:15pm", "noon" or
// "midnight".
func ParseTime(input string) (string, error) {
	s := strings.ReplaceAll(strings.TrimSpace(strings.ToLower(input)), " ", "")
	if s == "" {
		return "", fmt.Errorf("empty time input")
	}
	switch s {
	case "noon":
		return "12:00", nil
	case "midnight":
		return "00:00", nil
	}

	var suffix string
	if strings.HasSuffix(s, "am") || strings.HasSuffix(s, "pm") {
		suffix, s = s[len(s)-2:], s[:len(s)-2]
	}

	hh, mm, found := strings.Cut(s, ":")
	h, err := strconv.Atoi(hh)
	if err != nil {
		return "", fmt.Errorf("unrecognized time format: %q", input)
	}
	m := 0
	if found {
		if len(mm) != 2 {
			return "", fmt.Errorf("unrecognized time format: %q", input)
		}
		if m, err = strconv.Atoi(mm); err != nil || m > 59 {
			return "", fmt.Errorf("unrecognized time format: %q", input)
		}
	} else if suffix == "" {
		return "", fmt.Errorf("unrecognized time format: %q (use HH:MM or 9am)", input)
	}

	switch suffix {
	case "am", "pm":
		if h < 1 || h > 12 {
			return "", fmt.Errorf("hour out of range in %q", input)
		}
		h %= 12
		if suffix == "pm" {
			h += 12
		}
	default:
		if h < 0 || h > 23 {
			return "", fmt.Errorf("hour out of range in %q", input)
		}
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

func formatDate(t time.Time) string {
	return t.Format(models.DateLayout)
}
