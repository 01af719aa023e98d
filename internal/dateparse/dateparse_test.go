package dateparse

import (
	"testing"
	"time"
)

// Fixed reference time: Wednesday, 2026-02-18 12:00:00 UTC
var testNow = time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)

func TestParseDateFrom(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"2026-03-01", "2026-03-01"},
		{"today", "2026-02-18"},
		{"tomorrow", "2026-02-19"},
		{"yesterday", "2026-02-17"},
		{"next-week", "2026-02-23"},  // next Monday from Wed Feb 18
		{"next-month", "2026-03-01"}, // 1st of next month
		{"+0d", "2026-02-18"},
		{"+7d", "2026-02-25"},
		{"-1d", "2026-02-17"},
		{"+2w", "2026-03-04"},
		{"-1w", "2026-02-11"},
		{"+1m", "2026-03-18"},
		{"-2m", "2025-12-18"},
		{"  Tomorrow  ", "2026-02-19"},
	}
	for _, tt := range tests {
		got, err := ParseDateFrom(tt.input, testNow)
		if err != nil {
			t.Errorf("ParseDateFrom(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDateFrom(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseDate_MonthEndOverflow(t *testing.T) {
	// AddDate normalizes Jan 31 + 1 month past the end of February.
	jan31 := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)
	got, err := ParseDateFrom("+1m", jan31)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "2026-03-03" {
		t.Errorf("Jan 31 + 1m = %q, want %q", got, "2026-03-03")
	}
}

func TestParseDate_DayNames(t *testing.T) {
	// testNow is Wednesday 2026-02-18
	tests := []struct {
		input string
		want  string
	}{
		{"monday", "2026-02-23"},
		{"tue", "2026-02-24"},
		{"wednesday", "2026-02-25"}, // not today
		{"THURSDAY", "2026-02-19"},
		{"fri", "2026-02-20"},
		{"saturday", "2026-02-21"},
		{"Sun", "2026-02-22"},
	}
	for _, tt := range tests {
		got, err := ParseDateFrom(tt.input, testNow)
		if err != nil {
			t.Errorf("ParseDateFrom(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDateFrom(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseDate_NextWeekOnMonday(t *testing.T) {
	monday := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)
	got, err := ParseDateFrom("next-week", monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "2026-02-23" {
		t.Errorf("next-week on Monday = %q, want %q", got, "2026-02-23")
	}
}

func TestParseDate_NextMonthFromDecember(t *testing.T) {
	dec := time.Date(2025, 12, 15, 12, 0, 0, 0, time.UTC)
	got, err := ParseDateFrom("next-month", dec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "2026-01-01" {
		t.Errorf("next-month from December = %q, want %q", got, "2026-01-01")
	}
}

func TestParseDate_Errors(t *testing.T) {
	invalids := []string{
		"",
		"next year",
		"+3x",
		"notaday",
		"2026/03/01",
		"2026-02-30",
		"+d",
		"-w",
		"+-1d",
	}
	for _, input := range invalids {
		if _, err := ParseDateFrom(input, testNow); err == nil {
			t.Errorf("ParseDateFrom(%q): expected error, got nil", input)
		}
	}
}

func TestParseDate_UsesCurrentTime(t *testing.T) {
	result, err := ParseDate("today")
	if err != nil {
		t.Fatalf("ParseDate('today'): unexpected error: %v", err)
	}
	if expected := time.Now().Format("2006-01-02"); result != expected {
		t.Errorf("ParseDate('today') = %q, want %q", result, expected)
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"14:30", "14:30"},
		{"9:05", "09:05"},
		{"00:00", "00:00"},
		{"9am", "09:00"},
		{"12am", "00:00"},
		{"12pm", "12:00"},
		{"9:15pm", "21:15"},
		{"9:15 PM", "21:15"},
		{"noon", "12:00"},
		{"midnight", "00:00"},
	}
	for _, tt := range tests {
		got, err := ParseTime(tt.input)
		if err != nil {
			t.Errorf("ParseTime(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTime(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseTime_Errors(t *testing.T) {
	invalids := []string{"", "9", "24:00", "13pm", "0am", "9:5", "9:60", "ten"}
	for _, input := range invalids {
		if _, err := ParseTime(input); err == nil {
			t.Errorf("ParseTime(%q): expected error, got nil", input)
		}
	}
}
