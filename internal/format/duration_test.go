package format

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{0, "0s"},
		{-5 * time.Second, "0s"},
		{42 * time.Second, "42s"},
		{59*time.Second + 900*time.Millisecond, "59s"},
		{time.Minute, "1m"},
		{7*time.Minute + 30*time.Second, "7m"},
		{time.Hour, "1h 0m"},
		{3*time.Hour + 12*time.Minute, "3h 12m"},
		{24 * time.Hour, "1d 0h"},
		{53 * time.Hour, "2d 5h"},
	}
	for _, tt := range tests {
		got := Duration(tt.input)
		if got != tt.want {
			t.Errorf("Duration(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := Age(now.Add(-90*time.Second), now); got != "1m" {
		t.Errorf("Age = %q, want %q", got, "1m")
	}
	if got := Age(time.Time{}, now); got != "-" {
		t.Errorf("Age(zero) = %q, want %q", got, "-")
	}
}
