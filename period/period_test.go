package period_test

import (
	"testing"
	"time"

	"github.com/brandforge/ledger/period"
)

func TestKeyFor(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want period.Key
	}{
		{"mid-month", time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC), "2024-05"},
		{"first instant", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), "2024-05"},
		{"last instant", time.Date(2024, 5, 31, 23, 59, 59, 0, time.UTC), "2024-05"},
		{"year boundary", time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC), "2023-12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := period.KeyFor(tt.t); got != tt.want {
				t.Errorf("KeyFor(%v) = %q, want %q", tt.t, got, tt.want)
			}
		})
	}
}

func TestKeyForTimeZone(t *testing.T) {
	// 2024-06-01 03:00 UTC is still 2024-05-31 in Los Angeles. The month a
	// reservation lands in depends on the zone the caller converts to first.
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	utcInstant := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)

	if got := period.KeyFor(utcInstant); got != "2024-06" {
		t.Errorf("UTC key = %q, want 2024-06", got)
	}
	if got := period.KeyFor(utcInstant.In(la)); got != "2024-05" {
		t.Errorf("LA key = %q, want 2024-05", got)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    period.Key
		wantErr bool
	}{
		{"2024-05", "2024-05", false},
		{"2024-12", "2024-12", false},
		{"2024-13", "", true},
		{"2024-5", "", true},
		{"may 2024", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := period.Parse(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got %q", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNextPrev(t *testing.T) {
	k := period.MustParse("2024-05")

	if got := k.Next(); got != "2024-06" {
		t.Errorf("Next = %q, want 2024-06", got)
	}
	if got := k.Prev(); got != "2024-04" {
		t.Errorf("Prev = %q, want 2024-04", got)
	}

	// year rollover in both directions
	if got := period.MustParse("2024-12").Next(); got != "2025-01" {
		t.Errorf("Next across year = %q, want 2025-01", got)
	}
	if got := period.MustParse("2024-01").Prev(); got != "2023-12" {
		t.Errorf("Prev across year = %q, want 2023-12", got)
	}
}

func TestStart(t *testing.T) {
	start, err := period.Key("2024-05").Start(time.UTC)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	want := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("Start = %v, want %v", start, want)
	}
}

func TestValid(t *testing.T) {
	if !period.Key("2024-05").Valid() {
		t.Error("2024-05 should be valid")
	}
	if period.Key("garbage").Valid() {
		t.Error("garbage should not be valid")
	}
	if period.Key("").Valid() {
		t.Error("empty key should not be valid")
	}
}
