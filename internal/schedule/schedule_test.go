package schedule

import (
	"strings"
	"testing"
	"time"
)

func TestFormatWinterOffset(t *testing.T) {
	// 2026-01-15 12:00 UTC is 13:00 CET.
	in := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	got := Format(in)
	if !strings.HasSuffix(got, "+01:00") {
		t.Errorf("Format(%v) = %q, want +01:00 offset", in, got)
	}
}

func TestFormatSummerOffset(t *testing.T) {
	if paris.String() != zoneName {
		t.Skip("tzdata unavailable, fixed-zone fallback in use")
	}
	// 2026-07-15 12:00 UTC is 14:00 CEST.
	in := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)
	got := Format(in)
	if !strings.HasSuffix(got, "+02:00") {
		t.Errorf("Format(%v) = %q, want +02:00 offset", in, got)
	}
}

func TestFormatAcrossDSTBoundary(t *testing.T) {
	if paris.String() != zoneName {
		t.Skip("tzdata unavailable, fixed-zone fallback in use")
	}
	// Clocks advance at 2026-03-29 01:00 UTC.
	before := Format(time.Date(2026, 3, 29, 0, 30, 0, 0, time.UTC))
	after := Format(time.Date(2026, 3, 29, 1, 30, 0, 0, time.UTC))
	if !strings.HasSuffix(before, "+01:00") {
		t.Errorf("before transition: %q, want +01:00", before)
	}
	if !strings.HasSuffix(after, "+02:00") {
		t.Errorf("after transition: %q, want +02:00", after)
	}
}

func TestParseRoundTrip(t *testing.T) {
	in := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)
	got, err := Parse(Format(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !got.Equal(in) {
		t.Errorf("round trip = %v, want %v", got, in)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("not a timestamp"); err == nil {
		t.Error("expected error for malformed input")
	}
}
