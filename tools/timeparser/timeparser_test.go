package timeparser_test

import (
	"testing"
	"time"

	"github.com/velotrack/bike-telemetry-worker/tools/timeparser"
)

func TestFromUnixSeconds_Number(t *testing.T) {
	got, err := timeparser.FromUnixSeconds(float64(1767275400))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := time.Unix(1767275400, 0).UTC()
	if !got.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}
}

func TestFromUnixSeconds_Fractional(t *testing.T) {
	got, err := timeparser.FromUnixSeconds(1767275400.5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if got.Unix() != 1767275400 {
		t.Errorf("Expected whole seconds 1767275400, got %d", got.Unix())
	}
	if got.Nanosecond() != int(500*time.Millisecond) {
		t.Errorf("Expected 500ms fraction, got %dns", got.Nanosecond())
	}
}

func TestFromUnixSeconds_Missing(t *testing.T) {
	if _, err := timeparser.FromUnixSeconds(nil); err == nil {
		t.Error("Expected error for missing timestamp")
	}
}

func TestFromUnixSeconds_WrongType(t *testing.T) {
	if _, err := timeparser.FromUnixSeconds("2026-03-14"); err == nil {
		t.Error("Expected error for string timestamp")
	}
}

func TestIsWithinTolerance(t *testing.T) {
	received := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	if !timeparser.IsWithinTolerance(received.Add(-4*time.Minute), received, 5) {
		t.Error("Expected 4 minutes in the past to be within a 5 minute window")
	}
	if !timeparser.IsWithinTolerance(received.Add(5*time.Minute), received, 5) {
		t.Error("Expected exactly 5 minutes in the future to be within the window")
	}
	if timeparser.IsWithinTolerance(received.Add(-6*time.Minute), received, 5) {
		t.Error("Expected 6 minutes in the past to be outside the window")
	}
}
