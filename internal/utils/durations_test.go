package utils

import (
	"testing"
	"time"
)

func TestDurationTrackerPercentile(t *testing.T) {
	tracker := NewDurationTracker(10)
	for i := 1; i <= 5; i++ {
		tracker.Observe(time.Duration(i*10) * time.Millisecond)
	}
	if tracker.Count() != 5 {
		t.Fatalf("expected count 5, got %d", tracker.Count())
	}
	if p95 := tracker.Percentile(95); p95 < 40*time.Millisecond {
		t.Fatalf("expected p95 >= 40ms, got %v", p95)
	}
	s := tracker.Summary()
	if s.Max != 50*time.Millisecond || s.P50 != 30*time.Millisecond {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestDurationTrackerOverwritesOldest(t *testing.T) {
	tracker := NewDurationTracker(3)
	for i := 0; i < 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 {
		t.Fatalf("expected tracker size 3, got %d", tracker.Count())
	}
	// only 7, 8 and 9 remain
	if got := tracker.Percentile(0); got != 7*time.Millisecond {
		t.Fatalf("expected oldest kept sample 7ms, got %v", got)
	}
	if got := NewDurationTracker(0).Percentile(50); got != 0 {
		t.Fatalf("expected zero without samples, got %v", got)
	}
}
