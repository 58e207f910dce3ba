package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(8)
	for i := 1; i <= 8; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}

	if got := tracker.Percentile(100); got != 8*time.Millisecond {
		t.Fatalf("p100 = %v, want 8ms", got)
	}
	if got := tracker.Percentile(0); got != 1*time.Millisecond {
		t.Fatalf("p0 = %v, want 1ms", got)
	}
	if got := tracker.Percentile(50); got < 4*time.Millisecond || got > 5*time.Millisecond {
		t.Fatalf("p50 = %v, want ~4-5ms", got)
	}
}

func TestLatencyTrackerEviction(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 1; i <= 5; i++ {
		tracker.Observe(time.Duration(i) * time.Second)
	}
	if tracker.Count() != 3 {
		t.Fatalf("count = %d, want 3", tracker.Count())
	}
	// Oldest two samples were evicted.
	if got := tracker.Percentile(0); got != 3*time.Second {
		t.Fatalf("p0 = %v, want 3s", got)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	tracker := NewLatencyTracker(4)
	if got := tracker.Percentile(95); got != 0 {
		t.Fatalf("empty tracker p95 = %v, want 0", got)
	}
}
