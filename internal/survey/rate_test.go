package survey

import (
	"testing"
	"time"
)

func TestRateTracker_ShowsAverageBeforePush(t *testing.T) {
	r := NewRateTracker(20)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, ok := r.Observe(base); ok {
		t.Fatalf("first arrival has no rate")
	}
	if _, ok := r.Observe(base.Add(200 * time.Millisecond)); ok {
		t.Fatalf("second arrival displays the empty average")
	}
	hz, ok := r.Observe(base.Add(400 * time.Millisecond))
	if !ok || hz != 5 {
		t.Fatalf("hz=%v ok=%v want 5", hz, ok)
	}
}

func TestRateTracker_SkipsZeroInterval(t *testing.T) {
	r := NewRateTracker(20)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Observe(base)
	r.Observe(base)
	r.Observe(base.Add(time.Second))
	hz, ok := r.Observe(base.Add(2 * time.Second))
	if !ok || hz != 1 {
		t.Fatalf("hz=%v ok=%v want 1", hz, ok)
	}
}

func TestRateTracker_Reset(t *testing.T) {
	r := NewRateTracker(20)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		r.Observe(base.Add(time.Duration(i) * time.Second))
	}
	r.Reset()
	if _, ok := r.Rate(); ok {
		t.Fatalf("rate should be undefined after reset")
	}
	if _, ok := r.Observe(base.Add(10 * time.Second)); ok {
		t.Fatalf("first arrival after reset has no rate")
	}
}
