package survey

import (
	"sync"
	"time"

	"gnss-survey/internal/stats"
)

// RateTracker estimates the fix rate in Hz from the arrival times of valid
// fixes, smoothed over a fixed window.
type RateTracker struct {
	mu   sync.Mutex
	avg  *stats.MovingAverage
	last time.Time

	shown   float64
	shownOK bool
}

func NewRateTracker(window int) *RateTracker {
	if window <= 0 {
		window = 20
	}
	return &RateTracker{avg: stats.NewMovingAverage(window)}
}

// Observe records a fix arrival. The returned rate is the average before
// this arrival's sample is added, which is what gets displayed.
func (r *RateTracker) Observe(at time.Time) (hz float64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.last.IsZero() {
		r.shown, r.shownOK = r.avg.Average()
		if ms := at.Sub(r.last).Milliseconds(); ms > 0 {
			r.avg.Push(1000.0 / float64(ms))
		}
	}
	r.last = at
	return r.shown, r.shownOK
}

// Rate returns the last displayed rate.
func (r *RateTracker) Rate() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shown, r.shownOK
}

// Reset drops all samples and the previous arrival time.
func (r *RateTracker) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.avg.Clear()
	r.last = time.Time{}
	r.shown, r.shownOK = 0, false
}
