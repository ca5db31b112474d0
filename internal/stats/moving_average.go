package stats

import (
	"math"
	"sync"
)

// MovingAverage is a fixed-capacity ring of samples. Once full, each Push
// overwrites the oldest sample.
type MovingAverage struct {
	mu   sync.Mutex
	buf  []float64
	next int
	n    int
}

func NewMovingAverage(capacity int) *MovingAverage {
	if capacity <= 0 {
		capacity = 1
	}
	return &MovingAverage{buf: make([]float64, capacity)}
}

func (m *MovingAverage) Push(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf[m.next] = v
	m.next = (m.next + 1) % len(m.buf)
	if m.n < len(m.buf) {
		m.n++
	}
}

// Average returns the mean of the held samples rounded to one decimal.
// ok is false until at least one sample has been pushed.
func (m *MovingAverage) Average() (avg float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.n == 0 {
		return 0, false
	}
	sum := 0.0
	for i := 0; i < m.n; i++ {
		sum += m.buf[i]
	}
	return math.Round(sum/float64(m.n)*10) / 10, true
}

// Clear forgets all samples; the backing array is reused.
func (m *MovingAverage) Clear() {
	m.mu.Lock()
	m.next = 0
	m.n = 0
	m.mu.Unlock()
}

func (m *MovingAverage) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}

func (m *MovingAverage) Cap() int {
	return len(m.buf)
}

// Samples returns the held samples oldest first.
func (m *MovingAverage) Samples() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, 0, m.n)
	start := 0
	if m.n == len(m.buf) {
		start = m.next
	}
	for i := 0; i < m.n; i++ {
		out = append(out, m.buf[(start+i)%len(m.buf)])
	}
	return out
}
