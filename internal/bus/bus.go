// Package bus decouples the serial connection from whoever consumes its
// events: connection-status changes and freshly parsed fixes.
//
// Subscriptions are append-only for the lifetime of a Bus. Publishing calls
// every subscriber synchronously, in registration order, on the publishing
// goroutine, so subscribers must return quickly.
package bus

import (
	"sync"

	"gnss-survey/internal/nmea"
)

type Bus struct {
	mu   sync.RWMutex
	conn []func(connected bool)
	fix  []func(fix nmea.Fix)
}

func New() *Bus {
	return &Bus{}
}

func (b *Bus) OnConnectionChange(fn func(connected bool)) {
	if b == nil || fn == nil {
		return
	}
	b.mu.Lock()
	b.conn = append(b.conn, fn)
	b.mu.Unlock()
}

func (b *Bus) OnFix(fn func(fix nmea.Fix)) {
	if b == nil || fn == nil {
		return
	}
	b.mu.Lock()
	b.fix = append(b.fix, fn)
	b.mu.Unlock()
}

func (b *Bus) PublishConnection(connected bool) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := b.conn
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(connected)
	}
}

func (b *Bus) PublishFix(fix nmea.Fix) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := b.fix
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(fix)
	}
}

// Counts reports how many subscribers of each kind are registered.
func (b *Bus) Counts() (connection, fix int) {
	if b == nil {
		return 0, 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conn), len(b.fix)
}
