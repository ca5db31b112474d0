// Package indicator drives a status LED from link and RTK state: off when
// disconnected, blinking while connected without RTK fixed, solid with an
// RTK fixed solution.
package indicator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

type lineDriver interface {
	SetValue(v int) error
	Close() error
}

var openLineFn = openLine

type Mode int

const (
	Off Mode = iota
	Blink
	On
)

func (m Mode) String() string {
	switch m {
	case Blink:
		return "blink"
	case On:
		return "on"
	default:
		return "off"
	}
}

type Config struct {
	// Pin is BCM GPIO numbering.
	Pin int
	// Period is one full blink cycle.
	Period time.Duration
}

type Indicator struct {
	cfg Config

	connected atomic.Bool
	rtk       atomic.Bool

	mu      sync.Mutex
	line    lineDriver
	lastErr string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Indicator {
	if cfg.Pin == 0 {
		cfg.Pin = 17
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Second
	}
	return &Indicator{cfg: cfg}
}

// HandleConnection is a bus status subscriber.
func (i *Indicator) HandleConnection(connected bool) {
	i.connected.Store(connected)
	if !connected {
		i.rtk.Store(false)
	}
}

// HandleRTK is a session RTK transition hook.
func (i *Indicator) HandleRTK(rtk bool) {
	i.rtk.Store(rtk)
}

func (i *Indicator) Mode() Mode {
	switch {
	case !i.connected.Load():
		return Off
	case i.rtk.Load():
		return On
	default:
		return Blink
	}
}

// Start opens the GPIO line and runs the LED loop. It fails only when the
// line cannot be opened.
func (i *Indicator) Start(ctx context.Context) error {
	if i == nil {
		return fmt.Errorf("indicator is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cancel != nil {
		return nil
	}
	line, err := openLineFn(i.cfg.Pin)
	if err != nil {
		i.lastErr = err.Error()
		return err
	}
	i.line = line
	childCtx, cancel := context.WithCancel(ctx)
	i.cancel = cancel

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.loop(childCtx, line)
	}()
	log.Info().Int("pin", i.cfg.Pin).Msg("status indicator enabled")
	return nil
}

func (i *Indicator) loop(ctx context.Context, line lineDriver) {
	tick := time.NewTicker(i.cfg.Period / 2)
	defer tick.Stop()
	phase := 0
	last := -1
	for {
		v := 0
		switch i.Mode() {
		case On:
			v = 1
		case Blink:
			v = phase
		}
		if v != last {
			if err := line.SetValue(v); err != nil {
				i.mu.Lock()
				i.lastErr = err.Error()
				i.mu.Unlock()
			}
			last = v
		}
		phase ^= 1
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func (i *Indicator) LastError() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastErr
}

// Close stops the loop and releases the line with the LED off.
func (i *Indicator) Close() {
	if i == nil {
		return
	}
	i.mu.Lock()
	cancel := i.cancel
	i.cancel = nil
	i.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	i.wg.Wait()

	i.mu.Lock()
	line := i.line
	i.line = nil
	i.mu.Unlock()
	if line != nil {
		_ = line.SetValue(0)
		_ = line.Close()
	}
}
