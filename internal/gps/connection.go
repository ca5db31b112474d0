package gps

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"gnss-survey/internal/bus"
	"gnss-survey/internal/nmea"
)

// Connect failure reasons. A *ConnectError wraps exactly one of these.
var (
	ErrNoDeviceFound    = errors.New("no device found")
	ErrNoMatchingDriver = errors.New("no matching driver")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoConnection     = errors.New("device open failed")
	ErrNoPort           = errors.New("device exposes no serial port")
	ErrPortOpenFailed   = errors.New("serial port open failed")

	ErrNotConnected   = errors.New("gps not connected")
	ErrAlreadyRunning = errors.New("gps read loop already running")
)

// ConnectError reports which Connect step failed and the underlying cause.
type ConnectError struct {
	Reason error
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return "gps connect: " + e.Reason.Error()
	}
	return fmt.Sprintf("gps connect: %v: %v", e.Reason, e.Err)
}

// Is matches the failure reason; Unwrap exposes the cause.
func (e *ConnectError) Is(target error) bool { return target == e.Reason }

func (e *ConnectError) Unwrap() error { return e.Err }

type State int

const (
	Disconnected State = iota
	Discovering
	RequestingPermission
	Opening
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Discovering:
		return "discovering"
	case RequestingPermission:
		return "requesting_permission"
	case Opening:
		return "opening"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config controls device selection and the read loop.
//
// A zero VendorID or ProductID matches any device; hosts without USB
// identity (gpsd, replay) rely on that.
type Config struct {
	VendorID  uint16
	ProductID uint16
	Mode      PortMode

	PermissionTimeout time.Duration
	PermissionPoll    time.Duration

	ReadBufferSize int
	MaxPending     int
}

func (c Config) withDefaults() Config {
	if c.Mode.BaudRate == 0 {
		c.Mode = DefaultPortMode()
	}
	if c.PermissionTimeout <= 0 {
		c.PermissionTimeout = 10 * time.Second
	}
	if c.PermissionPoll <= 0 {
		c.PermissionPoll = 10 * time.Millisecond
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 1024
	}
	return c
}

func (c Config) matches(d Device) bool {
	if c.VendorID != 0 && d.VendorID != c.VendorID {
		return false
	}
	if c.ProductID != 0 && d.ProductID != c.ProductID {
		return false
	}
	return true
}

type Snapshot struct {
	State     string  `json:"state"`
	Connected bool    `json:"connected"`
	Device    *Device `json:"device,omitempty"`
	Port      string  `json:"port,omitempty"`
	Mode      string  `json:"mode,omitempty"`

	Bytes       uint64 `json:"bytes"`
	Sentences   uint64 `json:"sentences"`
	ParseErrors uint64 `json:"parse_errors"`
	Overflows   uint64 `json:"overflows"`

	LastSentenceUTC string `json:"last_sentence_utc,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}

// Connection owns a single receiver link. Fix and status events go to the
// bus on the read goroutine.
type Connection struct {
	cfg  Config
	host Host
	bus  *bus.Bus

	// Tap, when set before Start, receives each raw chunk read from the
	// port. The slice is only valid for the duration of the call.
	Tap func([]byte)

	// now is swapped in tests.
	now func() time.Time

	// connectMu serializes Connect so overlapping calls cannot each
	// install a port.
	connectMu sync.Mutex

	mu       sync.Mutex
	state    State
	device   *Device
	portName string
	port     Port
	lastErr  string
	lastSent time.Time
	cancel   context.CancelFunc
	done     chan struct{}

	// eventMu orders status events and guards connected.
	eventMu   sync.Mutex
	connected bool

	bytes       atomic.Uint64
	sentences   atomic.Uint64
	parseErrors atomic.Uint64
	overflows   atomic.Uint64
}

func NewConnection(cfg Config, host Host, b *bus.Bus) *Connection {
	return &Connection{
		cfg:  cfg.withDefaults(),
		host: host,
		bus:  b,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Connect establishes a new link, tearing down any previous one first. On
// success the state is Connected and a true status event has fired; call
// Start (or Run) to begin reading.
func (c *Connection) Connect(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("gps connection is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	c.Stop()

	c.setState(Discovering)
	devs, err := c.host.Devices()
	if err != nil {
		return c.fail(ErrNoDeviceFound, err)
	}
	if len(devs) == 0 {
		return c.fail(ErrNoDeviceFound, nil)
	}

	var dev *Device
	for i := range devs {
		if c.cfg.matches(devs[i]) {
			dev = &devs[i]
			break
		}
	}
	if dev == nil {
		return c.fail(ErrNoMatchingDriver, fmt.Errorf("want %04x:%04x, found %d device(s)", c.cfg.VendorID, c.cfg.ProductID, len(devs)))
	}
	log.Debug().Str("device", dev.String()).Msg("gps device found")

	if !c.host.HasPermission(*dev) {
		c.setState(RequestingPermission)
		if err := c.awaitPermission(ctx, *dev); err != nil {
			return c.fail(ErrPermissionDenied, err)
		}
	}

	c.setState(Opening)
	dc, err := c.host.Open(*dev)
	if err != nil {
		return c.fail(ErrNoConnection, err)
	}
	ports := dc.Ports()
	if len(ports) == 0 {
		return c.fail(ErrNoPort, nil)
	}
	port, err := dc.OpenPort(ports[0], c.cfg.Mode)
	if err != nil {
		return c.fail(ErrPortOpenFailed, err)
	}

	c.mu.Lock()
	prior := c.port
	d := *dev
	c.device = &d
	c.portName = ports[0]
	c.port = port
	c.state = Connected
	c.lastErr = ""
	c.mu.Unlock()
	if prior != nil && prior != port {
		_ = prior.Close()
	}
	c.bytes.Store(0)
	c.sentences.Store(0)
	c.parseErrors.Store(0)
	c.overflows.Store(0)

	log.Info().
		Str("device", dev.String()).
		Str("port", ports[0]).
		Str("mode", c.cfg.Mode.String()).
		Msg("gps connected")
	c.setConnected(true)
	return nil
}

func (c *Connection) awaitPermission(ctx context.Context, dev Device) error {
	if err := c.host.RequestPermission(dev); err != nil {
		log.Warn().Err(err).Str("device", dev.Name).Msg("gps permission request failed")
	}
	deadline := time.NewTimer(c.cfg.PermissionTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.cfg.PermissionPoll)
	defer tick.Stop()
	for {
		if c.host.HasPermission(dev) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if c.host.HasPermission(dev) {
				return nil
			}
			return fmt.Errorf("not granted within %s", c.cfg.PermissionTimeout)
		case <-tick.C:
		}
	}
}

// Start runs the read loop on its own goroutine. It is a no-op when a loop
// is already running.
func (c *Connection) Start(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("gps connection is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	port := c.port
	if port == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			c.mu.Lock()
			if c.done == done {
				c.cancel = nil
				c.done = nil
			}
			c.mu.Unlock()
			cancel()
		}()
		_ = c.run(runCtx, port)
	}()
	return nil
}

// Run reads on the calling goroutine until the port fails, ctx ends or
// Stop is called. A read failure is returned; cancellation and Stop return
// nil.
func (c *Connection) Run(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("gps connection is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	port := c.port
	if port == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.done == done {
			c.cancel = nil
			c.done = nil
		}
		c.mu.Unlock()
		cancel()
		close(done)
	}()
	stop := context.AfterFunc(runCtx, func() { _ = port.Close() })
	defer stop()
	return c.run(runCtx, port)
}

func (c *Connection) run(ctx context.Context, port Port) error {
	buf := make([]byte, c.cfg.ReadBufferSize)
	r := nmea.NewReassembler(c.cfg.MaxPending)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			c.bytes.Add(uint64(n))
			if c.Tap != nil {
				c.Tap(buf[:n])
			}
			for _, s := range r.Feed(buf[:n]) {
				c.handleSentence(s)
			}
			c.overflows.Store(r.Overflows())
		}
		if ctx.Err() != nil {
			c.dropPort(port, "")
			return nil
		}
		if err != nil {
			c.dropPort(port, err.Error())
			log.Warn().Err(err).Msg("gps read stopped")
			return fmt.Errorf("gps read: %w", err)
		}
		// n == 0 with no error is a read timeout; keep polling.
	}
}

func (c *Connection) handleSentence(s string) {
	fix, err := nmea.ParseFix(s)
	if err != nil {
		c.parseErrors.Add(1)
		log.Debug().Err(err).Str("sentence", s).Msg("nmea sentence dropped")
		return
	}
	fix.At = c.now()
	c.sentences.Add(1)
	c.mu.Lock()
	c.lastSent = fix.At
	c.mu.Unlock()
	c.bus.PublishFix(fix)
}

// dropPort closes port if it is still the current one and fires the false
// status event.
func (c *Connection) dropPort(port Port, reason string) {
	c.mu.Lock()
	if c.port == port {
		c.port = nil
		c.portName = ""
	}
	c.state = Disconnected
	if reason != "" {
		c.lastErr = reason
	}
	c.mu.Unlock()
	_ = port.Close()
	c.setConnected(false)
}

// Stop cancels the read loop, closes the port, and waits for the loop to
// exit. Safe to call when nothing is running.
func (c *Connection) Stop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	port := c.port
	c.cancel = nil
	c.done = nil
	c.port = nil
	c.portName = ""
	c.state = Disconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if port != nil {
		_ = port.Close()
	}
	if done != nil {
		<-done
	}
	c.setConnected(false)
}

// Done is closed when the current read loop exits. With no loop running it
// returns an already-closed channel.
func (c *Connection) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return c.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (c *Connection) State() State {
	if c == nil {
		return Disconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{State: Disconnected.String()}
	}
	c.mu.Lock()
	out := Snapshot{
		State:     c.state.String(),
		Connected: c.state == Connected,
		Port:      c.portName,
		LastError: c.lastErr,
	}
	if c.device != nil {
		d := *c.device
		out.Device = &d
	}
	if c.state == Connected {
		out.Mode = c.cfg.Mode.String()
	}
	if !c.lastSent.IsZero() {
		out.LastSentenceUTC = c.lastSent.Format(time.RFC3339Nano)
	}
	c.mu.Unlock()
	out.Bytes = c.bytes.Load()
	out.Sentences = c.sentences.Load()
	out.ParseErrors = c.parseErrors.Load()
	out.Overflows = c.overflows.Load()
	return out
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) fail(reason, cause error) error {
	err := &ConnectError{Reason: reason, Err: cause}
	c.mu.Lock()
	c.state = Disconnected
	c.lastErr = err.Error()
	c.mu.Unlock()
	log.Warn().Err(err).Msg("gps connect failed")
	return err
}

func (c *Connection) setConnected(v bool) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	if c.connected == v {
		return
	}
	c.connected = v
	c.bus.PublishConnection(v)
}
