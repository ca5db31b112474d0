package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"gnss-survey/internal/gps"
)

// Host serves a capture file as a single device with one port. Every
// OpenPort starts playback from the beginning.
type Host struct {
	Path  string
	Speed float64
	Loop  bool

	load    func(path string) ([]Record, error)
	sleeper Sleeper
}

func NewHost(path string, speed float64, loop bool) *Host {
	if speed <= 0 {
		speed = 1
	}
	return &Host{Path: path, Speed: speed, Loop: loop, load: ReadFile}
}

// Devices reports the capture as a device without USB identity, so a
// Connection for this host should leave VendorID/ProductID unset.
func (h *Host) Devices() ([]gps.Device, error) {
	if h == nil || h.Path == "" {
		return nil, nil
	}
	return []gps.Device{{Name: "replay", Product: h.Path, Ports: []string{h.Path}}}, nil
}

func (h *Host) HasPermission(gps.Device) bool { return true }

func (h *Host) RequestPermission(gps.Device) error { return nil }

func (h *Host) Open(dev gps.Device) (gps.DeviceConn, error) {
	recs, err := h.load(h.Path)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("capture %s holds no records", h.Path)
	}
	return &conn{h: h, recs: recs, ports: append([]string(nil), dev.Ports...)}, nil
}

type conn struct {
	h     *Host
	recs  []Record
	ports []string
}

func (c *conn) Ports() []string { return append([]string(nil), c.ports...) }

// OpenPort ignores mode; the capture already holds decoded bytes.
func (c *conn) OpenPort(name string, _ gps.PortMode) (gps.Port, error) {
	if name != c.h.Path {
		return nil, fmt.Errorf("unknown replay port %q", name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	p := &port{pr: pr, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(p.done)
		err := Play(ctx, c.recs, c.h.Speed, c.h.Loop, c.h.sleeper, func(chunk []byte) error {
			_, err := pw.Write(chunk)
			return err
		})
		switch {
		case err == nil:
			log.Info().Str("path", c.h.Path).Msg("replay finished")
			_ = pw.Close()
		case errors.Is(err, context.Canceled), errors.Is(err, io.ErrClosedPipe):
			_ = pw.Close()
		default:
			_ = pw.CloseWithError(err)
		}
	}()
	return p, nil
}

// port reads from a pipe fed by the playback goroutine. The end of a
// non-looping capture surfaces as io.EOF.
type port struct {
	pr     *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (p *port) Read(b []byte) (int, error) { return p.pr.Read(b) }

func (p *port) Close() error {
	p.once.Do(func() {
		p.cancel()
		_ = p.pr.Close()
		<-p.done
	})
	return nil
}
