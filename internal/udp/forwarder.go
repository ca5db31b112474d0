// Package udp re-broadcasts received NMEA sentences as UDP datagrams, one
// sentence per datagram, for chart plotters and other NMEA-0183 consumers.
package udp

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"gnss-survey/internal/nmea"
)

type udpConn interface {
	io.Writer
	io.Closer
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

type Forwarder struct {
	dest string
	conn udpConn

	// OnlyFixes limits forwarding to GGA sentences.
	OnlyFixes bool

	sent     atomic.Uint64
	failures atomic.Uint64

	errMu   sync.Mutex
	lastErr string
}

func NewForwarder(dest string) (*Forwarder, error) {
	return newForwarder(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newForwarder(dest string, resolve resolveFunc, dial dialFunc) (*Forwarder, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &Forwarder{dest: dest, conn: conn}, nil
}

func (f *Forwarder) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := f.conn.Write(payload)
	return err
}

// PublishFix is a bus fix subscriber. Write errors are counted, not
// returned, since the reader goroutine has no one to report them to.
func (f *Forwarder) PublishFix(fix nmea.Fix) {
	if f == nil || len(fix.Fields) == 0 {
		return
	}
	if f.OnlyFixes && !nmea.IsFixType(fix.Type) {
		return
	}
	if err := f.Send([]byte(fix.Sentence() + "\r\n")); err != nil {
		if f.failures.Add(1) == 1 {
			log.Warn().Err(err).Str("dest", f.dest).Msg("udp forward failed")
		}
		f.errMu.Lock()
		f.lastErr = err.Error()
		f.errMu.Unlock()
		return
	}
	f.sent.Add(1)
}

type Stats struct {
	Dest      string `json:"dest"`
	Sent      uint64 `json:"sent"`
	Failures  uint64 `json:"failures"`
	LastError string `json:"last_error,omitempty"`
}

func (f *Forwarder) Stats() Stats {
	f.errMu.Lock()
	last := f.lastErr
	f.errMu.Unlock()
	return Stats{Dest: f.dest, Sent: f.sent.Load(), Failures: f.failures.Load(), LastError: last}
}

func (f *Forwarder) Close() error {
	if f == nil || f.conn == nil {
		return nil
	}
	return f.conn.Close()
}
