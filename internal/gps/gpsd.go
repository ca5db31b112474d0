package gps

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

// GPSDHost reads the receiver through gpsd instead of owning the tty.
// gpsd is asked for its raw NMEA pass-through so the same reassembler and
// parser see byte-identical input.
type GPSDHost struct {
	Addr string

	dial func(ctx context.Context, addr string) (net.Conn, error)
}

func NewGPSDHost(addr string) *GPSDHost {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	return &GPSDHost{Addr: addr, dial: dialGPSD}
}

// dialGPSD connects to gpsd over TCP.
func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: 2 * time.Second}
	if ctx == nil {
		return d.Dial("tcp", addr)
	}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables raw NMEA streaming.
func gpsdWatch(conn net.Conn) error {
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"nmea\":true}\n"))
	return err
}

// Devices reports gpsd as a single device. It carries no USB identity, so
// a Connection for this host should leave VendorID/ProductID unset.
func (h *GPSDHost) Devices() ([]Device, error) {
	return []Device{{Name: "gpsd", Product: "gpsd " + h.Addr, Ports: []string{h.Addr}}}, nil
}

func (h *GPSDHost) HasPermission(Device) bool { return true }

func (h *GPSDHost) RequestPermission(Device) error { return nil }

func (h *GPSDHost) Open(dev Device) (DeviceConn, error) {
	return gpsdConn{h: h, ports: dev.Ports}, nil
}

type gpsdConn struct {
	h     *GPSDHost
	ports []string
}

func (c gpsdConn) Ports() []string { return append([]string(nil), c.ports...) }

// OpenPort ignores the serial mode; gpsd has already configured the line.
func (c gpsdConn) OpenPort(name string, _ PortMode) (Port, error) {
	dial := c.h.dial
	if dial == nil {
		dial = dialGPSD
	}
	conn, err := dial(context.Background(), name)
	if err != nil {
		return nil, fmt.Errorf("gpsd dial %s: %w", name, err)
	}
	if err := gpsdWatch(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gpsd watch: %w", err)
	}
	return conn, nil
}
