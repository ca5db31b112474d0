package gps

import (
	"fmt"
	"io"
)

// Device is one attached receiver as reported by a Host.
type Device struct {
	Name      string   `json:"name"`
	VendorID  uint16   `json:"vendor_id"`
	ProductID uint16   `json:"product_id"`
	Serial    string   `json:"serial,omitempty"`
	Product   string   `json:"product,omitempty"`
	Ports     []string `json:"ports"`
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%04x:%04x)", d.Name, d.VendorID, d.ProductID)
}

// Host is the environment a Connection discovers and opens devices through.
type Host interface {
	Devices() ([]Device, error)
	HasPermission(dev Device) bool
	// RequestPermission asks the platform for access. It does not wait;
	// the Connection polls HasPermission afterwards.
	RequestPermission(dev Device) error
	Open(dev Device) (DeviceConn, error)
}

// DeviceConn is an opened device, exposing its serial ports.
type DeviceConn interface {
	Ports() []string
	OpenPort(name string, mode PortMode) (Port, error)
}

// Port is the minimal surface the read loop needs. Close must unblock a
// pending Read.
type Port interface {
	io.ReadCloser
}

// Parity defines serial port parity options.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// StopBits defines serial port stop bit options.
type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

// PortMode defines serial port configuration parameters.
type PortMode struct {
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits StopBits
}

// DefaultPortMode is what the survey receiver speaks: 115200 8N1.
func DefaultPortMode() PortMode {
	return PortMode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   NoParity,
		StopBits: OneStopBit,
	}
}

func (m PortMode) String() string {
	p := "N"
	switch m.Parity {
	case OddParity:
		p = "O"
	case EvenParity:
		p = "E"
	}
	s := 1
	if m.StopBits == TwoStopBits {
		s = 2
	}
	return fmt.Sprintf("%d %d%s%d", m.BaudRate, m.DataBits, p, s)
}
