package gps

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// SystemHost finds USB serial adapters on the local machine.
type SystemHost struct {
	// listPorts is swapped in tests.
	listPorts func() ([]*enumerator.PortDetails, error)
}

func NewSystemHost() *SystemHost {
	return &SystemHost{listPorts: enumerator.GetDetailedPortsList}
}

// Devices groups USB serial ports by vendor/product/serial number, so a
// multi-port bridge shows up as one device with several ports.
func (h *SystemHost) Devices() ([]Device, error) {
	list := h.listPorts
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}
	details, err := list()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	return groupUSBPorts(details), nil
}

func groupUSBPorts(details []*enumerator.PortDetails) []Device {
	byKey := make(map[string]*Device)
	var keys []string
	for _, p := range details {
		if p == nil || !p.IsUSB {
			continue
		}
		vid, err := strconv.ParseUint(strings.TrimSpace(p.VID), 16, 16)
		if err != nil {
			continue
		}
		pid, err := strconv.ParseUint(strings.TrimSpace(p.PID), 16, 16)
		if err != nil {
			continue
		}
		key := fmt.Sprintf("%04x:%04x:%s", vid, pid, p.SerialNumber)
		d, ok := byKey[key]
		if !ok {
			d = &Device{
				Name:      p.Name,
				VendorID:  uint16(vid),
				ProductID: uint16(pid),
				Serial:    p.SerialNumber,
				Product:   p.Product,
			}
			byKey[key] = d
			keys = append(keys, key)
		}
		d.Ports = append(d.Ports, p.Name)
	}
	sort.Strings(keys)
	out := make([]Device, 0, len(keys))
	for _, k := range keys {
		d := byKey[k]
		sort.Strings(d.Ports)
		d.Name = d.Ports[0]
		out = append(out, *d)
	}
	return out
}

func (h *SystemHost) HasPermission(dev Device) bool {
	if len(dev.Ports) == 0 {
		// Nothing to check; Connect reports ErrNoPort.
		return true
	}
	return canAccess(dev.Ports[0])
}

// RequestPermission cannot grant anything on a desktop OS; it tells the
// operator what to fix while Connect polls.
func (h *SystemHost) RequestPermission(dev Device) error {
	log.Warn().
		Str("device", dev.Name).
		Str("hint", permissionHint).
		Msg("gps serial port not accessible, waiting for permission")
	return nil
}

// Open re-enumerates so a receiver unplugged during the permission wait is
// reported instead of failing later on the first read.
func (h *SystemHost) Open(dev Device) (DeviceConn, error) {
	devs, err := h.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devs {
		if d.VendorID == dev.VendorID && d.ProductID == dev.ProductID && d.Serial == dev.Serial {
			return systemConn{ports: d.Ports}, nil
		}
	}
	return nil, fmt.Errorf("device %s is no longer attached", dev)
}

type systemConn struct {
	ports []string
}

func (c systemConn) Ports() []string {
	return append([]string(nil), c.ports...)
}

func (c systemConn) OpenPort(name string, mode PortMode) (Port, error) {
	sm := &serial.Mode{
		BaudRate: mode.BaudRate,
		DataBits: mode.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	switch mode.Parity {
	case OddParity:
		sm.Parity = serial.OddParity
	case EvenParity:
		sm.Parity = serial.EvenParity
	}
	if mode.StopBits == TwoStopBits {
		sm.StopBits = serial.TwoStopBits
	}
	p, err := serial.Open(name, sm)
	if err != nil {
		return nil, fmt.Errorf("serial open %s: %w", name, err)
	}
	return p, nil
}
