// Package replay records the raw byte stream read from a GNSS receiver and
// plays it back as if it came from a serial port.
package replay
