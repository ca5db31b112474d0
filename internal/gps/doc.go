// Package gps owns the link to the GNSS receiver.
//
// Connection walks the device through discovery, permission, and port
// configuration, then runs the blocking read loop that feeds raw bytes to
// the NMEA reassembler and publishes every parsed sentence on the bus.
//
// Hosts abstract where devices come from:
//   - SystemHost enumerates USB serial adapters (go.bug.st/serial)
//   - GPSDHost streams raw NMEA from a gpsd instance
//   - replay.Host plays back a capture log
package gps
