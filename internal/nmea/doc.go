// Package nmea turns the raw byte stream of a serial GNSS receiver into
// sentences and decodes the positioning fixes the survey logger cares about.
//
// It is intentionally small:
//   - Reassembler splits chunked reads on CRLF and resyncs on '$'
//   - ParseFix decodes GGA latitude/longitude/fix quality
//   - DecodeDetails pulls satellites/HDOP/altitude for status display
package nmea
