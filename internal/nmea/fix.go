package nmea

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is wrapped by ParseFix when a positioning sentence carries
// numeric fields that cannot be decoded.
var ErrMalformed = errors.New("nmea: malformed sentence")

// FixType is the sentence suffix that carries a positioning fix.
const FixType = "GGA"

// Fix is one decoded sentence.
//
// Valid is true only for GGA sentences with enough fields to decode
// coordinates; for everything else Lat/Lon hold the sentinel -1.
type Fix struct {
	// Fields is the comma-split sentence, field 0 included (e.g. "$GPGGA").
	Fields  []string `json:"fields"`
	Type    string   `json:"type"`
	Quality string   `json:"quality,omitempty"`
	Lat     float64  `json:"lat"`
	Lon     float64  `json:"lon"`
	Valid   bool     `json:"valid"`

	// At is when the sentence was read off the wire. Zero when unknown.
	At time.Time `json:"at,omitempty"`
}

// Sentence rebuilds the raw sentence text (without CRLF).
func (f Fix) Sentence() string {
	return strings.Join(f.Fields, ",")
}

// IsFixType reports whether a sentence type (field 0, e.g. "$GNGGA") is a
// positioning fix from any talker.
func IsFixType(t string) bool {
	return len(t) == 6 && t[0] == '$' && strings.EqualFold(t[3:], FixType)
}

// GGA: Global Positioning System Fix Data
// Fields:
//
//	0: $ + talker + type
//	1: time
//	2: latitude (ddmm.mmmm)
//	3: N/S
//	4: longitude (dddmm.mmmm)
//	5: E/W
//	6: fix quality (0=invalid, 4=RTK fixed, 5=RTK float)
//	7..: satellites, HDOP, altitude, ... (passed through untouched)
func ParseFix(sentence string) (Fix, error) {
	fields := strings.Split(sentence, ",")
	fix := Fix{Fields: fields, Type: fields[0], Lat: -1, Lon: -1}
	if !IsFixType(fix.Type) || len(fields) <= 6 {
		return fix, nil
	}

	lat, err := parseDegMin(fields[2], 2)
	if err != nil {
		return Fix{}, fmt.Errorf("%w: latitude %q: %v", ErrMalformed, fields[2], err)
	}
	lon, err := parseDegMin(fields[4], 3)
	if err != nil {
		return Fix{}, fmt.Errorf("%w: longitude %q: %v", ErrMalformed, fields[4], err)
	}
	if strings.EqualFold(strings.TrimSpace(fields[3]), "S") {
		lat = -lat
	}
	if strings.EqualFold(strings.TrimSpace(fields[5]), "W") {
		lon = -lon
	}

	fix.Lat = lat
	fix.Lon = lon
	fix.Quality = fields[6]
	fix.Valid = true
	return fix, nil
}

// parseDegMin converts a (d)ddmm.mmmm field to decimal degrees, taking the
// first degDigits characters as whole degrees.
func parseDegMin(v string, degDigits int) (float64, error) {
	v = strings.TrimSpace(v)
	if len(v) <= degDigits {
		return 0, fmt.Errorf("want more than %d characters", degDigits)
	}
	deg, err := strconv.ParseFloat(v[:degDigits], 64)
	if err != nil {
		return 0, err
	}
	mins, err := strconv.ParseFloat(v[degDigits:], 64)
	if err != nil {
		return 0, err
	}
	return deg + mins/60.0, nil
}
