package nmea

import (
	"fmt"

	gonmea "github.com/adrianmo/go-nmea"
)

// Details are the GGA fields beyond coordinates that the status page shows.
type Details struct {
	Time       string  `json:"time"`
	Satellites int64   `json:"satellites"`
	HDOP       float64 `json:"hdop"`
	AltitudeM  float64 `json:"altitude_m"`
	Separation float64 `json:"separation_m"`
	DGPSAge    string  `json:"dgps_age,omitempty"`
}

// DecodeDetails runs a checksum-verified GGA decode of the fix's sentence.
// ParseFix itself never looks at the checksum, so a sentence can be a valid
// Fix and still fail here.
func DecodeDetails(f Fix) (Details, error) {
	if !IsFixType(f.Type) {
		return Details{}, fmt.Errorf("nmea: %q is not a %s sentence", f.Type, FixType)
	}
	s, err := gonmea.Parse(f.Sentence())
	if err != nil {
		return Details{}, err
	}
	gga, ok := s.(gonmea.GGA)
	if !ok {
		return Details{}, fmt.Errorf("nmea: unexpected sentence %s", s.DataType())
	}
	return Details{
		Time:       gga.Time.String(),
		Satellites: gga.NumSatellites,
		HDOP:       gga.HDOP,
		AltitudeM:  gga.Altitude,
		Separation: gga.Separation,
		DGPSAge:    gga.DGPSAge,
	}, nil
}
