package feature

import (
	"fmt"
	"strconv"

	"gnss-survey/internal/nmea"
)

// Measurement is one fix confirmed by the surveyor.
type Measurement struct {
	Fix nmea.Fix `json:"fix"`
}

// Row flattens the measurement into its record row:
// [featureID, lat, lon, field1, field2, ...] where field1.. are the raw
// sentence fields after the sentence type.
func (m Measurement) Row(featureID uint32) []string {
	row := make([]string, 0, len(m.Fix.Fields)+2)
	row = append(row,
		strconv.FormatUint(uint64(featureID), 10),
		strconv.FormatFloat(m.Fix.Lat, 'f', -1, 64),
		strconv.FormatFloat(m.Fix.Lon, 'f', -1, 64),
	)
	if len(m.Fix.Fields) > 1 {
		row = append(row, m.Fix.Fields[1:]...)
	}
	return row
}

// Feature is a survey point under construction: one or more measurements,
// an image count and a free-text note. It becomes durable only through
// Store.AddFeature.
type Feature struct {
	ID           uint32        `json:"id"`
	Measurements []Measurement `json:"measurements"`
	ImageCount   uint32        `json:"image_count"`
	Note         string        `json:"note,omitempty"`
}

func New(id uint32) *Feature {
	return &Feature{ID: id}
}

func (f *Feature) AddMeasurement(fix nmea.Fix) {
	f.Measurements = append(f.Measurements, Measurement{Fix: fix})
}

// SetNote appends to any existing note, separated by ", ".
func (f *Feature) SetNote(note string) {
	if note == "" {
		return
	}
	if f.Note != "" {
		f.Note = f.Note + ", " + note
		return
	}
	f.Note = note
}

// NextImage returns the file name for the next photo of this feature and
// bumps ImageCount.
func (f *Feature) NextImage() string {
	name := ImageName(f.ID, f.ImageCount)
	f.ImageCount++
	return name
}

// Rows flattens every measurement into record rows.
func (f *Feature) Rows() [][]string {
	rows := make([][]string, 0, len(f.Measurements))
	for _, m := range f.Measurements {
		rows = append(rows, m.Row(f.ID))
	}
	return rows
}

// Clone returns a deep copy safe to hand to other goroutines.
func (f *Feature) Clone() Feature {
	out := *f
	out.Measurements = make([]Measurement, len(f.Measurements))
	for i, m := range f.Measurements {
		m.Fix.Fields = append([]string(nil), m.Fix.Fields...)
		out.Measurements[i] = m
	}
	return out
}

// ImageName is the photo file name for a feature: zero-padded id plus
// sequence number, e.g. "0042_3.jpg".
func ImageName(featureID uint32, seq uint32) string {
	return fmt.Sprintf("%04d_%d.jpg", featureID, seq)
}
