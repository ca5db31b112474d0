package feature

import (
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Record is a committed feature as read back from the record file.
type Record struct {
	ID     int64   `json:"id"`
	Points []Point `json:"points"`
}

// Point is one stored measurement row.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	// Fields are the passthrough sentence fields (columns 3+).
	Fields []string `json:"fields,omitempty"`
}

// Quality returns the GGA fix quality stored with the point, if any.
// Column 3 is sentence field 1, so fix quality (field 6) sits at Fields[5].
func (p Point) Quality() string {
	if len(p.Fields) > 5 {
		return p.Fields[5]
	}
	return ""
}

func groupRecords(rows [][]string) ([]Record, error) {
	var out []Record
	index := make(map[int64]int)
	for i, row := range rows {
		id, err := rowID(row)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrCorruptRow, i+1, err)
		}
		if len(row) < 3 {
			return nil, fmt.Errorf("%w: row %d: want at least 3 columns, got %d", ErrCorruptRow, i+1, len(row))
		}
		lat, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: latitude: %v", ErrCorruptRow, i+1, err)
		}
		lon, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: longitude: %v", ErrCorruptRow, i+1, err)
		}
		p := Point{Lat: lat, Lon: lon, Fields: append([]string(nil), row[3:]...)}

		at, ok := index[id]
		if !ok {
			index[id] = len(out)
			out = append(out, Record{ID: id, Points: []Point{p}})
			continue
		}
		out[at].Points = append(out[at].Points, p)
	}
	return out, nil
}

// Centroid is the arithmetic mean of the record's points.
func (r Record) Centroid() (lat, lon float64) {
	if len(r.Points) == 0 {
		return 0, 0
	}
	for _, p := range r.Points {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(r.Points))
	return lat / n, lon / n
}

// GeoJSON renders records as a FeatureCollection: a Point geometry for
// single-measurement features, MultiPoint otherwise.
func GeoJSON(records []Record) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range records {
		var geom orb.Geometry
		if len(r.Points) == 1 {
			geom = orb.Point{r.Points[0].Lon, r.Points[0].Lat}
		} else {
			mp := make(orb.MultiPoint, 0, len(r.Points))
			for _, p := range r.Points {
				mp = append(mp, orb.Point{p.Lon, p.Lat})
			}
			geom = mp
		}
		f := geojson.NewFeature(geom)
		f.ID = r.ID
		qualities := make([]string, 0, len(r.Points))
		for _, p := range r.Points {
			qualities = append(qualities, p.Quality())
		}
		lat, lon := r.Centroid()
		f.Properties["feature_id"] = r.ID
		f.Properties["measurements"] = len(r.Points)
		f.Properties["fix_quality"] = qualities
		f.Properties["centroid"] = []float64{lon, lat}
		fc.Append(f)
	}
	return fc
}
