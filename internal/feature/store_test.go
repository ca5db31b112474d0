package feature

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"gnss-survey/internal/nmea"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "GNSSData", "data.csv"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return s
}

func ggaFix(t *testing.T, sentence string) nmea.Fix {
	t.Helper()
	fix, err := nmea.ParseFix(sentence)
	if err != nil {
		t.Fatalf("ParseFix(%q) error: %v", sentence, err)
	}
	return fix
}

func readFile(t *testing.T, s *Store) string {
	t.Helper()
	b, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	return string(b)
}

func TestOpen_CreatesEmptyFile(t *testing.T) {
	s := openTempStore(t)
	if _, err := os.Stat(s.Path()); err != nil {
		t.Fatalf("expected record file: %v", err)
	}
	max, err := s.MaxID()
	if err != nil {
		t.Fatalf("MaxID() error: %v", err)
	}
	if max != -1 {
		t.Fatalf("MaxID()=%d want -1", max)
	}
}

func TestMeasurementRow_Layout(t *testing.T) {
	m := Measurement{Fix: ggaFix(t, "$GPGGA,123519,5500.0000,N,01000.0000,E,4,08")}
	got := m.Row(7)
	want := []string{"7", "55", "10", "123519", "5500.0000", "N", "01000.0000", "E", "4", "08"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Row()=%q want %q", got, want)
	}
}

func TestAddFeature_OverwritesPreviousRows(t *testing.T) {
	s := openTempStore(t)

	f := New(0)
	f.AddMeasurement(ggaFix(t, "$GPGGA,1,5500.0000,N,01000.0000,E,4,08"))
	f.AddMeasurement(ggaFix(t, "$GPGGA,2,5500.0000,N,01000.0000,E,4,08"))
	if err := s.AddFeature(f); err != nil {
		t.Fatalf("AddFeature() error: %v", err)
	}

	// Re-commit the same id with three measurements: no stale rows remain.
	f.AddMeasurement(ggaFix(t, "$GPGGA,3,5500.0000,N,01000.0000,E,4,08"))
	if err := s.AddFeature(f); err != nil {
		t.Fatalf("AddFeature() error: %v", err)
	}

	rows, err := s.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows=%d want 3: %q", len(rows), rows)
	}
	for i, row := range rows {
		if row[0] != "0" {
			t.Fatalf("row %d id=%q want 0", i, row[0])
		}
		if want := []string{"1", "2", "3"}[i]; row[3] != want {
			t.Fatalf("row %d time=%q want %q", i, row[3], want)
		}
	}
}

func TestAddFeature_KeepsOtherFeatures(t *testing.T) {
	s := openTempStore(t)
	for id := uint32(0); id < 3; id++ {
		f := New(id)
		f.AddMeasurement(ggaFix(t, "$GPGGA,1,5500.0000,N,01000.0000,E,4,08"))
		if err := s.AddFeature(f); err != nil {
			t.Fatalf("AddFeature(%d) error: %v", id, err)
		}
	}
	f := New(1)
	f.AddMeasurement(ggaFix(t, "$GPGGA,9,5600.0000,N,01100.0000,E,5,07"))
	if err := s.AddFeature(f); err != nil {
		t.Fatalf("AddFeature() error: %v", err)
	}

	recs, err := s.Records()
	if err != nil {
		t.Fatalf("Records() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("records=%d want 3", len(recs))
	}
	// Feature 1 was rewritten, so it now sits at the end of the file.
	if recs[2].ID != 1 || recs[2].Points[0].Lat != 56 || recs[2].Points[0].Quality() != "5" {
		t.Fatalf("rewritten record=%+v", recs[2])
	}
}

func TestAddFeature_NilIsNoop(t *testing.T) {
	s := openTempStore(t)
	if err := s.AddFeature(nil); err != nil {
		t.Fatalf("AddFeature(nil) error: %v", err)
	}
	if got := readFile(t, s); got != "" {
		t.Fatalf("file=%q want empty", got)
	}
}

func TestMaxID_TracksCommits(t *testing.T) {
	s := openTempStore(t)
	f := New(4)
	f.AddMeasurement(ggaFix(t, "$GPGGA,1,5500.0000,N,01000.0000,E,4,08"))
	if err := s.AddFeature(f); err != nil {
		t.Fatalf("AddFeature() error: %v", err)
	}
	max, err := s.MaxID()
	if err != nil {
		t.Fatalf("MaxID() error: %v", err)
	}
	if max != 4 {
		t.Fatalf("MaxID()=%d want 4", max)
	}
}

func TestDeleteFeature_OutOfRangeIsNoop(t *testing.T) {
	s := openTempStore(t)
	f := New(0)
	f.AddMeasurement(ggaFix(t, "$GPGGA,1,5500.0000,N,01000.0000,E,4,08"))
	if err := s.AddFeature(f); err != nil {
		t.Fatalf("AddFeature() error: %v", err)
	}
	before := readFile(t, s)

	for _, id := range []int64{-1, 1, 99} {
		if err := s.DeleteFeature(id); err != nil {
			t.Fatalf("DeleteFeature(%d) error: %v", id, err)
		}
		if got := readFile(t, s); got != before {
			t.Fatalf("DeleteFeature(%d) changed file: %q -> %q", id, before, got)
		}
	}
}

func TestDeleteFeature_RemovesOnlyThatID(t *testing.T) {
	s := openTempStore(t)
	for id := uint32(0); id < 3; id++ {
		f := New(id)
		f.AddMeasurement(ggaFix(t, "$GPGGA,1,5500.0000,N,01000.0000,E,4,08"))
		f.AddMeasurement(ggaFix(t, "$GPGGA,2,5500.0000,N,01000.0000,E,4,08"))
		if err := s.AddFeature(f); err != nil {
			t.Fatalf("AddFeature(%d) error: %v", id, err)
		}
	}
	if err := s.DeleteFeature(2); err != nil {
		t.Fatalf("DeleteFeature() error: %v", err)
	}
	rows, err := s.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows=%d want 4", len(rows))
	}
	max, _ := s.MaxID()
	if max != 1 {
		t.Fatalf("MaxID()=%d want 1", max)
	}
}

func TestMaxID_CorruptRow(t *testing.T) {
	s := openTempStore(t)
	if err := os.WriteFile(s.Path(), []byte("abc,1,2\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if _, err := s.MaxID(); !errors.Is(err, ErrCorruptRow) {
		t.Fatalf("MaxID() err=%v want ErrCorruptRow", err)
	}
}

func TestMaxID_UnreadableFile(t *testing.T) {
	s := openTempStore(t)
	if err := os.Remove(s.Path()); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, err := s.MaxID(); !errors.Is(err, ErrIO) {
		t.Fatalf("MaxID() err=%v want ErrIO", err)
	}
	if err := s.AddFeature(New(0)); !errors.Is(err, ErrIO) {
		t.Fatalf("AddFeature() err=%v want ErrIO", err)
	}
}

func TestReadAll_AcceptsQuotedFields(t *testing.T) {
	s := openTempStore(t)
	contents := "\"3\",\"55.0\",\"10.0\",\"123519\"\n\"3\",\"55.5\",\"10.5\",\"123520\"\n"
	if err := os.WriteFile(s.Path(), []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	max, err := s.MaxID()
	if err != nil || max != 3 {
		t.Fatalf("MaxID()=(%d,%v) want 3", max, err)
	}
	recs, err := s.Records()
	if err != nil {
		t.Fatalf("Records() error: %v", err)
	}
	if len(recs) != 1 || len(recs[0].Points) != 2 {
		t.Fatalf("records=%+v", recs)
	}
	lat, lon := recs[0].Centroid()
	if lat != 55.25 || lon != 10.25 {
		t.Fatalf("centroid=(%v,%v)", lat, lon)
	}
}

func TestGeoJSON(t *testing.T) {
	recs := []Record{
		{ID: 0, Points: []Point{{Lat: 55, Lon: 10}}},
		{ID: 1, Points: []Point{{Lat: 55, Lon: 10}, {Lat: 56, Lon: 11}}},
	}
	b, err := json.Marshal(GeoJSON(recs))
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var out struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if out.Type != "FeatureCollection" || len(out.Features) != 2 {
		t.Fatalf("unexpected collection: %s", b)
	}
	if out.Features[0].Geometry.Type != "Point" || out.Features[1].Geometry.Type != "MultiPoint" {
		t.Fatalf("geometry types: %s", b)
	}
	if n, _ := out.Features[1].Properties["measurements"].(float64); n != 2 {
		t.Fatalf("measurements=%v", out.Features[1].Properties["measurements"])
	}
}
