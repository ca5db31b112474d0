package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gnss-survey/internal/feature"
	"gnss-survey/internal/gps"
	"gnss-survey/internal/nmea"
	"gnss-survey/internal/survey"
)

type fakeLink struct {
	err          error
	connects     int
	disconnected int
}

func (l *fakeLink) Connect(context.Context) error {
	l.connects++
	return l.err
}

func (l *fakeLink) Disconnect() { l.disconnected++ }

func (l *fakeLink) Snapshot() gps.Snapshot {
	if l.connects > 0 && l.err == nil && l.disconnected == 0 {
		return gps.Snapshot{State: "connected", Connected: true, Port: "/dev/ttyUSB0"}
	}
	return gps.Snapshot{State: "disconnected"}
}

type fixture struct {
	ts      *httptest.Server
	link    *fakeLink
	store   *feature.Store
	session *survey.Session
	imgDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := feature.Open(filepath.Join(dir, "data.csv"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	f := &fixture{link: &fakeLink{}, store: st, imgDir: filepath.Join(dir, "Images")}
	f.session = survey.NewSession(st, survey.Options{ImageDir: f.imgDir})
	f.ts = httptest.NewServer(Handler(Deps{
		Status: NewStatus(),
		Link:   f.link,
		Survey: f.session,
		Store:  st,
		Logs:   NewLogBuffer(100),
		Fixes:  NewFixHub(),
	}))
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func mustFix(t *testing.T, quality string) nmea.Fix {
	t.Helper()
	fix, err := nmea.ParseFix("$GPGGA,120000,5522.6000,N,01023.1000,E," + quality + ",10,0.7,12.0,M,40.0,M,,")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return fix
}

func TestAPIStatus(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}
	var snap StatusSnapshot
	decode(t, resp, &snap)
	if snap.Service != "gnss-survey" {
		t.Fatalf("service=%q", snap.Service)
	}
	if snap.GPS.State != "disconnected" || snap.Survey.ActiveID != 0 || snap.Survey.RequiredQuality != "4" {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestAPIStatus_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/status", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if got := resp.Header.Get("Allow"); got != http.MethodGet {
		t.Fatalf("allow=%q", got)
	}
}

func TestAPIConnect(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/connect", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	var out struct {
		OK  bool         `json:"ok"`
		GPS gps.Snapshot `json:"gps"`
	}
	decode(t, resp, &out)
	if !out.OK || !out.GPS.Connected {
		t.Fatalf("out=%+v", out)
	}

	resp = f.do(t, http.MethodPost, "/api/disconnect", "")
	if resp.StatusCode != http.StatusOK || f.link.disconnected != 1 {
		t.Fatalf("disconnect code=%d calls=%d", resp.StatusCode, f.link.disconnected)
	}
}

func TestAPIConnect_ReportsReason(t *testing.T) {
	f := newFixture(t)
	f.link.err = &gps.ConnectError{Reason: gps.ErrNoDeviceFound}
	resp := f.do(t, http.MethodPost, "/api/connect", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	var out map[string]any
	decode(t, resp, &out)
	if out["reason"] != gps.ErrNoDeviceFound.Error() || out["ok"] != false {
		t.Fatalf("out=%v", out)
	}
}

func TestAPIMeasure(t *testing.T) {
	f := newFixture(t)

	if resp := f.do(t, http.MethodPost, "/api/measure", ""); resp.StatusCode != http.StatusConflict {
		t.Fatalf("measure without fix code=%d", resp.StatusCode)
	}

	f.session.HandleFix(mustFix(t, "5"))
	if resp := f.do(t, http.MethodPost, "/api/measure", ""); resp.StatusCode != http.StatusConflict {
		t.Fatalf("suboptimal measure code=%d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, "/api/measure?force=maybe", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad force code=%d", resp.StatusCode)
	}

	resp := f.do(t, http.MethodPost, "/api/measure?force=1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("forced measure code=%d", resp.StatusCode)
	}
	var out struct {
		Feature feature.Feature `json:"feature"`
		Survey  survey.Snapshot `json:"survey"`
	}
	decode(t, resp, &out)
	if out.Feature.ID != 0 || len(out.Feature.Measurements) != 1 || out.Survey.ActiveID != 1 {
		t.Fatalf("out=%+v", out)
	}
	if id, _ := f.store.MaxID(); id != 0 {
		t.Fatalf("max id=%d", id)
	}
}

func TestAPIMultiToggle(t *testing.T) {
	f := newFixture(t)
	for _, want := range []bool{true, false} {
		resp := f.do(t, http.MethodPost, "/api/multi", "")
		var out struct {
			Multi bool `json:"multi"`
		}
		decode(t, resp, &out)
		if out.Multi != want {
			t.Fatalf("multi=%v want %v", out.Multi, want)
		}
	}
}

func TestAPINote(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(t, http.MethodPost, "/api/note", "   "); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty note code=%d", resp.StatusCode)
	}
	f.do(t, http.MethodPost, "/api/note", "manhole")
	resp := f.do(t, http.MethodPost, "/api/note", "cover cracked\n")
	var out struct {
		Note string `json:"note"`
	}
	decode(t, resp, &out)
	if out.Note != "manhole, cover cracked" {
		t.Fatalf("note=%q", out.Note)
	}
}

func TestAPIImages(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/images", "\xff\xd8\xff\xe0")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	var out struct {
		Name string `json:"name"`
	}
	decode(t, resp, &out)
	if out.Name != "0000_0.jpg" {
		t.Fatalf("name=%q", out.Name)
	}
}

func TestAPIFeaturesAndDelete(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/features", "")
	var empty struct {
		Features []feature.Record `json:"features"`
		NextID   uint32           `json:"next_id"`
	}
	decode(t, resp, &empty)
	if empty.Features == nil || len(empty.Features) != 0 || empty.NextID != 0 {
		t.Fatalf("empty=%+v", empty)
	}

	if _, err := f.session.AddMeasurement(mustFix(t, "4")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := f.session.AddMeasurement(mustFix(t, "4")); err != nil {
		t.Fatalf("add: %v", err)
	}

	resp = f.do(t, http.MethodGet, "/api/features.geojson", "")
	if ct := resp.Header.Get("Content-Type"); ct != "application/geo+json" {
		t.Fatalf("content-type=%q", ct)
	}
	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"features"`
	}
	decode(t, resp, &fc)
	if fc.Type != "FeatureCollection" || len(fc.Features) != 2 {
		t.Fatalf("fc=%+v", fc)
	}
	if c := fc.Features[0].Geometry.Coordinates; len(c) != 2 || c[0] != 10.385 {
		t.Fatalf("coordinates=%v (lon first)", c)
	}

	if resp := f.do(t, http.MethodDelete, "/api/features/abc", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id code=%d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/features/1", ""); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("get on delete route code=%d", resp.StatusCode)
	}
	resp = f.do(t, http.MethodDelete, "/api/features/1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete code=%d", resp.StatusCode)
	}
	if id, _ := f.store.MaxID(); id != 0 {
		t.Fatalf("max id after delete=%d", id)
	}
	// Out of range deletes are no-ops.
	if resp := f.do(t, http.MethodDelete, "/api/features/42", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("out of range delete code=%d", resp.StatusCode)
	}
}

func TestRootPage(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/nope", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path code=%d", resp.StatusCode)
	}
}

func TestAPIAbout(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/about", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	var a AboutResponse
	decode(t, resp, &a)
	if a.Service != "gnss-survey" || a.GoVersion == "" {
		t.Fatalf("about=%+v", a)
	}
	if resp := f.do(t, http.MethodPost, "/api/about", ""); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("post status code=%d", resp.StatusCode)
	}
}

func TestStatusSnapshot_ReportsStoreDisk(t *testing.T) {
	dir := t.TempDir()
	s := NewStatus()
	s.SetStatic("replay", filepath.Join(dir, "data.csv"), nil)
	snap := s.Snapshot(time.Time{}, nil, nil, nil)
	if snap.Disk == nil || snap.Disk.Path != dir {
		t.Fatalf("disk=%+v", snap.Disk)
	}
	if snap.Network == nil {
		t.Fatalf("network snapshot missing")
	}
	if snap.Source != "replay" || snap.GPS.State != "disconnected" {
		t.Fatalf("snap=%+v", snap)
	}
}
