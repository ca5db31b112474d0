package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gnss-survey/internal/feature"
	"gnss-survey/internal/gps"
	"gnss-survey/internal/survey"
)

const (
	maxNoteBytes  = 4 << 10
	maxImageBytes = 16 << 20
)

// Link is the receiver connection as seen by the UI. Connect returns once
// the port is open; reading continues in the background.
type Link interface {
	Connect(ctx context.Context) error
	Disconnect()
	Snapshot() gps.Snapshot
}

// Surveyor is the survey session surface driven by the UI.
type Surveyor interface {
	Measure(force bool) (feature.Feature, error)
	ToggleMulti() bool
	SetNote(note string)
	SaveImage(r io.Reader) (string, error)
	DeleteFeature(id int64) error
	Snapshot() survey.Snapshot
}

// RecordSource lists committed features.
type RecordSource interface {
	Records() ([]feature.Record, error)
}

type Deps struct {
	Status *Status
	Link   Link
	Survey Surveyor
	Store  RecordSource
	Logs   *LogBuffer
	Fixes  *FixHub
}

func Handler(d Deps) http.Handler {
	if d.Status == nil {
		d.Status = NewStatus()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, d.Status.Snapshot(time.Now().UTC(), d.Link, d.Survey, d.Fixes))
	})

	mux.HandleFunc("/api/connect", func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		if d.Link == nil {
			http.Error(w, "gps unavailable", http.StatusNotFound)
			return
		}
		if err := d.Link.Connect(r.Context()); err != nil {
			resp := map[string]any{"ok": false, "error": err.Error()}
			var ce *gps.ConnectError
			if errors.As(err, &ce) {
				resp["reason"] = ce.Reason.Error()
			}
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "gps": d.Link.Snapshot()})
	})

	mux.HandleFunc("/api/disconnect", func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		if d.Link == nil {
			http.Error(w, "gps unavailable", http.StatusNotFound)
			return
		}
		d.Link.Disconnect()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/measure", func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		force := false
		if s := strings.TrimSpace(r.URL.Query().Get("force")); s != "" {
			v, err := strconv.ParseBool(s)
			if err != nil {
				http.Error(w, "force must be a boolean", http.StatusBadRequest)
				return
			}
			force = v
		}
		committed, err := d.Survey.Measure(force)
		switch {
		case errors.Is(err, survey.ErrNoFix), errors.Is(err, survey.ErrSuboptimalFix):
			writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": err.Error()})
			return
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "feature": committed, "survey": d.Survey.Snapshot()})
	})

	mux.HandleFunc("/api/multi", func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"multi": d.Survey.ToggleMulti()})
	})

	mux.HandleFunc("/api/note", func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNoteBytes))
		if err != nil {
			http.Error(w, "note too large", http.StatusRequestEntityTooLarge)
			return
		}
		note := strings.TrimSpace(string(b))
		if note == "" {
			http.Error(w, "note is empty", http.StatusBadRequest)
			return
		}
		d.Survey.SetNote(note)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "note": d.Survey.Snapshot().Note})
	})

	mux.HandleFunc("/api/images", func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		name, err := d.Survey.SaveImage(http.MaxBytesReader(w, r.Body, maxImageBytes))
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "name": name})
	})

	mux.HandleFunc("/api/features", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		recs, err := d.Store.Records()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		if recs == nil {
			recs = []feature.Record{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"features": recs, "next_id": d.Survey.Snapshot().ActiveID})
	})

	mux.HandleFunc("/api/features.geojson", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		recs, err := d.Store.Records()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		b, err := feature.GeoJSON(recs).MarshalJSON()
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(b)
		_, _ = w.Write([]byte("\n"))
	})

	mux.HandleFunc("/api/features/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.Header().Set("Allow", http.MethodDelete)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/features/"), 10, 64)
		if err != nil {
			http.Error(w, "feature id must be an integer", http.StatusBadRequest)
			return
		}
		if err := d.Survey.DeleteFeature(id); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "next_id": d.Survey.Snapshot().ActiveID})
	})

	mux.HandleFunc("/api/about", aboutHandler)

	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}
	if d.Fixes != nil {
		mux.Handle("/api/fixes/ws", d.Fixes)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		snap := d.Status.Snapshot(time.Now().UTC(), d.Link, d.Survey, d.Fixes)
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>GNSS Survey</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>GNSS Survey</h1>")
		_, _ = fmt.Fprintf(w, "<p>See <a href=\"/api/status\">/api/status</a> and <a href=\"/api/features.geojson\">/api/features.geojson</a>.</p>")
		_, _ = fmt.Fprintf(w, "<pre>gps=%s\nnext_feature_id=%d\nmulti=%t\nfix_status=%s</pre>",
			snap.GPS.State, snap.Survey.ActiveID, snap.Survey.Multi, snap.Survey.FixStatus,
		)
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func Serve(ctx context.Context, listenAddr string, d Deps) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Connect may wait out the permission poll.
		WriteTimeout:   20 * time.Second,
		IdleTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
