package web

import (
	"path/filepath"
	"sync/atomic"
	"time"

	"gnss-survey/internal/gps"
	"gnss-survey/internal/survey"
)

// Status carries the process-level facts that do not belong to any one
// component.
type Status struct {
	startUnixNano int64
	source        atomic.Value // string
	storePath     atomic.Value // string
	outputs       atomic.Value // map[string]any
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.source.Store("")
	s.storePath.Store("")
	s.outputs.Store(map[string]any{})
	return s
}

// SetStatic records configuration shown on the status page. Empty values
// leave the previous value in place.
func (s *Status) SetStatic(source string, storePath string, outputs map[string]any) {
	if source != "" {
		s.source.Store(source)
	}
	if storePath != "" {
		s.storePath.Store(storePath)
	}
	if outputs != nil {
		s.outputs.Store(outputs)
	}
}

type StatusSnapshot struct {
	Service    string           `json:"service"`
	NowUTC     string           `json:"now_utc"`
	UptimeSec  int64            `json:"uptime_sec"`
	Source     string           `json:"source"`
	StorePath  string           `json:"store_path"`
	Outputs    map[string]any   `json:"outputs"`
	GPS        gps.Snapshot     `json:"gps"`
	Survey     survey.Snapshot  `json:"survey"`
	FixClients int              `json:"fix_clients"`
	Disk       *DiskSnapshot    `json:"disk,omitempty"`
	Network    *NetworkSnapshot `json:"network,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time, link Link, sv Surveyor, fixes *FixHub) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:    "gnss-survey",
		NowUTC:     nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:  int64(nowUTC.Sub(start).Seconds()),
		Source:     s.source.Load().(string),
		StorePath:  s.storePath.Load().(string),
		Outputs:    s.outputs.Load().(map[string]any),
		GPS:        gps.Snapshot{State: gps.Disconnected.String()},
		FixClients: fixes.Clients(),
	}
	if link != nil {
		snap.GPS = link.Snapshot()
	}
	if sv != nil {
		snap.Survey = sv.Snapshot()
	}
	if snap.StorePath != "" {
		snap.Disk = snapshotDisk(filepath.Dir(snap.StorePath))
	}
	snap.Network = snapshotNetwork()
	return snap
}
