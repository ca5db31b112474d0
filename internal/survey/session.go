package survey

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"gnss-survey/internal/feature"
	"gnss-survey/internal/nmea"
)

var (
	ErrNoFix         = errors.New("no valid fix")
	ErrSuboptimalFix = errors.New("fix quality below required")
)

// Store is the subset of feature.Store a session writes through.
type Store interface {
	MaxID() (int64, error)
	AddFeature(f *feature.Feature) error
	DeleteFeature(id int64) error
}

type Options struct {
	// RequiredQuality is the GGA quality a measurement needs without force.
	// Empty means "4" (RTK fixed).
	RequiredQuality string
	RateWindow      int
	Multi           bool
	// ImageDir receives images saved with SaveImage.
	ImageDir string
}

const rtkFixed = "4"

// Session owns the active feature. It is safe for concurrent use: fixes
// arrive on the reader goroutine while HTTP handlers drive measurements.
type Session struct {
	store Store
	opts  Options
	rate  *RateTracker

	mu          sync.Mutex
	active      *feature.Feature
	provisional bool
	multi       bool
	lastFix     nmea.Fix
	hasFix      bool
	rtk         bool
	connected   bool
	commits     uint64

	hookMu   sync.RWMutex
	onCommit []func(feature.Feature)
	onRTK    []func(bool)
}

// NewSession starts with a fresh feature. A store that cannot be read yet
// leaves the feature provisional; the first commit resolves its id.
func NewSession(store Store, opts Options) *Session {
	if opts.RequiredQuality == "" {
		opts.RequiredQuality = rtkFixed
	}
	s := &Session{
		store: store,
		opts:  opts,
		rate:  NewRateTracker(opts.RateWindow),
		multi: opts.Multi,
	}
	if _, err := s.FreshFeature(); err != nil {
		log.Warn().Err(err).Msg("feature store unreadable, active feature is provisional")
	}
	return s
}

// OnCommit registers fn to run after every successful commit, outside the
// session lock.
func (s *Session) OnCommit(fn func(feature.Feature)) {
	if fn == nil {
		return
	}
	s.hookMu.Lock()
	s.onCommit = append(s.onCommit, fn)
	s.hookMu.Unlock()
}

// OnRTKChange registers fn for transitions into and out of RTK fixed.
func (s *Session) OnRTKChange(fn func(rtk bool)) {
	if fn == nil {
		return
	}
	s.hookMu.Lock()
	s.onRTK = append(s.onRTK, fn)
	s.hookMu.Unlock()
}

// FreshFeature replaces the active feature with an empty one at MaxID()+1.
// When the store cannot be read the feature gets id 0, is marked
// provisional, and the error is returned.
func (s *Session) FreshFeature() (feature.Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.freshLocked()
	return s.active.Clone(), err
}

func (s *Session) freshLocked() error {
	id, err := s.store.MaxID()
	if err != nil {
		s.active = feature.New(0)
		s.provisional = true
		return fmt.Errorf("fresh feature: %w", err)
	}
	s.active = feature.New(uint32(id + 1))
	s.provisional = false
	return nil
}

// Active returns a copy of the feature under construction.
func (s *Session) Active() feature.Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active.Clone()
}

// AddMeasurement appends fix to the active feature and commits it. With
// multi off the next measurement starts a new feature.
func (s *Session) AddMeasurement(fix nmea.Fix) (feature.Feature, error) {
	s.mu.Lock()
	if s.provisional {
		id, err := s.store.MaxID()
		if err != nil {
			s.mu.Unlock()
			return feature.Feature{}, fmt.Errorf("resolve feature id: %w", err)
		}
		s.active.ID = uint32(id + 1)
		s.provisional = false
	}

	s.active.AddMeasurement(fix)
	if err := s.store.AddFeature(s.active); err != nil {
		s.active.Measurements = s.active.Measurements[:len(s.active.Measurements)-1]
		s.mu.Unlock()
		return feature.Feature{}, fmt.Errorf("commit feature %d: %w", s.active.ID, err)
	}
	committed := s.active.Clone()
	s.commits++

	if !s.multi {
		if err := s.freshLocked(); err != nil {
			log.Warn().Err(err).Msg("next feature is provisional")
		}
	}
	next := s.active.ID
	s.mu.Unlock()

	log.Info().
		Uint32("feature_id", committed.ID).
		Int("measurements", len(committed.Measurements)).
		Str("quality", fix.Quality).
		Uint32("next_id", next).
		Msg("feature committed")

	s.hookMu.RLock()
	hooks := append([]func(feature.Feature){}, s.onCommit...)
	s.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(committed)
	}
	return committed, nil
}

// Measure commits the last valid fix. A fix below the required quality is
// refused unless force is set.
func (s *Session) Measure(force bool) (feature.Feature, error) {
	s.mu.Lock()
	fix, ok := s.lastFix, s.hasFix && s.lastFix.Valid
	s.mu.Unlock()
	if !ok {
		return feature.Feature{}, ErrNoFix
	}
	if fix.Quality != s.opts.RequiredQuality && !force {
		return feature.Feature{}, fmt.Errorf("%w: quality %q, want %q", ErrSuboptimalFix, fix.Quality, s.opts.RequiredQuality)
	}
	return s.AddMeasurement(fix)
}

func (s *Session) SetMulti(on bool) {
	s.mu.Lock()
	s.multi = on
	s.mu.Unlock()
}

func (s *Session) ToggleMulti() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.multi = !s.multi
	return s.multi
}

// SetNote appends to the active feature's note. The record file has no
// note column; the note travels with the committed feature to OnCommit hooks
// and shows in Snapshot.
func (s *Session) SetNote(note string) {
	s.mu.Lock()
	s.active.SetNote(note)
	s.mu.Unlock()
}

// AddImage reserves the next image name for the active feature.
func (s *Session) AddImage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active.NextImage()
}

// SaveImage stores r under the next image name in the image directory and
// returns the file name.
func (s *Session) SaveImage(r io.Reader) (string, error) {
	if s.opts.ImageDir == "" {
		return "", fmt.Errorf("image dir not configured")
	}
	if err := os.MkdirAll(s.opts.ImageDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", s.opts.ImageDir, err)
	}
	tmp, err := os.CreateTemp(s.opts.ImageDir, ".image-*.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	name := s.AddImage()
	if err := os.Rename(tmpName, filepath.Join(s.opts.ImageDir, name)); err != nil {
		return "", err
	}
	return name, nil
}

// DeleteFeature removes a committed feature. An active feature that was
// deleted, or that holds no measurements yet, is re-seeded so the next id
// stays MaxID()+1.
func (s *Session) DeleteFeature(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.DeleteFeature(id); err != nil {
		return err
	}
	if int64(s.active.ID) == id || len(s.active.Measurements) == 0 {
		if err := s.freshLocked(); err != nil {
			log.Warn().Err(err).Msg("next feature is provisional")
		}
	}
	log.Info().Int64("feature_id", id).Msg("feature deleted")
	return nil
}

// HandleFix is the bus subscriber for fixes. Only GGA sentences carry the
// position state this session tracks.
func (s *Session) HandleFix(fix nmea.Fix) {
	if !nmea.IsFixType(fix.Type) {
		return
	}
	s.mu.Lock()
	wasRTK := s.rtk
	s.lastFix = fix
	s.hasFix = true
	s.rtk = fix.Quality == rtkFixed
	nowRTK := s.rtk
	s.mu.Unlock()

	if fix.Valid {
		s.rate.Observe(fix.At)
	}
	if wasRTK != nowRTK {
		if nowRTK {
			log.Info().Str("quality", fix.Quality).Msg("rtk fix acquired")
		} else {
			log.Warn().Str("quality", fix.Quality).Msg("rtk fix lost")
		}
		s.fireRTK(nowRTK)
	}
}

// HandleConnection is the bus subscriber for link status.
func (s *Session) HandleConnection(connected bool) {
	s.mu.Lock()
	s.connected = connected
	wasRTK := s.rtk
	if !connected {
		s.hasFix = false
		s.lastFix = nmea.Fix{}
		s.rtk = false
	}
	s.mu.Unlock()

	if !connected {
		s.rate.Reset()
		if wasRTK {
			s.fireRTK(false)
		}
	}
}

func (s *Session) fireRTK(v bool) {
	s.hookMu.RLock()
	hooks := append([]func(bool){}, s.onRTK...)
	s.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(v)
	}
}

type Snapshot struct {
	Connected       bool      `json:"connected"`
	ActiveID        uint32    `json:"active_feature_id"`
	Provisional     bool      `json:"provisional,omitempty"`
	Measurements    int       `json:"measurements"`
	Images          uint32    `json:"images"`
	Note            string    `json:"note,omitempty"`
	Multi           bool      `json:"multi"`
	RequiredQuality string    `json:"required_quality"`
	RTK             bool      `json:"rtk"`
	FixStatus       string    `json:"fix_status"`
	LastFix         *nmea.Fix `json:"last_fix,omitempty"`
	RateHz          *float64  `json:"rate_hz,omitempty"`
	Commits         uint64    `json:"commits"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	out := Snapshot{
		Connected:       s.connected,
		ActiveID:        s.active.ID,
		Provisional:     s.provisional,
		Measurements:    len(s.active.Measurements),
		Images:          s.active.ImageCount,
		Note:            s.active.Note,
		Multi:           s.multi,
		RequiredQuality: s.opts.RequiredQuality,
		RTK:             s.rtk,
		FixStatus:       "none",
		Commits:         s.commits,
	}
	if s.hasFix {
		f := s.lastFix
		out.LastFix = &f
		out.FixStatus = FixStatus(f.Quality)
	}
	s.mu.Unlock()
	if hz, ok := s.rate.Rate(); ok {
		out.RateHz = &hz
	}
	return out
}

// FixStatus maps a GGA quality indicator to the label shown to the
// surveyor.
func FixStatus(quality string) string {
	switch quality {
	case "4":
		return "rtk_fixed"
	case "5":
		return "rtk_float"
	case "", "0":
		return "none"
	default:
		return "degraded"
	}
}
