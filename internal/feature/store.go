package feature

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

var (
	// ErrIO wraps any failure to read or write the record file.
	ErrIO = errors.New("feature store: io failure")
	// ErrCorruptRow is returned when a row's id column is not an integer.
	ErrCorruptRow = errors.New("feature store: corrupt row")
)

// Store is the record file: one CSV row per measurement, no header, column 0
// the feature id. The file is the single source of truth for the next id.
//
// Every operation is a full read (and, for mutations, a full rewrite) under
// one mutex. Concurrent writers in other processes are not coordinated.
type Store struct {
	mu   sync.Mutex
	path string
}

// Open creates the parent directory and an empty record file if needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("feature store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir: %w", ErrIO, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrIO, path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: close %s: %w", ErrIO, path, err)
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string {
	return s.path
}

// ReadAll returns every row in file order.
func (s *Store) ReadAll() ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// MaxID returns the largest feature id in the file, or -1 when it is empty.
func (s *Store) MaxID() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.readLocked()
	if err != nil {
		return 0, err
	}
	return maxID(rows)
}

// DeleteFeature removes every row of feature id. Ids outside [0, MaxID()]
// leave the file untouched.
func (s *Store) DeleteFeature(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readLocked()
	if err != nil {
		return err
	}
	max, err := maxID(rows)
	if err != nil {
		return err
	}
	if id < 0 || id > max {
		return nil
	}
	return s.writeLocked(withoutFeature(rows, strconv.FormatInt(id, 10)))
}

// AddFeature replaces the rows of f.ID with one row per measurement of f.
//
// The rows are written in a single rewrite; callers that need the next id
// must ask MaxID afterwards.
func (s *Store) AddFeature(f *Feature) error {
	if f == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readLocked()
	if err != nil {
		return err
	}
	rows = withoutFeature(rows, strconv.FormatUint(uint64(f.ID), 10))
	rows = append(rows, f.Rows()...)
	return s.writeLocked(rows)
}

// Records groups the rows by feature id, in order of first appearance.
func (s *Store) Records() ([]Record, error) {
	rows, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	return groupRecords(rows)
}

func (s *Store) readLocked() ([][]string, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, s.path, err)
	}
	r := csv.NewReader(bytes.NewReader(b))
	// Rows carry a variable number of passthrough fields.
	r.FieldsPerRecord = -1
	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", ErrIO, s.path, err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// writeLocked replaces the file atomically: temp file in the same
// directory, fsync, rename.
func (s *Store) writeLocked(rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("%w: encode: %w", ErrIO, err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write: %w", ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync: %w", ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrIO, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("%w: rename: %w", ErrIO, err)
	}
	return nil
}

func maxID(rows [][]string) (int64, error) {
	max := int64(-1)
	for i, row := range rows {
		id, err := rowID(row)
		if err != nil {
			return 0, fmt.Errorf("%w: row %d: %v", ErrCorruptRow, i+1, err)
		}
		if id > max {
			max = id
		}
	}
	return max, nil
}

func rowID(row []string) (int64, error) {
	if len(row) == 0 {
		return 0, fmt.Errorf("empty row")
	}
	return strconv.ParseInt(row[0], 10, 64)
}

func withoutFeature(rows [][]string, id string) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 && row[0] == id {
			continue
		}
		out = append(out, row)
	}
	return out
}
