package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(d time.Duration) {
	fs.slept = append(fs.slept, d)
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0, 2447
10, 50 47
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].Chunk != nil {
		t.Fatalf("expected START marker, got %v", recs[0].Chunk)
	}
	if recs[1].At != 0 || string(recs[1].Chunk) != "$G" {
		t.Fatalf("record 1 = %+v", recs[1])
	}
	if recs[2].At != 10*time.Nanosecond || string(recs[2].Chunk) != "PG" {
		t.Fatalf("record 2 = %+v", recs[2])
	}
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	for _, in := range []string{
		"not-a-valid-line\n",
		"START\n-5,2447\n",
		"START\nx,2447\n",
		"START\n5,zz\n",
		"START\n5,\n",
	} {
		if _, err := NewReader(strings.NewReader(in)).ReadAll(); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestPlay_RespectsTimingAndStart(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{
		{At: 1 * time.Second},
		{At: 1 * time.Second, Chunk: []byte("a")},
		{At: 1*time.Second + 100*time.Millisecond, Chunk: []byte("b")},
		{At: 2 * time.Second},
		{At: 2*time.Second + 50*time.Millisecond, Chunk: []byte("c")},
	}

	var got []string
	err := Play(context.Background(), recs, 1.0, false, fs, func(chunk []byte) error {
		got = append(got, string(chunk))
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("chunks = %v", got)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{100 * time.Millisecond}) {
		t.Fatalf("slept = %v, want [100ms]", fs.slept)
	}
}

func TestPlay_SpeedMultiplier(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{
		{At: 0, Chunk: []byte{0x01}},
		{At: 100 * time.Millisecond, Chunk: []byte{0x02}},
	}
	if err := Play(context.Background(), recs, 2.0, false, fs, func([]byte) error { return nil }); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{50 * time.Millisecond}) {
		t.Fatalf("slept = %v, want [50ms]", fs.slept)
	}
}

func TestPlay_InvalidArgs(t *testing.T) {
	recs := []Record{{At: 0, Chunk: []byte{0x01}}}
	ctx := context.Background()
	if err := Play(ctx, recs, 0, false, nil, func([]byte) error { return nil }); err == nil {
		t.Fatalf("expected error for zero speed")
	}
	if err := Play(ctx, recs, 1, false, nil, nil); err == nil {
		t.Fatalf("expected error for nil callback")
	}
	if err := Play(ctx, nil, 1, false, nil, func([]byte) error { return nil }); err == nil {
		t.Fatalf("expected error for no records")
	}
}

func TestPlay_LoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	recs := []Record{{At: 0, Chunk: []byte("x")}}
	n := 0
	err := Play(ctx, recs, 1, true, &fakeSleeper{}, func([]byte) error {
		n++
		if n == 5 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n != 5 {
		t.Fatalf("callbacks = %d, want 5", n)
	}
}

func TestPlay_CallbackErrorStops(t *testing.T) {
	boom := errors.New("boom")
	recs := []Record{{Chunk: []byte("a")}, {Chunk: []byte("b")}}
	n := 0
	err := Play(context.Background(), recs, 1, false, &fakeSleeper{}, func([]byte) error {
		n++
		return boom
	})
	if !errors.Is(err, boom) || n != 1 {
		t.Fatalf("err=%v n=%d", err, n)
	}
}

func TestWriter_WritesExpectedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "out.log")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	w.start = time.Unix(0, 0)

	if err := w.WriteChunk(time.Unix(0, 20), []byte("$G")); err != nil {
		t.Fatalf("WriteChunk() error: %v", err)
	}
	if err := w.WriteChunk(time.Unix(0, 30), nil); err == nil {
		t.Fatalf("expected error for empty chunk")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	if err := w.WriteChunk(time.Unix(0, 40), []byte("x")); err == nil {
		t.Fatalf("expected error after close")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(b) != "START\n20,2447\n" {
		t.Fatalf("unexpected file contents: %q", string(b))
	}
}

func TestCapture_RoundTripChunksInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.log")
	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	base := time.Unix(1000, 0)
	w.start = base
	step := 0
	w.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * 100 * time.Millisecond)
	}

	in := []string{"$GPGGA,000001,55", "00.0000,N,01000.0000,E,4,08\r\n", "$GPRMC,x\r\n"}
	for _, c := range in {
		w.Tap([]byte(c))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	var out []string
	fs := &fakeSleeper{}
	if err := Play(context.Background(), recs, 1.0, false, fs, func(chunk []byte) error {
		out = append(out, string(chunk))
		return nil
	}); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("chunks mismatch\n got: %q\nwant: %q", out, in)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}) {
		t.Fatalf("slept = %v", fs.slept)
	}
}

func TestWriter_TapNilIsNoop(t *testing.T) {
	var w *Writer
	w.Tap([]byte("x"))
	if err := w.Close(); err != nil {
		t.Fatalf("Close() on nil: %v", err)
	}
}
