package nmea

import "bytes"

const defaultMaxPending = 4096

// Reassembler splits an unbounded byte stream into CRLF-delimited sentences.
//
// Any '$' seen while scanning re-anchors the start of the current sentence,
// so bytes received mid-sentence (or noise between sentences) are discarded.
// When several '$' appear before a delimiter, the last one wins.
//
// A Reassembler is not safe for concurrent use; the read loop owns it.
type Reassembler struct {
	pending    []byte
	maxPending int

	overflows uint64
}

// NewReassembler returns a Reassembler whose pending buffer never grows past
// maxPending bytes. maxPending <= 0 selects the default (4096).
func NewReassembler(maxPending int) *Reassembler {
	if maxPending <= 0 {
		maxPending = defaultMaxPending
	}
	return &Reassembler{maxPending: maxPending}
}

// Feed appends chunk to the pending buffer and returns every complete
// sentence found, without the trailing CRLF. Candidates that do not start
// with '$' (noise terminated by a CRLF before any '$') are dropped.
func (r *Reassembler) Feed(chunk []byte) []string {
	if r.maxPending <= 0 {
		r.maxPending = defaultMaxPending
	}
	r.pending = append(r.pending, chunk...)
	buf := r.pending

	var out []string
	start := 0
	for i := 0; i < len(buf)-1; i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' {
			if s := buf[start:i]; len(s) > 0 && s[0] == '$' {
				out = append(out, string(s))
			}
			start = i + 2
		}
		if buf[i] == '$' {
			start = i
		}
	}

	if start >= len(buf) {
		r.pending = r.pending[:0]
	} else {
		r.pending = append(r.pending[:0], buf[start:]...)
	}

	if len(r.pending) > r.maxPending {
		r.overflows++
		// Keep only a trailing partial sentence, if there is one.
		if idx := bytes.LastIndexByte(r.pending[1:], '$'); idx >= 0 {
			r.pending = append(r.pending[:0], r.pending[idx+1:]...)
		} else {
			r.pending = r.pending[:0]
		}
	}
	return out
}

// Pending returns a copy of the unconsumed suffix.
func (r *Reassembler) Pending() string {
	return string(r.pending)
}

// Overflows counts how often the pending buffer hit its cap.
func (r *Reassembler) Overflows() uint64 {
	return r.overflows
}

// Reset drops any pending partial sentence.
func (r *Reassembler) Reset() {
	r.pending = r.pending[:0]
}
