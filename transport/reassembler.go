package transport

import (
	"encoding/binary"
	"errors"
)

// DefaultReassemblerCap is spec.md §4.5's recommended buffer cap.
const DefaultReassemblerCap = 64 * 1024

const recordHeaderSize = 5 // [type:1][version:2][length:2]

// ErrReassemblerCapExceeded is returned when Add would grow the
// buffer past its configured cap.
var ErrReassemblerCapExceeded = errors.New("transport: reassembler capacity exceeded")

// Reassembler buffers TLS record bytes arriving from the control
// channel in (possibly split or coalesced) chunks and extracts whole
// records as they become available. No teacher file implements this;
// built directly from spec.md §4.5's literal header layout.
type Reassembler struct {
	cap int
	buf []byte
}

// NewReassembler builds a Reassembler with the given capacity (0 uses
// DefaultReassemblerCap).
func NewReassembler(capBytes int) *Reassembler {
	if capBytes == 0 {
		capBytes = DefaultReassemblerCap
	}
	return &Reassembler{cap: capBytes}
}

// Add appends bytes to the buffer, rejecting the call if the cap would
// be exceeded.
func (r *Reassembler) Add(b []byte) error {
	if len(r.buf)+len(b) > r.cap {
		return ErrReassemblerCapExceeded
	}
	r.buf = append(r.buf, b...)
	return nil
}

// ExtractRecords parses [type:1][version:2][length:2] headers out of
// the buffer and returns one slice per complete record found; any
// partial trailing record remains buffered for the next call.
func (r *Reassembler) ExtractRecords() [][]byte {
	var records [][]byte
	pos := 0

	for {
		if len(r.buf)-pos < recordHeaderSize {
			break
		}
		length := int(binary.BigEndian.Uint16(r.buf[pos+3 : pos+5]))
		total := recordHeaderSize + length
		if len(r.buf)-pos < total {
			break
		}
		record := make([]byte, total)
		copy(record, r.buf[pos:pos+total])
		records = append(records, record)
		pos += total
	}

	r.buf = append([]byte(nil), r.buf[pos:]...)
	return records
}

// Len reports the number of buffered (not-yet-extracted) bytes.
func (r *Reassembler) Len() int { return len(r.buf) }
