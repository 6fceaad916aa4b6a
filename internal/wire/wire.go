// Package wire implements the chain's canonical serialization: big-endian
// fixed-width integers, length-prefixed byte strings and sequences, and
// the sorted-by-hash canonical ordering rule for transaction bodies
// (§4.2 Serialization).
//
// Every decode path is total: malformed input never panics, it returns one
// of TrailingBytes, LimitExceeded, or NotCanonical from internal/corerr.
package wire

import (
	"encoding/binary"

	"wimble.dev/node/internal/corerr"
)

// MaxBodySeqLen bounds a block/tx body sequence (8-byte length prefix).
const MaxBodySeqLen = 1 << 20

// MaxPeerSeqLen bounds a peer-message sequence (2-byte length prefix).
// Kept well under the 2-byte prefix's 65535 ceiling so the cap is
// actually enforceable rather than always true.
const MaxPeerSeqLen = 1 << 14

// Reader walks a byte slice left to right, matching the teacher's cursor
// style (consensus/wire.go) but big-endian throughout per §4.2.
type Reader struct {
	b   []byte
	pos int
}

func NewReader(b []byte) *Reader { return &Reader{b: b} }

func (r *Reader) remaining() int {
	if r.pos >= len(r.b) {
		return 0
	}
	return len(r.b) - r.pos
}

func (r *Reader) readExact(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, corerr.BadData(corerr.RuleTrailingBytes)
	}
	start := r.pos
	r.pos += n
	return r.b[start:r.pos], nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.readExact(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) U16() (uint16, error) {
	b, err := r.readExact(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.readExact(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.readExact(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) Bytes(n int) ([]byte, error) {
	return r.readExact(n)
}

// LenPrefixed8 reads an 8-byte length followed by that many bytes, used
// for variable-length fields inside block/tx bodies.
func (r *Reader) LenPrefixed8() ([]byte, error) {
	n, err := r.U64()
	if err != nil {
		return nil, err
	}
	if n > MaxBodySeqLen {
		return nil, corerr.BadData(corerr.RuleLimitExceeded)
	}
	return r.readExact(int(n))
}

// LenPrefixed2 reads a 2-byte length followed by that many bytes, used for
// peer-message fields (§4.2: "2-byte in peer messages (capped)").
func (r *Reader) LenPrefixed2() ([]byte, error) {
	n, err := r.U16()
	if err != nil {
		return nil, err
	}
	if int(n) > MaxPeerSeqLen {
		return nil, corerr.BadData(corerr.RuleLimitExceeded)
	}
	return r.readExact(int(n))
}

// SeqCount8 reads an element count for a body sequence (inputs/outputs/
// kernels), enforcing MaxBodySeqLen before the caller loops over elements.
func (r *Reader) SeqCount8() (uint64, error) {
	n, err := r.U64()
	if err != nil {
		return 0, err
	}
	if n > MaxBodySeqLen {
		return 0, corerr.BadData(corerr.RuleLimitExceeded)
	}
	return n, nil
}

// SeqCount2 is SeqCount8's peer-message counterpart.
func (r *Reader) SeqCount2() (uint16, error) {
	n, err := r.U16()
	if err != nil {
		return 0, err
	}
	if int(n) > MaxPeerSeqLen {
		return 0, corerr.BadData(corerr.RuleLimitExceeded)
	}
	return n, nil
}

// Finish reports an error if any bytes remain unconsumed, enforcing the
// "reject extra trailing bytes" rule.
func (r *Reader) Finish() error {
	if r.remaining() != 0 {
		return corerr.BadData(corerr.RuleTrailingBytes)
	}
	return nil
}

// Writer appends canonically-encoded fields to a growable buffer.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) U8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) U16(v uint16) *Writer {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) U32(v uint32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) U64(v uint64) *Writer {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) Raw(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// LenPrefixed8 writes an 8-byte length followed by b.
func (w *Writer) LenPrefixed8(b []byte) *Writer {
	w.U64(uint64(len(b)))
	w.Raw(b)
	return w
}

// LenPrefixed2 writes a 2-byte length followed by b.
func (w *Writer) LenPrefixed2(b []byte) *Writer {
	w.U16(uint16(len(b)))
	w.Raw(b)
	return w
}
