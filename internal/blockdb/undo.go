package blockdb

import (
	"encoding/binary"

	"wimble.dev/node/internal/corerr"
	"wimble.dev/node/internal/crypto"
)

// UndoSpent records one output that a block spent: enough to re-set its
// unspent bit and restore its MMR position on rewind (§4.4 rewind():
// "re-set bits for outputs that were spent between target and tip").
type UndoSpent struct {
	Commitment crypto.Commitment
	MMRPos     uint64
	Height     uint64
}

// UndoRecord is the per-block undo set stored under
// SPENT_OUTPUTS[block_hash], the sole source of truth for TxHashSet.rewind
// (§4.5).
type UndoRecord struct {
	Spent []UndoSpent
}

// EncodeUndoRecord serializes an UndoRecord, grounded on the teacher's
// node/store/undo.go counted-sub-record layout, with wimble's big-endian
// convention substituted for the teacher's little-endian one to match
// §4.2.
func EncodeUndoRecord(u UndoRecord) []byte {
	out := make([]byte, 0, 4+len(u.Spent)*(33+8+8))
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], uint32(len(u.Spent)))
	out = append(out, tmp4[:]...)

	var tmp8 [8]byte
	for _, s := range u.Spent {
		out = append(out, s.Commitment[:]...)
		binary.BigEndian.PutUint64(tmp8[:], s.MMRPos)
		out = append(out, tmp8[:]...)
		binary.BigEndian.PutUint64(tmp8[:], s.Height)
		out = append(out, tmp8[:]...)
	}
	return out
}

// DecodeUndoRecord reverses EncodeUndoRecord.
func DecodeUndoRecord(b []byte) (UndoRecord, error) {
	if len(b) < 4 {
		return UndoRecord{}, corerr.BadData(corerr.RuleTrailingBytes)
	}
	count := binary.BigEndian.Uint32(b[:4])
	off := 4
	const recSize = 33 + 8 + 8
	if len(b)-off != int(count)*recSize {
		return UndoRecord{}, corerr.BadData(corerr.RuleTrailingBytes)
	}

	out := UndoRecord{Spent: make([]UndoSpent, count)}
	for i := 0; i < int(count); i++ {
		var s UndoSpent
		copy(s.Commitment[:], b[off:off+33])
		off += 33
		s.MMRPos = binary.BigEndian.Uint64(b[off : off+8])
		off += 8
		s.Height = binary.BigEndian.Uint64(b[off : off+8])
		off += 8
		out.Spent[i] = s
	}
	return out, nil
}
