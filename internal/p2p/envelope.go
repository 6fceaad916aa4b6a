// Package p2p implements the wire-level peer protocol (§6 "Wire format
// (P2P)"): framed messages, handshake, and ban-score policy. Grounded on
// the teacher's node/p2p package — envelope.go's fixed-prefix framing
// with a ReadError carrying a ban-score delta and a disconnect flag,
// handshake.go's send-version/await-version/exchange-verack state
// machine, and banscore.go's linear per-minute decay — generalized from
// the teacher's Bitcoin-style magic+command+checksum envelope to the
// leaner "2-byte type tag + 8-byte length" framing §6 specifies (no
// checksum field: internal/wire's own canonical encoding already makes
// a malformed payload fail to decode, so a transport-level checksum
// would be redundant).
package p2p

import (
	"encoding/binary"
	"fmt"
	"io"

	"wimble.dev/node/internal/corerr"
)

// FramePrefixBytes is the fixed header length for every P2P message:
// a 2-byte type tag plus an 8-byte payload length (§6).
const FramePrefixBytes = 10

// MaxPayloadBytes bounds a single message's payload, matching the
// largest legitimate message this protocol sends — a TxHashSetArchive —
// while still rejecting an attacker's absurd length claim before any
// read is attempted.
const MaxPayloadBytes = 128 << 20

// Type tags for the message kinds named in §6.
type Type uint16

const (
	TypeHand Type = iota + 1
	TypeShake
	TypePing
	TypePong
	TypeGetPeerAddrs
	TypePeerAddrs
	TypeGetHeaders
	TypeHeader
	TypeHeaders
	TypeGetBlock
	TypeBlock
	TypeTransaction
	TypeStemTransaction
	TypeTxHashSetRequest
	TypeTxHashSetArchive
)

// Frame is one envelope-decoded message: a type tag plus its raw
// payload, not yet parsed into a typed struct.
type Frame struct {
	Type    Type
	Payload []byte
}

// ReadError conveys how the caller should treat a malformed frame: a
// ban-score delta (from a Violation's Points(), zero for a plain I/O
// failure that isn't evidence of misbehavior) to apply to the
// offending peer, and whether the connection itself must be torn down
// (§6/§4.9's "persistent misbehavior ... bans" policy).
type ReadError struct {
	Err           error
	BanScoreDelta int
	Disconnect    bool
}

func (e *ReadError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// WriteFrame writes one frame to w.
func WriteFrame(w io.Writer, typ Type, payload []byte) error {
	if uint64(len(payload)) > MaxPayloadBytes {
		return corerr.BadData(corerr.RuleLimitExceeded)
	}
	var hdr [FramePrefixBytes]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(typ))
	binary.BigEndian.PutUint64(hdr[2:10], uint64(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads exactly one frame from r, handling partial reads the
// way the teacher's ReadMessage does.
func ReadFrame(r io.Reader) (Frame, *ReadError) {
	var hdr [FramePrefixBytes]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, &ReadError{Err: err, Disconnect: true}
	}
	typ := Type(binary.BigEndian.Uint16(hdr[0:2]))
	length := binary.BigEndian.Uint64(hdr[2:10])
	if length > MaxPayloadBytes {
		return Frame{}, &ReadError{Err: fmt.Errorf("p2p: payload length exceeds MaxPayloadBytes"), BanScoreDelta: ViolationOversizeFrame.Points(), Disconnect: true}
	}
	payload := make([]byte, int(length))
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, &ReadError{Err: err, Disconnect: true}
		}
	}
	return Frame{Type: typ, Payload: payload}, nil
}
