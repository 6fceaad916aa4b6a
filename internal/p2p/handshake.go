package p2p

import (
	"fmt"
	"net"
	"time"

	"wimble.dev/node/internal/crypto"
)

const HandshakeTimeout = 10 * time.Second

const ProtocolVersion1 = 1

type HandshakeResult struct {
	PeerHand HandPayload
	Ready    bool
}

// Handshake performs the connection-opening exchange of §6: send Hand,
// await the peer's Hand (rejecting a genesis-hash mismatch rather than
// the teacher's chain_id check), then exchange Shake as the
// acknowledgement. Unlike the teacher's version/verack pair this
// protocol folds the ack into a single typed reply rather than an
// empty-payload message, since Shake already carries everything a
// verack would plus the peer's tip position. Each frame is written
// while the peer's is being read, so the exchange also completes over
// an unbuffered connection such as net.Pipe.
func Handshake(conn net.Conn, genesisHash crypto.Hash, ourHand HandPayload) (*HandshakeResult, error) {
	if conn == nil {
		return nil, fmt.Errorf("p2p: handshake: nil conn")
	}
	ourHand.ProtocolVersion = ProtocolVersion1
	ourHand.GenesisHash = genesisHash

	writeErr := make(chan error, 1)
	go func() { writeErr <- WriteFrame(conn, TypeHand, EncodeHand(ourHand)) }()

	_ = conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	var peerHand HandPayload
	for {
		frame, rerr := ReadFrame(conn)
		if rerr != nil {
			return nil, rerr
		}
		if frame.Type != TypeHand {
			// Ignore unsolicited messages until Hand arrives.
			continue
		}
		h, err := DecodeHand(frame.Payload)
		if err != nil {
			return nil, err
		}
		if h.GenesisHash != genesisHash {
			return nil, fmt.Errorf("p2p: handshake: genesis hash mismatch")
		}
		if h.ProtocolVersion != ProtocolVersion1 {
			return nil, fmt.Errorf("p2p: handshake: unsupported protocol version %d", h.ProtocolVersion)
		}
		peerHand = h
		break
	}

	if err := <-writeErr; err != nil {
		return nil, err
	}
	go func() { writeErr <- WriteFrame(conn, TypeShake, EncodeShake(ourHand)) }()
	_ = conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	for {
		frame, rerr := ReadFrame(conn)
		if rerr != nil {
			return nil, rerr
		}
		if frame.Type != TypeShake {
			continue
		}
		s, err := DecodeShake(frame.Payload)
		if err != nil {
			return nil, err
		}
		if s.GenesisHash != genesisHash {
			return nil, fmt.Errorf("p2p: handshake: genesis hash mismatch in shake")
		}
		if err := <-writeErr; err != nil {
			return nil, err
		}
		_ = conn.SetReadDeadline(time.Time{})
		peerHand.TotalDifficulty = s.TotalDifficulty
		peerHand.TipHeight = s.TipHeight
		return &HandshakeResult{PeerHand: peerHand, Ready: true}, nil
	}
}
