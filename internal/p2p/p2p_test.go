package p2p

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/crypto"
)

func TestWriteReadFrameRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, TypePing, EncodePing(PingPayload{Nonce: 42})))
	frame, rerr := ReadFrame(&buf)
	require.Nil(t, rerr)
	require.Equal(t, TypePing, frame.Type)
	p, err := DecodePing(frame.Payload)
	require.NoError(t, err)
	require.Equal(t, uint64(42), p.Nonce)
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	hdr := make([]byte, FramePrefixBytes)
	hdr[0], hdr[1] = 0, byte(TypePing)
	for i := 2; i < 10; i++ {
		hdr[i] = 0xFF
	}
	buf.Write(hdr)
	_, rerr := ReadFrame(&buf)
	require.NotNil(t, rerr)
	require.True(t, rerr.Disconnect)
}

func TestHandShakeEncodeDecodeRoundTrips(t *testing.T) {
	h := HandPayload{ProtocolVersion: 1, GenesisHash: crypto.Hash{0x01, 0x02}, Capabilities: 3, Nonce: 7, TotalDifficulty: 100, TipHeight: 10}
	out, err := DecodeHand(EncodeHand(h))
	require.NoError(t, err)
	require.Equal(t, h, out)
}

func TestPeerAddrsEncodeDecodeRoundTrips(t *testing.T) {
	p := PeerAddrsPayload{Addrs: []string{"127.0.0.1:3500", "[::1]:3500"}}
	out, err := DecodePeerAddrs(EncodePeerAddrs(p))
	require.NoError(t, err)
	require.Equal(t, p.Addrs, out.Addrs)
}

func TestGetHeadersEncodeDecodeRoundTrips(t *testing.T) {
	g := GetHeadersPayload{Locators: []crypto.Hash{{0x01}, {0x02}}, Limit: 512}
	out, err := DecodeGetHeaders(EncodeGetHeaders(g))
	require.NoError(t, err)
	require.Equal(t, g, out)
}

func TestHeadersEncodeDecodeRoundTrips(t *testing.T) {
	h := HeadersPayload{Headers: []chaintypes.BlockHeader{{Height: 1}, {Height: 2}}}
	out, err := DecodeHeaders(EncodeHeaders(h))
	require.NoError(t, err)
	require.Equal(t, len(h.Headers), len(out.Headers))
	require.Equal(t, h.Headers[0].Height, out.Headers[0].Height)
	require.Equal(t, h.Headers[1].Height, out.Headers[1].Height)
}

func TestBanScoreDecaysOverTime(t *testing.T) {
	var b BanScore
	now := time.Now()
	b.Add(now, 80)
	require.False(t, b.ShouldBan(now))
	require.True(t, b.ShouldThrottle(now))

	b.Add(now, 25)
	require.True(t, b.ShouldBan(now))

	later := now.Add(150 * time.Minute)
	require.Less(t, b.Score(later), 105)
}

func TestPenalizeAppliesViolationPoints(t *testing.T) {
	var b BanScore
	now := time.Now()

	b.Penalize(now, ViolationOversizeFrame)
	require.False(t, b.ShouldThrottle(now))

	b.Penalize(now, ViolationBadHandshake)
	require.True(t, b.ShouldThrottle(now))

	b.Penalize(now, ViolationArchiveRejected)
	require.True(t, b.ShouldBan(now))
}

func TestHandshakeSucceedsOnMatchingGenesis(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	genesis := crypto.Hash{0xAB}
	resultCh := make(chan *HandshakeResult, 1)
	errCh := make(chan error, 1)
	go func() {
		r, err := Handshake(serverConn, genesis, HandPayload{Capabilities: 1, Nonce: 2, TipHeight: 5})
		resultCh <- r
		errCh <- err
	}()

	r, err := Handshake(clientConn, genesis, HandPayload{Capabilities: 1, Nonce: 3, TipHeight: 9})
	require.NoError(t, err)
	require.True(t, r.Ready)
	require.Equal(t, uint64(5), r.PeerHand.TipHeight)

	require.NoError(t, <-errCh)
	serverResult := <-resultCh
	require.Equal(t, uint64(9), serverResult.PeerHand.TipHeight)
}

func TestHandshakeRejectsGenesisMismatch(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		_, _ = Handshake(serverConn, crypto.Hash{0xCD}, HandPayload{})
	}()

	_, err := Handshake(clientConn, crypto.Hash{0xAB}, HandPayload{})
	require.Error(t, err)
}
