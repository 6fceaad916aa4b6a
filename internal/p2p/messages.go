package p2p

import (
	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/corerr"
	"wimble.dev/node/internal/crypto"
	"wimble.dev/node/internal/txhashset"
	"wimble.dev/node/internal/wire"
)

// HandPayload is the initial handshake message (§6): genesis hash,
// capability bits, and an anti-self-connect nonce, generalized from the
// teacher's VersionPayload (protocol_version/chain_id/nonce) but keyed
// to this chain's genesis rather than a chain_id field.
type HandPayload struct {
	ProtocolVersion uint32
	GenesisHash     crypto.Hash
	Capabilities    uint32
	Nonce           uint64
	TotalDifficulty uint64
	TipHeight       uint64
}

func EncodeHand(h HandPayload) []byte {
	w := wire.NewWriter()
	w.U32(h.ProtocolVersion).Raw(h.GenesisHash[:]).U32(h.Capabilities).U64(h.Nonce).U64(h.TotalDifficulty).U64(h.TipHeight)
	return w.Bytes()
}

func DecodeHand(b []byte) (HandPayload, error) {
	r := wire.NewReader(b)
	var h HandPayload
	var err error
	if h.ProtocolVersion, err = r.U32(); err != nil {
		return h, err
	}
	gh, err := r.Bytes(32)
	if err != nil {
		return h, err
	}
	copy(h.GenesisHash[:], gh)
	if h.Capabilities, err = r.U32(); err != nil {
		return h, err
	}
	if h.Nonce, err = r.U64(); err != nil {
		return h, err
	}
	if h.TotalDifficulty, err = r.U64(); err != nil {
		return h, err
	}
	if h.TipHeight, err = r.U64(); err != nil {
		return h, err
	}
	return h, r.Finish()
}

// ShakePayload is Hand's acknowledgement, carrying the same fields so
// both sides learn each other's chain position from a single round
// trip (the teacher's handshake needs a separate verack; this protocol
// folds the ack into one typed reply since neither side has anything
// further to negotiate).
type ShakePayload = HandPayload

func EncodeShake(s ShakePayload) []byte { return EncodeHand(s) }
func DecodeShake(b []byte) (ShakePayload, error) { return DecodeHand(b) }

type PingPayload struct{ Nonce uint64 }
type PongPayload struct{ Nonce uint64 }

func EncodePing(p PingPayload) []byte { return wire.NewWriter().U64(p.Nonce).Bytes() }
func DecodePing(b []byte) (PingPayload, error) {
	r := wire.NewReader(b)
	n, err := r.U64()
	if err != nil {
		return PingPayload{}, err
	}
	return PingPayload{Nonce: n}, r.Finish()
}
func EncodePong(p PongPayload) []byte { return wire.NewWriter().U64(p.Nonce).Bytes() }
func DecodePong(b []byte) (PongPayload, error) {
	r := wire.NewReader(b)
	n, err := r.U64()
	if err != nil {
		return PongPayload{}, err
	}
	return PongPayload{Nonce: n}, r.Finish()
}

// GetPeerAddrsPayload/PeerAddrsPayload exchange gossip addresses.
type GetPeerAddrsPayload struct{}

func EncodeGetPeerAddrs(GetPeerAddrsPayload) []byte { return nil }
func DecodeGetPeerAddrs(b []byte) (GetPeerAddrsPayload, error) {
	if len(b) != 0 {
		return GetPeerAddrsPayload{}, corerr.BadData(corerr.RuleTrailingBytes)
	}
	return GetPeerAddrsPayload{}, nil
}

type PeerAddrsPayload struct{ Addrs []string }

func EncodePeerAddrs(p PeerAddrsPayload) []byte {
	w := wire.NewWriter()
	w.U16(uint16(len(p.Addrs)))
	for _, a := range p.Addrs {
		w.LenPrefixed2([]byte(a))
	}
	return w.Bytes()
}

func DecodePeerAddrs(b []byte) (PeerAddrsPayload, error) {
	r := wire.NewReader(b)
	n, err := r.SeqCount2()
	if err != nil {
		return PeerAddrsPayload{}, err
	}
	out := PeerAddrsPayload{Addrs: make([]string, 0, n)}
	for i := uint16(0); i < n; i++ {
		a, err := r.LenPrefixed2()
		if err != nil {
			return PeerAddrsPayload{}, err
		}
		out.Addrs = append(out.Addrs, string(a))
	}
	return out, r.Finish()
}

// GetHeadersPayload requests headers following any of a set of
// locator hashes, the teacher's getheaders shape (node/p2p/headers.go).
type GetHeadersPayload struct {
	Locators []crypto.Hash
	Limit    uint32
}

func EncodeGetHeaders(g GetHeadersPayload) []byte {
	w := wire.NewWriter()
	w.U16(uint16(len(g.Locators)))
	for _, h := range g.Locators {
		w.Raw(h[:])
	}
	w.U32(g.Limit)
	return w.Bytes()
}

func DecodeGetHeaders(b []byte) (GetHeadersPayload, error) {
	r := wire.NewReader(b)
	n, err := r.SeqCount2()
	if err != nil {
		return GetHeadersPayload{}, err
	}
	out := GetHeadersPayload{Locators: make([]crypto.Hash, n)}
	for i := range out.Locators {
		h, err := r.Bytes(32)
		if err != nil {
			return GetHeadersPayload{}, err
		}
		copy(out.Locators[i][:], h)
	}
	if out.Limit, err = r.U32(); err != nil {
		return GetHeadersPayload{}, err
	}
	return out, r.Finish()
}

// HeadersPayload carries a batch of headers (§4.9 "request headers in
// fixed-size batches"). HeaderPayload is the single-header variant used
// for unsolicited announcement of a just-mined block's header.
type HeaderPayload struct{ Header chaintypes.BlockHeader }
type HeadersPayload struct{ Headers []chaintypes.BlockHeader }

func EncodeHeader(h HeaderPayload) []byte {
	w := wire.NewWriter()
	h.Header.Encode(w)
	return w.Bytes()
}

func DecodeHeaderMsg(b []byte) (HeaderPayload, error) {
	r := wire.NewReader(b)
	h, err := chaintypes.DecodeHeader(r)
	if err != nil {
		return HeaderPayload{}, err
	}
	return HeaderPayload{Header: h}, r.Finish()
}

func EncodeHeaders(h HeadersPayload) []byte {
	w := wire.NewWriter()
	w.U64(uint64(len(h.Headers)))
	for _, hdr := range h.Headers {
		hdr.Encode(w)
	}
	return w.Bytes()
}

func DecodeHeaders(b []byte) (HeadersPayload, error) {
	r := wire.NewReader(b)
	n, err := r.SeqCount8()
	if err != nil {
		return HeadersPayload{}, err
	}
	out := HeadersPayload{Headers: make([]chaintypes.BlockHeader, 0, n)}
	for i := uint64(0); i < n; i++ {
		h, err := chaintypes.DecodeHeader(r)
		if err != nil {
			return HeadersPayload{}, err
		}
		out.Headers = append(out.Headers, h)
	}
	return out, r.Finish()
}

type GetBlockPayload struct{ Hash crypto.Hash }

func EncodeGetBlock(g GetBlockPayload) []byte { return wire.NewWriter().Raw(g.Hash[:]).Bytes() }
func DecodeGetBlock(b []byte) (GetBlockPayload, error) {
	r := wire.NewReader(b)
	h, err := r.Bytes(32)
	if err != nil {
		return GetBlockPayload{}, err
	}
	var out GetBlockPayload
	copy(out.Hash[:], h)
	return out, r.Finish()
}

type BlockPayload struct{ Block chaintypes.FullBlock }

func EncodeBlockMsg(b BlockPayload) []byte {
	w := wire.NewWriter()
	b.Block.Encode(w)
	return w.Bytes()
}

func DecodeBlockMsg(b []byte) (BlockPayload, error) {
	r := wire.NewReader(b)
	blk, err := chaintypes.DecodeBlock(r)
	if err != nil {
		return BlockPayload{}, err
	}
	return BlockPayload{Block: blk}, r.Finish()
}

// TransactionPayload and StemTransactionPayload carry the identical wire
// shape; only the frame Type distinguishes a Dandelion-stem relay from a
// normal fluff broadcast (§4.8).
type TransactionPayload struct{ Tx chaintypes.Transaction }

func EncodeTransaction(t TransactionPayload) []byte {
	w := wire.NewWriter()
	w.Raw(t.Tx.Offset[:])
	t.Tx.Body.Encode(w)
	return w.Bytes()
}

func DecodeTransaction(b []byte) (TransactionPayload, error) {
	r := wire.NewReader(b)
	off, err := r.Bytes(32)
	if err != nil {
		return TransactionPayload{}, err
	}
	var tx chaintypes.Transaction
	copy(tx.Offset[:], off)
	tx.Body, err = chaintypes.DecodeBody(r)
	if err != nil {
		return TransactionPayload{}, err
	}
	return TransactionPayload{Tx: tx}, r.Finish()
}

type TxHashSetRequestPayload struct{ Height uint64 }

func EncodeTxHashSetRequest(t TxHashSetRequestPayload) []byte {
	return wire.NewWriter().U64(t.Height).Bytes()
}

func DecodeTxHashSetRequest(b []byte) (TxHashSetRequestPayload, error) {
	r := wire.NewReader(b)
	h, err := r.U64()
	if err != nil {
		return TxHashSetRequestPayload{}, err
	}
	return TxHashSetRequestPayload{Height: h}, r.Finish()
}

// TxHashSetArchivePayload wraps a txhashset.Archive for transport. Field
// encoding mirrors chaintypes' body encoding style (count-prefixed
// sequences of fixed-size hashes / canonically-encoded elements).
type TxHashSetArchivePayload struct{ Archive txhashset.Archive }

func EncodeTxHashSetArchive(p TxHashSetArchivePayload) []byte {
	w := wire.NewWriter()
	p.Archive.Header.Encode(w)
	w.U64(uint64(len(p.Archive.OutputLeafHashes)))
	for _, h := range p.Archive.OutputLeafHashes {
		w.Raw(h[:])
	}
	w.U64(uint64(len(p.Archive.ProofLeafHashes)))
	for _, h := range p.Archive.ProofLeafHashes {
		w.Raw(h[:])
	}
	w.U64(uint64(len(p.Archive.Kernels)))
	for _, k := range p.Archive.Kernels {
		k.Encode(w)
	}
	w.U64(uint64(len(p.Archive.LiveOutputs)))
	for _, lo := range p.Archive.LiveOutputs {
		w.U64(lo.Pos).U64(lo.Height)
		if lo.IsCoinbase {
			w.U8(1)
		} else {
			w.U8(0)
		}
		lo.Output.Encode(w)
	}
	return w.Bytes()
}

func DecodeTxHashSetArchive(b []byte) (TxHashSetArchivePayload, error) {
	r := wire.NewReader(b)
	var a txhashset.Archive
	var err error
	if a.Header, err = chaintypes.DecodeHeader(r); err != nil {
		return TxHashSetArchivePayload{}, err
	}

	n, err := r.SeqCount8()
	if err != nil {
		return TxHashSetArchivePayload{}, err
	}
	a.OutputLeafHashes = make([]crypto.Hash, n)
	for i := range a.OutputLeafHashes {
		h, err := r.Bytes(32)
		if err != nil {
			return TxHashSetArchivePayload{}, err
		}
		copy(a.OutputLeafHashes[i][:], h)
	}

	n, err = r.SeqCount8()
	if err != nil {
		return TxHashSetArchivePayload{}, err
	}
	a.ProofLeafHashes = make([]crypto.Hash, n)
	for i := range a.ProofLeafHashes {
		h, err := r.Bytes(32)
		if err != nil {
			return TxHashSetArchivePayload{}, err
		}
		copy(a.ProofLeafHashes[i][:], h)
	}

	n, err = r.SeqCount8()
	if err != nil {
		return TxHashSetArchivePayload{}, err
	}
	a.Kernels = make([]chaintypes.TransactionKernel, n)
	for i := range a.Kernels {
		a.Kernels[i], err = chaintypes.DecodeKernel(r)
		if err != nil {
			return TxHashSetArchivePayload{}, err
		}
	}

	n, err = r.SeqCount8()
	if err != nil {
		return TxHashSetArchivePayload{}, err
	}
	a.LiveOutputs = make([]txhashset.LiveOutput, n)
	for i := range a.LiveOutputs {
		pos, err := r.U64()
		if err != nil {
			return TxHashSetArchivePayload{}, err
		}
		height, err := r.U64()
		if err != nil {
			return TxHashSetArchivePayload{}, err
		}
		coinbaseByte, err := r.U8()
		if err != nil {
			return TxHashSetArchivePayload{}, err
		}
		out, err := chaintypes.DecodeOutput(r)
		if err != nil {
			return TxHashSetArchivePayload{}, err
		}
		a.LiveOutputs[i] = txhashset.LiveOutput{Pos: pos, Height: height, IsCoinbase: coinbaseByte != 0, Output: out}
	}

	return TxHashSetArchivePayload{Archive: a}, r.Finish()
}
