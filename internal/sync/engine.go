package sync

import (
	"fmt"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"wimble.dev/node/internal/chain"
	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/consensus"
	"wimble.dev/node/internal/corerr"
	"wimble.dev/node/internal/crypto"
	"wimble.dev/node/internal/p2p"
	"wimble.dev/node/internal/txhashset"
)

// ChainView is the subset of *chain.Chain the engine drives directly,
// narrowed the way txpool.ChainView narrows Chain's read surface —
// kept as an interface so tests can substitute a fake.
type ChainView interface {
	Head() chaintypes.BlockHeader
	HeaderHead() chaintypes.BlockHeader
	AcceptHeader(header chaintypes.BlockHeader) error
	ProcessBlock(block chaintypes.FullBlock) error
	SwapState(header chaintypes.BlockHeader, state *txhashset.TxHashSet, origins []chain.OriginRecord)
}

// PeerTip is what a peer's Hand/Shake advertised about its own chain
// position, the input Evaluate compares against our own head.
type PeerTip struct {
	Peer            string
	TotalDifficulty uint64
	Height          uint64
}

// Request tracks one outstanding request to a peer (§4.9 "outstanding
// requests carry deadlines; on timeout the peer is demoted").
type Request struct {
	Peer     string
	Kind     string
	Sent     time.Time
	Deadline time.Time
}

// Engine is the per-node SyncEngine (§4.9). It owns the sync state
// machine and per-peer request/ban-score bookkeeping; it does not own
// the network connection itself — callers feed it peer advertisements
// and received messages, and read back what to request next.
type Engine struct {
	mu    stdsync.Mutex
	log   *zap.Logger
	chain ChainView
	cfg   Config

	state State

	syncPeer      string
	archiveTarget uint64
	peerTipHeight uint64

	attemptsByPeer map[string]int
	triedPeers     map[string]struct{}

	outstanding map[string]Request
	banScores   map[string]*p2p.BanScore
}

func New(log *zap.Logger, view ChainView, cfg Config) *Engine {
	return &Engine{
		log:            log,
		chain:          view,
		cfg:            cfg,
		state:          NotSyncing,
		attemptsByPeer: make(map[string]int),
		triedPeers:     make(map[string]struct{}),
		outstanding:    make(map[string]Request),
		banScores:      make(map[string]*p2p.BanScore),
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Evaluate compares our head against a peer's advertised tip and
// transitions NotSyncing → SyncingHeaders when the gap exceeds
// HeaderSyncThreshold, remembering which peer to sync against.
func (e *Engine) Evaluate(tip PeerTip) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != NotSyncing {
		return
	}
	ours := e.chain.Head().TotalDifficulty
	if tip.TotalDifficulty <= ours || tip.TotalDifficulty-ours < e.cfg.HeaderSyncThreshold {
		return
	}
	e.state = SyncingHeaders
	e.syncPeer = tip.Peer
	e.peerTipHeight = tip.Height
	e.log.Info("sync: entering SYNCING_HEADERS", zap.String("peer", tip.Peer), zap.Uint64("peer_total_difficulty", tip.TotalDifficulty), zap.Uint64("our_total_difficulty", ours))
}

// HeaderSyncRequest builds the next GetHeaders request, locatored on
// our current header_head the way the teacher's HeaderSyncRequest
// anchors on chainState.TipHash.
func (e *Engine) HeaderSyncRequest() p2p.GetHeadersPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	head := e.chain.HeaderHead()
	return p2p.GetHeadersPayload{
		Locators: []crypto.Hash{head.Hash()},
		Limit:    uint32(e.cfg.HeaderBatchLimit),
	}
}

// OnHeaders applies a batch of headers and decides the next
// transition: close enough to the peer's tip skips straight to
// SyncingBlocks, otherwise a TxHashSet archive is requested at
// peer.tip.height - Horizon.
func (e *Engine) OnHeaders(headers []chaintypes.BlockHeader) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != SyncingHeaders {
		return fmt.Errorf("sync: OnHeaders called outside SYNCING_HEADERS (state=%s)", e.state)
	}
	for _, h := range headers {
		if err := e.chain.AcceptHeader(h); err != nil {
			return err
		}
	}

	head := e.chain.HeaderHead()
	remaining := uint64(0)
	if e.peerTipHeight > head.Height {
		remaining = e.peerTipHeight - head.Height
	}
	if remaining <= e.cfg.CutThroughHorizon {
		e.state = SyncingBlocks
		e.log.Info("sync: header_head within cut-through horizon, entering SYNCING_BLOCKS", zap.Uint64("remaining", remaining))
		return nil
	}
	e.state = SyncingTxHashSet
	target := uint64(0)
	if e.peerTipHeight > e.cfg.Horizon {
		target = e.peerTipHeight - e.cfg.Horizon
	}
	e.archiveTarget = target
	e.log.Info("sync: entering SYNCING_TXHASHSET", zap.Uint64("target_height", target))
	return nil
}

// ArchiveTarget reports the height the next TxHashSetRequest should
// name, valid once the engine has entered SyncingTxHashSet.
func (e *Engine) ArchiveTarget() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.archiveTarget
}

// OnTxHashSetArchive validates a received archive end to end (§4.9
// "validate the archive end-to-end (all MMR roots, all proofs, all
// signatures, commitment-sum) before swapping into live state") and,
// on success, swaps it into the live chain and advances to
// SyncingBlocks. On failure it records the attempt, penalizes the
// offending peer with a ViolationArchiveRejected ban score (§8 E6: an
// archive with a single flipped bit is rejected outright, not
// throttled), and transitions to TxHashSetSyncFailed.
func (e *Engine) OnTxHashSetArchive(peer string, archive txhashset.Archive) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != SyncingTxHashSet {
		return fmt.Errorf("sync: OnTxHashSetArchive called outside SYNCING_TXHASHSET (state=%s)", e.state)
	}
	e.state = ProcessingTxHashSet

	state, err := txhashset.LoadArchive(archive)
	if err != nil {
		return e.failArchiveLocked(peer, err)
	}

	outputsByCommitment := make(map[crypto.Commitment]chaintypes.TransactionOutput, len(archive.LiveOutputs))
	for _, lo := range archive.LiveOutputs {
		outputsByCommitment[lo.Output.Commitment] = lo.Output
	}
	outputs := make([]chaintypes.TransactionOutput, 0, len(archive.LiveOutputs))
	for _, lo := range archive.LiveOutputs {
		outputs = append(outputs, lo.Output)
	}

	var totalFees uint64
	for _, k := range archive.Kernels {
		totalFees += k.Fee
	}
	overCommitment := crypto.CommitTransparent((archive.Header.Height+1)*consensus.BlockReward + totalFees)
	if err := txhashset.ValidateFull(outputs, archive.Kernels, overCommitment); err != nil {
		return e.failArchiveLocked(peer, err)
	}

	origins := make([]chain.OriginRecord, 0, len(archive.LiveOutputs))
	for _, lo := range archive.LiveOutputs {
		origins = append(origins, chain.OriginRecord{
			Commitment: lo.Output.Commitment,
			Height:     lo.Height,
			IsCoinbase: lo.IsCoinbase,
		})
	}
	e.chain.SwapState(archive.Header, state, origins)

	e.state = SyncingBlocks
	e.triedPeers = make(map[string]struct{})
	e.attemptsByPeer = make(map[string]int)
	e.log.Info("sync: TxHashSet archive accepted, entering SYNCING_BLOCKS", zap.String("peer", peer), zap.Uint64("height", archive.Header.Height))
	return nil
}

func (e *Engine) failArchiveLocked(peer string, cause error) error {
	e.state = TxHashSetSyncFailed
	e.attemptsByPeer[peer]++
	e.triedPeers[peer] = struct{}{}
	e.banScore(peer).Penalize(time.Now(), p2p.ViolationArchiveRejected)
	e.log.Warn("sync: TxHashSet archive rejected", zap.String("peer", peer), zap.Error(cause), zap.Int("attempts", e.attemptsByPeer[peer]))
	return corerr.BadDataf(corerr.RuleArchiveInvalid, cause)
}

// RetryOrWiden decides, from TxHashSetSyncFailed, whether to retry the
// same peer, pick a different one, or give up and back off to
// NotSyncing once MaxArchivePeers peers have been tried — §4.9 "after N attempts
// against M peers, widen peer selection and back off."
func (e *Engine) RetryOrWiden(candidatePeer string) (state State, shouldRetry bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != TxHashSetSyncFailed {
		return e.state, false
	}
	if e.attemptsByPeer[candidatePeer] < e.cfg.MaxArchiveAttempts {
		e.state = SyncingTxHashSet
		return e.state, true
	}
	if len(e.triedPeers) >= e.cfg.MaxArchivePeers {
		e.state = NotSyncing
		e.log.Warn("sync: exhausted archive peers, backing off to NOT_SYNCING")
		return e.state, false
	}
	e.state = SyncingTxHashSet
	e.syncPeer = candidatePeer
	return e.state, true
}

// OnBlock applies a fully-synced block during SyncingBlocks (or normal
// relay once NotSyncing), and returns to NotSyncing once the chain
// head has caught up to the peer's advertised tip.
func (e *Engine) OnBlock(block chaintypes.FullBlock) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.chain.ProcessBlock(block); err != nil {
		return err
	}
	if e.state == SyncingBlocks && e.chain.Head().Height >= e.peerTipHeight {
		e.state = NotSyncing
		e.log.Info("sync: caught up, returning to NOT_SYNCING")
	}
	return nil
}

func (e *Engine) banScore(peer string) *p2p.BanScore {
	b, ok := e.banScores[peer]
	if !ok {
		b = &p2p.BanScore{}
		e.banScores[peer] = b
	}
	return b
}

// RecordMisbehavior applies a ban-score delta for a protocol violation
// outside archive validation (an invalid header or invalid block,
// §4.9 "persistent misbehavior ... bans") and reports whether the
// peer has now crossed the ban threshold. Callers should pass a
// p2p.Violation's Points(), e.g. p2p.ViolationInvalidBlock.Points(),
// rather than an ad hoc delta.
func (e *Engine) RecordMisbehavior(peer string, delta int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.banScore(peer).Add(time.Now(), delta) >= p2p.BanThreshold
}

// TrackRequest records an outstanding request's deadline.
func (e *Engine) TrackRequest(peer, kind string, deadline time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outstanding[peer] = Request{Peer: peer, Kind: kind, Sent: time.Now(), Deadline: deadline}
}

// ClearRequest marks a peer's outstanding request satisfied.
func (e *Engine) ClearRequest(peer string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.outstanding, peer)
}

// Timeouts returns peers whose outstanding request's deadline has
// passed as of now, for the caller to demote and clear.
func (e *Engine) Timeouts(now time.Time) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var expired []string
	for peer, req := range e.outstanding {
		if now.After(req.Deadline) {
			expired = append(expired, peer)
		}
	}
	for _, peer := range expired {
		delete(e.outstanding, peer)
	}
	return expired
}
