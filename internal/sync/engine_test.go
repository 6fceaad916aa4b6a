package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wimble.dev/node/internal/chain"
	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/crypto"
	"wimble.dev/node/internal/txhashset"
)

type fakeChain struct {
	head       chaintypes.BlockHeader
	headerHead chaintypes.BlockHeader
	accepted   []chaintypes.BlockHeader
	processed  []chaintypes.FullBlock
	swapped    bool

	acceptErr error
	blockErr  error
}

func (f *fakeChain) Head() chaintypes.BlockHeader       { return f.head }
func (f *fakeChain) HeaderHead() chaintypes.BlockHeader { return f.headerHead }

func (f *fakeChain) AcceptHeader(h chaintypes.BlockHeader) error {
	if f.acceptErr != nil {
		return f.acceptErr
	}
	f.accepted = append(f.accepted, h)
	f.headerHead = h
	return nil
}

func (f *fakeChain) ProcessBlock(b chaintypes.FullBlock) error {
	if f.blockErr != nil {
		return f.blockErr
	}
	f.processed = append(f.processed, b)
	f.head = b.Header
	return nil
}

func (f *fakeChain) SwapState(h chaintypes.BlockHeader, state *txhashset.TxHashSet, origins []chain.OriginRecord) {
	f.swapped = true
	f.head = h
	f.headerHead = h
}

func newTestEngine(fc *fakeChain, cfg Config) *Engine {
	return New(zap.NewNop(), fc, cfg)
}

func TestEvaluateEntersSyncingHeadersOnLargeGap(t *testing.T) {
	fc := &fakeChain{head: chaintypes.BlockHeader{TotalDifficulty: 100}}
	e := newTestEngine(fc, DefaultConfig())
	e.Evaluate(PeerTip{Peer: "p1", TotalDifficulty: 100 + DefaultConfig().HeaderSyncThreshold + 1, Height: 5000})
	require.Equal(t, SyncingHeaders, e.State())
}

func TestEvaluateStaysNotSyncingOnSmallGap(t *testing.T) {
	fc := &fakeChain{head: chaintypes.BlockHeader{TotalDifficulty: 100}}
	e := newTestEngine(fc, DefaultConfig())
	e.Evaluate(PeerTip{Peer: "p1", TotalDifficulty: 105, Height: 10})
	require.Equal(t, NotSyncing, e.State())
}

func TestOnHeadersEntersSyncingBlocksWithinCutThroughHorizon(t *testing.T) {
	cfg := DefaultConfig()
	fc := &fakeChain{head: chaintypes.BlockHeader{TotalDifficulty: 0}}
	e := newTestEngine(fc, cfg)
	e.Evaluate(PeerTip{Peer: "p1", TotalDifficulty: cfg.HeaderSyncThreshold + 1, Height: 100})

	require.NoError(t, e.OnHeaders([]chaintypes.BlockHeader{{Height: 100}}))
	require.Equal(t, SyncingBlocks, e.State())
}

func TestOnHeadersEntersSyncingTxHashSetWhenFarFromTip(t *testing.T) {
	cfg := DefaultConfig()
	fc := &fakeChain{head: chaintypes.BlockHeader{TotalDifficulty: 0}}
	e := newTestEngine(fc, cfg)
	e.Evaluate(PeerTip{Peer: "p1", TotalDifficulty: cfg.HeaderSyncThreshold + 1, Height: 1_000_000})

	require.NoError(t, e.OnHeaders([]chaintypes.BlockHeader{{Height: 1}}))
	require.Equal(t, SyncingTxHashSet, e.State())
	require.Equal(t, uint64(1_000_000-cfg.Horizon), e.ArchiveTarget())
}

func TestOnTxHashSetArchiveRejectsBadRootsAndBansPeer(t *testing.T) {
	cfg := DefaultConfig()
	fc := &fakeChain{head: chaintypes.BlockHeader{TotalDifficulty: 0}}
	e := newTestEngine(fc, cfg)
	e.Evaluate(PeerTip{Peer: "p1", TotalDifficulty: cfg.HeaderSyncThreshold + 1, Height: 1_000_000})
	require.NoError(t, e.OnHeaders([]chaintypes.BlockHeader{{Height: 1}}))
	require.Equal(t, SyncingTxHashSet, e.State())

	badArchive := txhashset.Archive{Header: chaintypes.BlockHeader{OutputRoot: crypto.Hash{0xFF}}}
	err := e.OnTxHashSetArchive("p1", badArchive)
	require.Error(t, err)
	require.Equal(t, TxHashSetSyncFailed, e.State())
	// OnTxHashSetArchive already added 100 to p1's ban score on rejection
	// (§8 E6); a further 1-point delta should now cross BanThreshold.
	require.True(t, e.RecordMisbehavior("p1", 1))

	require.False(t, fc.swapped)
}

func TestRetryOrWidenEventuallyBacksOff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxArchiveAttempts = 1
	cfg.MaxArchivePeers = 1
	fc := &fakeChain{}
	e := newTestEngine(fc, cfg)
	e.Evaluate(PeerTip{Peer: "p1", TotalDifficulty: cfg.HeaderSyncThreshold + 1, Height: 1_000_000})
	require.NoError(t, e.OnHeaders([]chaintypes.BlockHeader{{Height: 1}}))

	badArchive := txhashset.Archive{Header: chaintypes.BlockHeader{OutputRoot: crypto.Hash{0xFF}}}
	require.Error(t, e.OnTxHashSetArchive("p1", badArchive))

	state, retry := e.RetryOrWiden("p1")
	require.False(t, retry)
	require.Equal(t, NotSyncing, state)
}

func TestOnBlockReturnsToNotSyncingOnceCaughtUp(t *testing.T) {
	cfg := DefaultConfig()
	fc := &fakeChain{head: chaintypes.BlockHeader{Height: 9}}
	e := newTestEngine(fc, cfg)
	e.mu.Lock()
	e.state = SyncingBlocks
	e.peerTipHeight = 10
	e.mu.Unlock()

	require.NoError(t, e.OnBlock(chaintypes.FullBlock{Header: chaintypes.BlockHeader{Height: 10}}))
	require.Equal(t, NotSyncing, e.State())
}

func TestTimeoutsExpireTrackedRequests(t *testing.T) {
	fc := &fakeChain{}
	e := newTestEngine(fc, DefaultConfig())
	e.TrackRequest("p1", "headers", time.Now().Add(-time.Second))
	e.TrackRequest("p2", "headers", time.Now().Add(time.Hour))

	expired := e.Timeouts(time.Now())
	require.Equal(t, []string{"p1"}, expired)
}

func TestRecordMisbehaviorReportsBanThreshold(t *testing.T) {
	fc := &fakeChain{}
	e := newTestEngine(fc, DefaultConfig())
	require.False(t, e.RecordMisbehavior("p1", 50))
	require.True(t, e.RecordMisbehavior("p1", 60))
}
