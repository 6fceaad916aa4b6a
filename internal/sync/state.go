// Package sync implements the per-node chain-synchronization state
// machine (§4.9 SyncEngine), grounded on the teacher's node/sync.go:
// its header-locator request shape and snapshot-before/restore-on-
// failure block application pattern, generalized from a single linear
// "catch up on headers then apply blocks" flow to the full
// headers → TxHashSet-archive → blocks state machine §4.9 specifies.
package sync

// State is one node of the SyncEngine state machine:
//
//	NotSyncing → SyncingHeaders → SyncingTxHashSet → ProcessingTxHashSet
//	  → SyncingBlocks → NotSyncing
//	                       ↑
//	    TxHashSetSyncFailed ──────────────────┘ (retry with a different peer)
type State int

const (
	NotSyncing State = iota
	SyncingHeaders
	SyncingTxHashSet
	ProcessingTxHashSet
	SyncingBlocks
	TxHashSetSyncFailed
)

func (s State) String() string {
	switch s {
	case NotSyncing:
		return "NOT_SYNCING"
	case SyncingHeaders:
		return "SYNCING_HEADERS"
	case SyncingTxHashSet:
		return "SYNCING_TXHASHSET"
	case ProcessingTxHashSet:
		return "PROCESSING_TXHASHSET"
	case SyncingBlocks:
		return "SYNCING_BLOCKS"
	case TxHashSetSyncFailed:
		return "TXHASHSET_SYNC_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Config holds the thresholds §4.9 names without giving exact values,
// left as Open Questions the way spec.md leaves the block-weight
// formula open (see internal/chaintypes).
type Config struct {
	// HeaderBatchLimit bounds one GetHeaders request/response, mirroring
	// the teacher's SyncConfig.HeaderBatchLimit.
	HeaderBatchLimit uint64
	// HeaderSyncThreshold is the total-difficulty gap against the best
	// known peer that triggers entry into SyncingHeaders.
	HeaderSyncThreshold uint64
	// CutThroughHorizon is how close header_head must be to the peer's
	// tip before skipping TxHashSet sync entirely and going straight to
	// SyncingBlocks.
	CutThroughHorizon uint64
	// Horizon is how far behind peer.tip.height the requested TxHashSet
	// archive is anchored, leaving enough trailing blocks to replay
	// without needing a second archive.
	Horizon uint64
	// MaxArchiveAttempts bounds retries against a single peer before
	// widening peer selection (§4.9 "after N attempts against M peers").
	MaxArchiveAttempts int
	// MaxArchivePeers bounds the number of distinct peers tried before
	// backing off entirely.
	MaxArchivePeers int
}

// DefaultConfig follows the teacher's SyncConfig defaults for the
// header batch size and picks Mimblewimble-convention values for the
// archive-sync thresholds, since spec.md specifies none: a
// difficulty-gap threshold worth leaving header-only mode for, a
// cut-through horizon wide enough to make a fast-sync archive worth
// fetching, and a trailing horizon deep enough to tolerate normal
// chain-tip churn during the download.
func DefaultConfig() Config {
	return Config{
		HeaderBatchLimit:    512,
		HeaderSyncThreshold: 720,
		CutThroughHorizon:   1440,
		Horizon:             1440,
		MaxArchiveAttempts:  3,
		MaxArchivePeers:     5,
	}
}
