package chain

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wimble.dev/node/internal/blockdb"
	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/crypto"
	"wimble.dev/node/internal/mmr"
	"wimble.dev/node/internal/txhashset"
)

func coinbaseGenesis(t *testing.T, reward uint64) chaintypes.FullBlock {
	t.Helper()
	var blind crypto.BlindingFactor
	blind[31] = 0x42
	outCommit, err := crypto.Commit(reward, blind)
	require.NoError(t, err)
	var nonce [32]byte
	nonce[0] = 0x42
	rp, err := crypto.RangeProofProve(reward, blind, nonce, crypto.RangeProofMessage{})
	require.NoError(t, err)
	out := chaintypes.TransactionOutput{Features: chaintypes.FeatureCoinbase, Commitment: outCommit, RangeProof: rp}

	var sk crypto.SecretKey
	sk[31] = 0x42
	excess, err := crypto.Commit(0, crypto.BlindingFactor(sk))
	require.NoError(t, err)
	kernel := chaintypes.TransactionKernel{Features: chaintypes.FeatureCoinbase, ExcessCommitment: excess}
	sig, err := crypto.SchnorrSign(sk, chaintypes.KernelSignatureMessage(kernel.Features, kernel.Fee, kernel.LockHeight), crypto.GenerateNonce())
	require.NoError(t, err)
	kernel.ExcessSignature = sig

	scratchOut := mmr.New()
	scratchProof := mmr.New()
	_, err = scratchOut.Append(out.OutputID())
	require.NoError(t, err)
	_, err = scratchProof.Append(out.RangeProofLeaf())
	require.NoError(t, err)
	scratchKernel := mmr.New()
	_, err = scratchKernel.Append(kernel.Hash())
	require.NoError(t, err)

	header := chaintypes.BlockHeader{
		Version:         1,
		Height:          0,
		Timestamp:       1000,
		OutputRoot:      scratchOut.Root(),
		RangeProofRoot:  scratchProof.Root(),
		KernelRoot:      scratchKernel.Root(),
		OutputMMRSize:   scratchOut.Size(),
		KernelMMRSize:   scratchKernel.Size(),
		TotalDifficulty: 1,
	}
	return chaintypes.FullBlock{Header: header, Body: chaintypes.TransactionBody{Outputs: []chaintypes.TransactionOutput{out}, Kernels: []chaintypes.TransactionKernel{kernel}}}
}

func newTestChain(t *testing.T) *Chain {
	t.Helper()
	db, err := blockdb.Open(filepath.Join(t.TempDir(), "bdb"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	genesis := coinbaseGenesis(t, 0) // reward 0 keeps I1's balance trivial at height 0
	c, err := New(db, zap.NewNop(), genesis)
	require.NoError(t, err)
	return c
}

func TestNewChainAppliesGenesis(t *testing.T) {
	c := newTestChain(t)
	require.Equal(t, uint64(0), c.Head().Height)
	require.Equal(t, uint64(1), c.Head().TotalDifficulty)
}

func TestLoadBlockMarksValidatedOnBlocksFromTrustedStore(t *testing.T) {
	c := newTestChain(t)
	loaded, ok, err := c.loadBlock(c.Head().Hash())
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, loaded.WasValidated(), "a block read back from BlockDB must be marked already-validated")
}

// blankChain returns a Chain with an empty TxHashSet and no genesis
// applied yet, so a single applyOnTip call is that block's first and
// only state application — unlike newTestChain, whose genesis is
// already committed by New.
func blankChain(t *testing.T) *Chain {
	t.Helper()
	db, err := blockdb.Open(filepath.Join(t.TempDir(), "bdb"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Chain{
		db:            db,
		state:         txhashset.New(),
		log:           zap.NewNop(),
		headersByHash: make(map[crypto.Hash]chaintypes.BlockHeader),
		childrenOf:    make(map[crypto.Hash][]crypto.Hash),
		undoByBlock:   make(map[crypto.Hash]blockdb.UndoRecord),
		origins:       make(map[crypto.Commitment]outputOrigin),
		orphans:       newOrphanPool(OrphanPoolCapacity),
	}
}

func TestApplyOnTipSkipsRevalidationOfAlreadyValidatedBlock(t *testing.T) {
	// A timestamp this far in the future fails ValidateHeader's
	// future-timestamp check but leaves the body (and its MMR roots)
	// untouched, so it isolates the validator-tier skip from
	// TxHashSet.ApplyBlock's own, separate root-consistency check.
	tamper := func(blk chaintypes.FullBlock) chaintypes.FullBlock {
		blk.Header.Timestamp = 9_999_999_999
		return blk
	}

	freshBlock := tamper(coinbaseGenesis(t, 0))
	require.False(t, freshBlock.WasValidated())
	require.ErrorContains(t, blankChain(t).applyOnTip(freshBlock), "FutureTimestamp")

	validatedBlock := tamper(coinbaseGenesis(t, 0))
	validatedBlock.MarkValidated()
	require.True(t, validatedBlock.WasValidated())
	require.NoError(t, blankChain(t).applyOnTip(validatedBlock), "a block already marked validated must skip re-validation even though its header was tampered with")
}

func TestProcessBlockOrphansWhenParentUnknown(t *testing.T) {
	c := newTestChain(t)
	unknownParent := chaintypes.FullBlock{Header: chaintypes.BlockHeader{Version: 1, Height: 5, Timestamp: 2000}}
	err := c.ProcessBlock(unknownParent)
	require.ErrorContains(t, err, "OrphanBlock")
	require.Equal(t, 1, c.orphans.Len())
}

func TestAcceptHeaderRejectsUnknownPrev(t *testing.T) {
	c := newTestChain(t)
	var badPrev crypto.Hash
	badPrev[0] = 0xFF
	header := chaintypes.BlockHeader{Version: 1, Height: 1, Timestamp: 2000, PrevHash: badPrev}
	err := c.AcceptHeader(header)
	require.ErrorContains(t, err, "PrevHashUnknown")
}

func TestAcceptHeaderAcceptsExtensionOfHead(t *testing.T) {
	c := newTestChain(t)
	header := chaintypes.BlockHeader{
		Version:         1,
		Height:          1,
		Timestamp:       2000,
		PrevHash:        c.Head().Hash(),
		TotalDifficulty: c.Head().TotalDifficulty + 1,
	}
	require.NoError(t, c.AcceptHeader(header))
	require.Equal(t, header.Hash(), c.HeaderHead().Hash())
}

func TestOrphanPoolAdmitsChildOnParentArrival(t *testing.T) {
	p := newOrphanPool(10)
	var parentHash crypto.Hash
	parentHash[0] = 0x01
	child := chaintypes.FullBlock{Header: chaintypes.BlockHeader{PrevHash: parentHash, Height: 1}}
	p.Add(child)
	require.Equal(t, 1, p.Len())

	children := p.TakeChildren(parentHash)
	require.Len(t, children, 1)
	require.Equal(t, 0, p.Len())
}

func TestOrphanPoolEvictsOldestBeyondCapacity(t *testing.T) {
	p := newOrphanPool(2)
	for i := 0; i < 3; i++ {
		var parentHash crypto.Hash
		parentHash[0] = byte(i)
		p.Add(chaintypes.FullBlock{Header: chaintypes.BlockHeader{PrevHash: parentHash, Height: uint64(i)}})
	}
	require.Equal(t, 2, p.Len())
}
