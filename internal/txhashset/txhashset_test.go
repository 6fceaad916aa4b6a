package txhashset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"wimble.dev/node/internal/blockdb"
	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/crypto"
	"wimble.dev/node/internal/mmr"
)

func proveOutput(t *testing.T, value uint64, blindByte byte) chaintypes.TransactionOutput {
	t.Helper()
	var blind crypto.BlindingFactor
	blind[31] = blindByte
	c, err := crypto.Commit(value, blind)
	require.NoError(t, err)
	var nonce [32]byte
	nonce[0] = blindByte
	rp, err := crypto.RangeProofProve(value, blind, nonce, crypto.RangeProofMessage{})
	require.NoError(t, err)
	return chaintypes.TransactionOutput{Features: chaintypes.FeatureCoinbase, Commitment: c, RangeProof: rp}
}

// headerWithRoots builds a header carrying the roots ths would have
// after appending out, computed against a scratch pair of MMRs seeded
// from scratch — valid only because every test here calls it with an
// empty ths (a single-output genesis-style block).
func headerWithRoots(t *testing.T, ths *TxHashSet, height uint64, out chaintypes.TransactionOutput) chaintypes.BlockHeader {
	t.Helper()
	scratchOut := mmr.New()
	scratchProof := mmr.New()
	_, err := scratchOut.Append(out.OutputID())
	require.NoError(t, err)
	_, err = scratchProof.Append(out.RangeProofLeaf())
	require.NoError(t, err)
	return chaintypes.BlockHeader{
		Height:         height,
		OutputRoot:     scratchOut.Root(),
		RangeProofRoot: scratchProof.Root(),
		KernelRoot:     ths.kernelMMR.Root(),
		OutputMMRSize:  scratchOut.Size(),
		KernelMMRSize:  ths.kernelMMR.Size(),
	}
}

func TestApplyBlockAcceptsMatchingRoots(t *testing.T) {
	ths := New()
	out := proveOutput(t, 1000, 0x01)
	header := headerWithRoots(t, ths, 1, out)

	blk := chaintypes.FullBlock{Header: header, Body: chaintypes.TransactionBody{Outputs: []chaintypes.TransactionOutput{out}}}
	res, err := ths.ApplyBlock(blk)
	require.NoError(t, err)
	require.Equal(t, header.OutputRoot, res.Roots.OutputRoot)

	pos, ok := ths.OutputPos(out.Commitment)
	require.True(t, ok)
	require.Equal(t, uint64(0), pos)
}

func TestApplyBlockRejectsMismatchedRoots(t *testing.T) {
	ths := New()
	out := proveOutput(t, 1000, 0x02)
	header := chaintypes.BlockHeader{Height: 1} // zero roots, won't match
	blk := chaintypes.FullBlock{Header: header, Body: chaintypes.TransactionBody{Outputs: []chaintypes.TransactionOutput{out}}}
	_, err := ths.ApplyBlock(blk)
	require.Error(t, err)
}

func TestApplyBlockRejectsUnknownInput(t *testing.T) {
	ths := New()
	out := proveOutput(t, 1000, 0x03)
	blk := chaintypes.FullBlock{Body: chaintypes.TransactionBody{Inputs: []chaintypes.TransactionInput{{Commitment: out.Commitment}}}}
	_, err := ths.ApplyBlock(blk)
	require.Error(t, err)
}

func TestApplyBlockThenSpendClearsUnspentBit(t *testing.T) {
	ths := New()
	out := proveOutput(t, 1000, 0x04)
	header := headerWithRoots(t, ths, 1, out)
	blk := chaintypes.FullBlock{Header: header, Body: chaintypes.TransactionBody{Outputs: []chaintypes.TransactionOutput{out}}}
	_, err := ths.ApplyBlock(blk)
	require.NoError(t, err)

	spendBlock := chaintypes.FullBlock{
		Header: chaintypes.BlockHeader{Height: 2, OutputRoot: ths.outputMMR.Root(), RangeProofRoot: ths.proofMMR.Root(), KernelRoot: ths.kernelMMR.Root()},
		Body:   chaintypes.TransactionBody{Inputs: []chaintypes.TransactionInput{{Commitment: out.Commitment}}},
	}
	_, err = ths.ApplyBlock(spendBlock)
	require.NoError(t, err)

	_, ok := ths.OutputPos(out.Commitment)
	require.False(t, ok)
}

func TestRewindRestoresPriorRoots(t *testing.T) {
	ths := New()
	out := proveOutput(t, 1000, 0x05)
	header := headerWithRoots(t, ths, 1, out)
	genesis := chaintypes.BlockHeader{OutputRoot: mmr.New().Root(), KernelRoot: mmr.New().Root()} // empty state roots
	blk := chaintypes.FullBlock{Header: header, Body: chaintypes.TransactionBody{Outputs: []chaintypes.TransactionOutput{out}}}
	res, err := ths.ApplyBlock(blk)
	require.NoError(t, err)
	require.Empty(t, res.Undo.Spent)

	err = ths.Rewind(genesis, map[uint64]blockdb.UndoRecord{}, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(0), ths.OutputMMRSize())
}
