// Package txhashset implements TxHashSet (§4.4): three coordinated MMRs
// (output, rangeproof, kernel) over the current UTXO commitment set plus
// an in-memory unspent bitmap, with apply_block/rewind/snapshot/
// validate_full.
//
// Grounded on the teacher's connect_block_inmem.go for the shape of an
// apply-then-verify-roots pipeline (the teacher applies a parsed block to
// an in-memory UTXO set and compares against expected state the same
// way this package applies a block to three MMRs and compares against
// header roots), generalized from the teacher's single UTXO set to three
// MMRs plus a bitmap per §4.4.
package txhashset

import (
	"wimble.dev/node/internal/blockdb"
	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/corerr"
	"wimble.dev/node/internal/crypto"
	"wimble.dev/node/internal/mmr"
)

// outputEntry is the in-memory bookkeeping kept per live output
// commitment (§4.4: "record (commitment -> {mmr_pos, height})").
type outputEntry struct {
	MMRPos uint64
	Height uint64
}

// TxHashSet wraps the three MMRs plus the unspent bitmap (§3 "TxHashSet
// state"). The unspent bitmap is keyed by output MMR leaf index; a set
// bit means the output at that leaf is currently unspent.
type TxHashSet struct {
	outputMMR *mmr.MMR
	proofMMR  *mmr.MMR
	kernelMMR *mmr.MMR

	unspent map[uint64]struct{}
	byCommitment map[crypto.Commitment]outputEntry
}

// New returns an empty TxHashSet, the state before the genesis block.
func New() *TxHashSet {
	return &TxHashSet{
		outputMMR:    mmr.New(),
		proofMMR:     mmr.New(),
		kernelMMR:    mmr.New(),
		unspent:      make(map[uint64]struct{}),
		byCommitment: make(map[crypto.Commitment]outputEntry),
	}
}

// Roots returns the three MMR roots this state currently commits to.
type Roots struct {
	OutputRoot     crypto.Hash
	RangeProofRoot crypto.Hash
	KernelRoot     crypto.Hash
}

func (t *TxHashSet) Roots() Roots {
	return Roots{
		OutputRoot:     t.outputMMR.Root(),
		RangeProofRoot: t.proofMMR.Root(),
		KernelRoot:     t.kernelMMR.Root(),
	}
}

func (t *TxHashSet) OutputMMRSize() uint64 { return t.outputMMR.Size() }
func (t *TxHashSet) KernelMMRSize() uint64 { return t.kernelMMR.Size() }

// OutputPos locates a live output's MMR leaf position by commitment,
// mirroring BlockDB.output_pos (§4.4). This in-memory index is the only
// copy: neither TxHashSet nor ApplyBlock's caller writes
// BlockDB.OUTPUT_POS.
func (t *TxHashSet) OutputPos(c crypto.Commitment) (uint64, bool) {
	e, ok := t.byCommitment[c]
	if !ok {
		return 0, false
	}
	if _, unspent := t.unspent[e.MMRPos]; !unspent {
		return 0, false
	}
	return e.MMRPos, true
}

// ApplyResult carries the per-block undo set an apply produced, so the
// caller can persist it to BlockDB.SPENT_OUTPUTS for later rewind.
type ApplyResult struct {
	Roots Roots
	Undo  blockdb.UndoRecord
}

// ApplyBlock applies a block's inputs (clearing bits), outputs (appending
// + setting bits), and kernels (appending) in that order — §4.4:
// "inputs are applied before outputs ... so a zero-balance cut-through
// output cannot temporarily 'appear spendable'" — then compares the
// resulting three roots against the header, returning RootMismatch on
// any inequality.
func (t *TxHashSet) ApplyBlock(blk chaintypes.FullBlock) (ApplyResult, error) {
	var undo blockdb.UndoRecord

	for _, in := range blk.Body.Inputs {
		entry, ok := t.byCommitment[in.Commitment]
		if !ok {
			return ApplyResult{}, corerr.BadData(corerr.RuleInputNotFound)
		}
		if _, unspent := t.unspent[entry.MMRPos]; !unspent {
			return ApplyResult{}, corerr.BadData(corerr.RuleInputNotFound)
		}
		delete(t.unspent, entry.MMRPos)
		undo.Spent = append(undo.Spent, blockdb.UndoSpent{
			Commitment: in.Commitment,
			MMRPos:     entry.MMRPos,
			Height:     entry.Height,
		})
	}

	for _, out := range blk.Body.Outputs {
		pos, err := t.outputMMR.Append(out.OutputID())
		if err != nil {
			return ApplyResult{}, corerr.BadDataf(corerr.RuleRootMismatch, err)
		}
		if _, err := t.proofMMR.Append(out.RangeProofLeaf()); err != nil {
			return ApplyResult{}, corerr.BadDataf(corerr.RuleRootMismatch, err)
		}
		t.unspent[pos] = struct{}{}
		t.byCommitment[out.Commitment] = outputEntry{MMRPos: pos, Height: blk.Header.Height}
	}

	for _, k := range blk.Body.Kernels {
		if _, err := t.kernelMMR.Append(k.Hash()); err != nil {
			return ApplyResult{}, corerr.BadDataf(corerr.RuleRootMismatch, err)
		}
	}

	roots := t.Roots()
	if roots.OutputRoot != blk.Header.OutputRoot ||
		roots.RangeProofRoot != blk.Header.RangeProofRoot ||
		roots.KernelRoot != blk.Header.KernelRoot {
		return ApplyResult{}, corerr.BadData(corerr.RuleRootMismatch)
	}

	return ApplyResult{Roots: roots, Undo: undo}, nil
}

// Rewind restores MMR sizes to those recorded in targetHeader and re-sets
// the unspent bits for every output that undo records show was spent
// between targetHeader and the current tip (§4.4). undoByHeight must
// supply, for every height strictly greater than targetHeader.Height up
// to the current tip, the UndoRecord produced when that height's block
// was applied (BlockDB.SPENT_OUTPUTS is the source of truth for this).
func (t *TxHashSet) Rewind(targetHeader chaintypes.BlockHeader, undoByHeight map[uint64]blockdb.UndoRecord, tipHeight uint64) error {
	if err := t.outputMMR.Rewind(targetHeader.OutputMMRSize); err != nil {
		return corerr.BadDataf(corerr.RuleRootMismatch, err)
	}
	if err := t.proofMMR.Rewind(targetHeader.OutputMMRSize); err != nil {
		return corerr.BadDataf(corerr.RuleRootMismatch, err)
	}
	if err := t.kernelMMR.Rewind(targetHeader.KernelMMRSize); err != nil {
		return corerr.BadDataf(corerr.RuleRootMismatch, err)
	}

	// Drop bookkeeping for outputs created at heights beyond the target —
	// they no longer exist in the truncated MMR.
	for c, e := range t.byCommitment {
		if e.Height > targetHeader.Height {
			delete(t.byCommitment, c)
			delete(t.unspent, e.MMRPos)
		}
	}

	for h := targetHeader.Height + 1; h <= tipHeight; h++ {
		u, ok := undoByHeight[h]
		if !ok {
			continue
		}
		for _, s := range u.Spent {
			if s.Height > targetHeader.Height {
				continue // the output itself was created after the target; already dropped above
			}
			t.unspent[s.MMRPos] = struct{}{}
			t.byCommitment[s.Commitment] = outputEntry{MMRPos: s.MMRPos, Height: s.Height}
		}
	}

	roots := t.Roots()
	if roots.OutputRoot != targetHeader.OutputRoot || roots.KernelRoot != targetHeader.KernelRoot {
		return corerr.BadData(corerr.RuleRootMismatch)
	}
	return nil
}

// Snapshot returns a read-only view for query concurrency (§4.4 "take a
// read-only view"). The bitmap and commitment index are copied so a
// reader's OutputPos/unspent queries are stable; the three MMRs
// themselves are shared rather than copied, since §5 already serializes
// all block application behind a single chain-writer, so no concurrent
// mutation of the underlying MMRs can occur while a snapshot is in use.
func (t *TxHashSet) Snapshot() *TxHashSet {
	s := &TxHashSet{
		outputMMR:    t.outputMMR,
		proofMMR:     t.proofMMR,
		kernelMMR:    t.kernelMMR,
		unspent:      make(map[uint64]struct{}, len(t.unspent)),
		byCommitment: make(map[crypto.Commitment]outputEntry, len(t.byCommitment)),
	}
	for k, v := range t.unspent {
		s.unspent[k] = v
	}
	for k, v := range t.byCommitment {
		s.byCommitment[k] = v
	}
	return s
}

// ValidateFull verifies every rangeproof, every kernel signature, and the
// whole-set commitment-sum identity (§4.4 "validate_full"). outputs and
// kernels are the full live sets as reconstructed from a TxHashSet
// archive during SyncEngine's PROCESSING_TXHASHSET step.
func ValidateFull(outputs []chaintypes.TransactionOutput, kernels []chaintypes.TransactionKernel, overCommitment crypto.Commitment) error {
	for _, o := range outputs {
		if !crypto.RangeProofVerify(o.Commitment, o.RangeProof) {
			return corerr.BadData(corerr.RuleBadRangeproof)
		}
	}
	for _, k := range kernels {
		msg := chaintypes.KernelSignatureMessage(k.Features, k.Fee, k.LockHeight)
		if !crypto.SchnorrVerify(crypto.CommitmentToPublicKey(k.ExcessCommitment), msg, k.ExcessSignature) {
			return corerr.BadData(corerr.RuleBadKernelSignature)
		}
	}

	outputCommitments := make([]crypto.Commitment, len(outputs))
	for i, o := range outputs {
		outputCommitments[i] = o.Commitment
	}
	kernelExcesses := make([]crypto.Commitment, len(kernels))
	for i, k := range kernels {
		kernelExcesses[i] = k.ExcessCommitment
	}

	lhs, err := crypto.CommitSum(outputCommitments, []crypto.Commitment{overCommitment})
	if err != nil {
		return corerr.BadDataf(corerr.RuleKernelSumMismatch, err)
	}
	rhs, err := crypto.CommitSum(kernelExcesses, nil)
	if err != nil {
		return corerr.BadDataf(corerr.RuleKernelSumMismatch, err)
	}
	if lhs != rhs {
		return corerr.BadData(corerr.RuleKernelSumMismatch)
	}
	return nil
}
