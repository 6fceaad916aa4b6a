package txhashset

import (
	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/corerr"
	"wimble.dev/node/internal/crypto"
)

// LiveOutput is one currently-unspent output in a TxHashSet archive,
// carrying the bookkeeping ApplyBlock would otherwise have recorded for
// it (§4.4 "record (commitment -> {mmr_pos, height})").
type LiveOutput struct {
	Pos        uint64
	Height     uint64
	IsCoinbase bool
	Output     chaintypes.TransactionOutput
}

// Archive is the on-wire shape of a TXHASHSET_SYNC archive (§4.9, §6
// "TxHashSetArchive"): every output-MMR and rangeproof-MMR leaf hash in
// position order (spent leaves keep only their hash, the same pruning
// discipline §4.4 describes for a long-lived node), the full kernel
// history (kernels are never pruned), and the subset of output leaves
// that are still live, each carrying its full output body so a receiver
// can reconstruct spendability without re-fetching history.
type Archive struct {
	Header           chaintypes.BlockHeader
	OutputLeafHashes []crypto.Hash
	ProofLeafHashes  []crypto.Hash
	Kernels          []chaintypes.TransactionKernel
	LiveOutputs      []LiveOutput
}

// LoadArchive rebuilds a TxHashSet from an Archive, the PROCESSING_TXHASHSET
// step of §4.9: every MMR is replayed leaf-by-leaf and the resulting
// roots/sizes are checked against Archive.Header before the state is
// considered valid. Callers must also run ValidateFull over the live
// output/kernel sets (rangeproofs, kernel signatures, and the whole-set
// commitment-sum identity) before swapping this state in as live — those
// checks need the block's reward+fee over-commitment, which LoadArchive
// does not have.
func LoadArchive(a Archive) (*TxHashSet, error) {
	t := New()

	for _, h := range a.OutputLeafHashes {
		if _, err := t.outputMMR.Append(h); err != nil {
			return nil, corerr.BadDataf(corerr.RuleArchiveInvalid, err)
		}
	}
	for _, h := range a.ProofLeafHashes {
		if _, err := t.proofMMR.Append(h); err != nil {
			return nil, corerr.BadDataf(corerr.RuleArchiveInvalid, err)
		}
	}
	for _, k := range a.Kernels {
		if _, err := t.kernelMMR.Append(k.Hash()); err != nil {
			return nil, corerr.BadDataf(corerr.RuleArchiveInvalid, err)
		}
	}

	if t.outputMMR.Size() != a.Header.OutputMMRSize || t.kernelMMR.Size() != a.Header.KernelMMRSize {
		return nil, corerr.BadData(corerr.RuleArchiveInvalid)
	}

	roots := t.Roots()
	if roots.OutputRoot != a.Header.OutputRoot ||
		roots.RangeProofRoot != a.Header.RangeProofRoot ||
		roots.KernelRoot != a.Header.KernelRoot {
		return nil, corerr.BadData(corerr.RuleArchiveInvalid)
	}

	for _, lo := range a.LiveOutputs {
		if lo.Pos >= t.outputMMR.Size() {
			return nil, corerr.BadData(corerr.RuleArchiveInvalid)
		}
		if a.OutputLeafHashes[lo.Pos] != lo.Output.OutputID() {
			return nil, corerr.BadData(corerr.RuleArchiveInvalid)
		}
		t.unspent[lo.Pos] = struct{}{}
		t.byCommitment[lo.Output.Commitment] = outputEntry{MMRPos: lo.Pos, Height: lo.Height}
	}

	return t, nil
}

// ExportLiveOutputs walks a TxHashSet's current unspent bitmap, needed
// by a peer serving a TXHASHSET_SYNC request to build the LiveOutputs
// half of an Archive. Since a live TxHashSet does not retain each
// output's full body once applied (only its MMR-leaf hash and
// commitment), a caller that also retains an application-time output
// log (e.g. BlockDB's block bodies) supplies outputsByCommitment to
// recover it.
func (t *TxHashSet) ExportLiveOutputs(outputsByCommitment map[crypto.Commitment]chaintypes.TransactionOutput) []LiveOutput {
	out := make([]LiveOutput, 0, len(t.unspent))
	for pos := range t.unspent {
		for c, e := range t.byCommitment {
			if e.MMRPos != pos {
				continue
			}
			body, ok := outputsByCommitment[c]
			if !ok {
				continue
			}
			out = append(out, LiveOutput{Pos: pos, Height: e.Height, IsCoinbase: body.Features == chaintypes.FeatureCoinbase, Output: body})
		}
	}
	return out
}

// ExportLeafHashes returns the output and rangeproof MMR leaf hashes in
// position order, the other half of an Archive (§4.9): every spent
// output's leaf still contributes its hash even though
// ExportLiveOutputs can no longer recover its body.
func (t *TxHashSet) ExportLeafHashes() (outputLeaves, proofLeaves []crypto.Hash) {
	outputLeaves = make([]crypto.Hash, t.outputMMR.Size())
	for i := range outputLeaves {
		outputLeaves[i], _ = t.outputMMR.LeafHash(uint64(i))
	}
	proofLeaves = make([]crypto.Hash, t.proofMMR.Size())
	for i := range proofLeaves {
		proofLeaves[i], _ = t.proofMMR.LeafHash(uint64(i))
	}
	return outputLeaves, proofLeaves
}
