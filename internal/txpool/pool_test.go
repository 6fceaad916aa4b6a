package txpool

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/crypto"
)

type fakeView struct {
	head    chaintypes.BlockHeader
	unspent map[crypto.Commitment]bool
}

func newFakeView() *fakeView {
	return &fakeView{unspent: make(map[crypto.Commitment]bool)}
}

func (f *fakeView) OutputPos(c crypto.Commitment) (uint64, bool) { return 0, f.unspent[c] }
func (f *fakeView) OutputOrigin(crypto.Commitment) (uint64, bool, bool) {
	return 0, false, false
}
func (f *fakeView) Head() chaintypes.BlockHeader { return f.head }

func plainKernel(t *testing.T, seed byte, fee uint64) chaintypes.TransactionKernel {
	t.Helper()
	var sk crypto.SecretKey
	sk[31] = seed
	pub := crypto.PublicKeyFromSecret(sk)
	var commitment crypto.Commitment
	copy(commitment[:], pub[:])
	k := chaintypes.TransactionKernel{Features: chaintypes.FeaturePlain, Fee: fee, ExcessCommitment: commitment}
	sig, err := crypto.SchnorrSign(sk, chaintypes.KernelSignatureMessage(k.Features, k.Fee, k.LockHeight), crypto.GenerateNonce())
	require.NoError(t, err)
	k.ExcessSignature = sig
	return k
}

func outputWithProof(t *testing.T, value uint64, blindSeed byte) chaintypes.TransactionOutput {
	t.Helper()
	var blind crypto.BlindingFactor
	blind[31] = blindSeed
	c, err := crypto.Commit(value, blind)
	require.NoError(t, err)
	var nonce [32]byte
	nonce[0] = blindSeed
	rp, err := crypto.RangeProofProve(value, blind, nonce, crypto.RangeProofMessage{})
	require.NoError(t, err)
	return chaintypes.TransactionOutput{Commitment: c, RangeProof: rp}
}

// feeOnlyTx builds a pool transaction carrying a single signed kernel
// and no inputs/outputs, the minimal shape that exercises fee and
// conflict-resolution logic without needing a balanced body (balance is
// only checked at block-against-state time, not pool acceptance).
func feeOnlyTx(t *testing.T, seed byte, fee uint64) chaintypes.Transaction {
	t.Helper()
	k := plainKernel(t, seed, fee)
	return chaintypes.Transaction{Body: chaintypes.TransactionBody{Kernels: []chaintypes.TransactionKernel{k}}}
}

func TestAcceptMainRejectsFeeBelowMinRelay(t *testing.T) {
	view := newFakeView()
	p := New(zap.NewNop(), view)
	tx := feeOnlyTx(t, 0x01, 0)
	err := p.AcceptMain(tx)
	require.ErrorContains(t, err, "FeeTooLow")
}

func TestAcceptMainAddsTransactionAboveMinRelay(t *testing.T) {
	view := newFakeView()
	p := New(zap.NewNop(), view)
	tx := feeOnlyTx(t, 0x01, 1000)
	require.NoError(t, p.AcceptMain(tx))
	require.Equal(t, 1, p.Len())
}

func TestAcceptMainRejectsDuplicateSubmission(t *testing.T) {
	view := newFakeView()
	p := New(zap.NewNop(), view)
	tx := feeOnlyTx(t, 0x01, 1000)
	require.NoError(t, p.AcceptMain(tx))
	require.ErrorContains(t, p.AcceptMain(tx), "AlreadyKnown")
}

func TestAcceptMainRejectsInputNotResolvable(t *testing.T) {
	view := newFakeView()
	p := New(zap.NewNop(), view)
	out := outputWithProof(t, 10, 0x05)
	tx := chaintypes.Transaction{Body: chaintypes.TransactionBody{
		Inputs:  []chaintypes.TransactionInput{{Commitment: out.Commitment}},
		Kernels: []chaintypes.TransactionKernel{plainKernel(t, 0x02, 1000)},
	}}
	err := p.AcceptMain(tx)
	require.ErrorContains(t, err, "InputNotFound")
}

func TestAcceptMainAcceptsChainOfPoolInput(t *testing.T) {
	view := newFakeView()
	p := New(zap.NewNop(), view)

	out := outputWithProof(t, 10, 0x05)
	producer := chaintypes.Transaction{Body: chaintypes.TransactionBody{
		Outputs: []chaintypes.TransactionOutput{out},
		Kernels: []chaintypes.TransactionKernel{plainKernel(t, 0x03, 1000)},
	}}
	require.NoError(t, p.AcceptMain(producer))

	spender := chaintypes.Transaction{Body: chaintypes.TransactionBody{
		Inputs:  []chaintypes.TransactionInput{{Commitment: out.Commitment}},
		Kernels: []chaintypes.TransactionKernel{plainKernel(t, 0x04, 1000)},
	}}
	require.NoError(t, p.AcceptMain(spender))
	require.Equal(t, 2, p.Len())
}

func TestAcceptMainEvictsLowerFeeConflict(t *testing.T) {
	view := newFakeView()
	var blind crypto.BlindingFactor
	blind[31] = 0x09
	shared, err := crypto.Commit(50, blind)
	require.NoError(t, err)
	view.unspent[shared] = true

	p := New(zap.NewNop(), view)

	low := chaintypes.Transaction{Body: chaintypes.TransactionBody{
		Inputs:  []chaintypes.TransactionInput{{Commitment: shared}},
		Kernels: []chaintypes.TransactionKernel{plainKernel(t, 0x10, 100)},
	}}
	require.NoError(t, p.AcceptMain(low))

	high := chaintypes.Transaction{Body: chaintypes.TransactionBody{
		Inputs:  []chaintypes.TransactionInput{{Commitment: shared}},
		Kernels: []chaintypes.TransactionKernel{plainKernel(t, 0x11, 10_000)},
	}}
	require.NoError(t, p.AcceptMain(high))
	require.Equal(t, 1, p.Len())
}

func TestAcceptMainRejectsDoubleSpendWhenFeeNotHigher(t *testing.T) {
	view := newFakeView()
	var blind crypto.BlindingFactor
	blind[31] = 0x0A
	shared, err := crypto.Commit(50, blind)
	require.NoError(t, err)
	view.unspent[shared] = true

	p := New(zap.NewNop(), view)

	first := chaintypes.Transaction{Body: chaintypes.TransactionBody{
		Inputs:  []chaintypes.TransactionInput{{Commitment: shared}},
		Kernels: []chaintypes.TransactionKernel{plainKernel(t, 0x12, 10_000)},
	}}
	require.NoError(t, p.AcceptMain(first))

	second := chaintypes.Transaction{Body: chaintypes.TransactionBody{
		Inputs:  []chaintypes.TransactionInput{{Commitment: shared}},
		Kernels: []chaintypes.TransactionKernel{plainKernel(t, 0x13, 100)},
	}}
	err = p.AcceptMain(second)
	require.ErrorContains(t, err, "DoubleSpendInPool")
	require.Equal(t, 1, p.Len())
}

func TestPromoteStemMovesToMain(t *testing.T) {
	view := newFakeView()
	p := New(zap.NewNop(), view)
	tx := feeOnlyTx(t, 0x20, 1000)
	require.NoError(t, p.AcceptStem(tx))
	require.NoError(t, p.PromoteStem(tx.ID()))
	require.Equal(t, 1, len(p.main))
	require.Equal(t, 0, len(p.stem))
}

func TestAdvanceEpochPromotesStaleStemTransactions(t *testing.T) {
	view := newFakeView()
	p := New(zap.NewNop(), view)
	tx := feeOnlyTx(t, 0x21, 1000)
	require.NoError(t, p.AcceptStem(tx))
	p.AdvanceEpoch()
	require.Equal(t, 1, len(p.main))
}

func TestOnBlockAcceptedRemovesMinedTransaction(t *testing.T) {
	view := newFakeView()
	p := New(zap.NewNop(), view)
	tx := feeOnlyTx(t, 0x30, 1000)
	require.NoError(t, p.AcceptMain(tx))

	p.OnBlockAccepted([]crypto.Hash{tx.Body.Kernels[0].Hash()})
	require.Equal(t, 0, p.Len())
}

func TestOnBlockAcceptedEvictsTransactionWhoseInputWasSpentElsewhere(t *testing.T) {
	view := newFakeView()
	var blind crypto.BlindingFactor
	blind[31] = 0x22
	shared, err := crypto.Commit(50, blind)
	require.NoError(t, err)
	view.unspent[shared] = true

	p := New(zap.NewNop(), view)
	tx := chaintypes.Transaction{Body: chaintypes.TransactionBody{
		Inputs:  []chaintypes.TransactionInput{{Commitment: shared}},
		Kernels: []chaintypes.TransactionKernel{plainKernel(t, 0x23, 1000)},
	}}
	require.NoError(t, p.AcceptMain(tx))

	delete(view.unspent, shared) // simulate the input being spent by a different, just-mined block
	p.OnBlockAccepted(nil)
	require.Equal(t, 0, p.Len())
}

func TestBuildTemplateAggregatesPoolTransactions(t *testing.T) {
	view := newFakeView()
	p := New(zap.NewNop(), view)
	require.NoError(t, p.AcceptMain(feeOnlyTx(t, 0x40, 1000)))
	require.NoError(t, p.AcceptMain(feeOnlyTx(t, 0x41, 2000)))

	tmpl, err := p.BuildTemplate(1_000_000)
	require.NoError(t, err)
	require.Len(t, tmpl.Body.Kernels, 2)
	require.Equal(t, uint64(3000), tmpl.TotalFee)
	require.Len(t, tmpl.Included, 2)
}

func TestBuildTemplateRespectsMaxWeight(t *testing.T) {
	view := newFakeView()
	p := New(zap.NewNop(), view)
	require.NoError(t, p.AcceptMain(feeOnlyTx(t, 0x42, 1000)))
	require.NoError(t, p.AcceptMain(feeOnlyTx(t, 0x43, 2000)))

	tmpl, err := p.BuildTemplate(chaintypes.KernelWeight) // room for exactly one kernel
	require.NoError(t, err)
	require.Len(t, tmpl.Body.Kernels, 1)
}

func TestBuildTemplateCutsThroughChainOfPoolPair(t *testing.T) {
	view := newFakeView()
	p := New(zap.NewNop(), view)

	out := outputWithProof(t, 10, 0x44)
	producer := chaintypes.Transaction{Body: chaintypes.TransactionBody{
		Outputs: []chaintypes.TransactionOutput{out},
		Kernels: []chaintypes.TransactionKernel{plainKernel(t, 0x45, 1000)},
	}}
	require.NoError(t, p.AcceptMain(producer))

	spender := chaintypes.Transaction{Body: chaintypes.TransactionBody{
		Inputs:  []chaintypes.TransactionInput{{Commitment: out.Commitment}},
		Kernels: []chaintypes.TransactionKernel{plainKernel(t, 0x46, 1000)},
	}}
	require.NoError(t, p.AcceptMain(spender))

	tmpl, err := p.BuildTemplate(1_000_000)
	require.NoError(t, err)
	require.Empty(t, tmpl.Body.Inputs)
	require.Empty(t, tmpl.Body.Outputs)
	require.Len(t, tmpl.Body.Kernels, 2)
}
