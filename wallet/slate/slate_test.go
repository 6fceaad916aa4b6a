package slate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/consensus"
	"wimble.dev/node/internal/corerr"
	"wimble.dev/node/internal/crypto"
)

func spendableInput(t *testing.T, seed byte, value uint64) SpendableInput {
	t.Helper()
	var blind crypto.BlindingFactor
	blind[31] = seed
	c, err := crypto.Commit(value, blind)
	require.NoError(t, err)
	return SpendableInput{Commitment: c, Value: value, Blind: blind}
}

func blindAndNonce(seed byte) (crypto.BlindingFactor, [32]byte) {
	var blind crypto.BlindingFactor
	blind[31] = seed
	var nonce [32]byte
	nonce[0] = seed
	return blind, nonce
}

func TestThreePassRoundTripProducesSpendableTransaction(t *testing.T) {
	in := spendableInput(t, 0x01, 1000)
	changeBlind, changeNonce := blindAndNonce(0x02)

	s1, ctx, err := NewSenderSlate(600, 0, SmallestInputsFirst, []SpendableInput{in}, changeBlind, changeNonce)
	require.NoError(t, err)
	require.Equal(t, Version, s1.Version)
	require.Len(t, s1.Participants, 1)
	require.Len(t, s1.Outputs, 1) // change only so far

	receiverBlind, receiverNonce := blindAndNonce(0x03)
	s2, err := ReceiveSlate(*s1, receiverBlind, receiverNonce)
	require.NoError(t, err)
	require.Len(t, s2.Participants, 2)
	require.Len(t, s2.Outputs, 2) // change + receiver output
	require.NotNil(t, s2.Participants[1].PartialSignature)

	tx, err := FinalizeSlate(*s2, *ctx)
	require.NoError(t, err)
	require.Len(t, tx.Body.Inputs, 1)
	require.Len(t, tx.Body.Outputs, 2)
	require.Len(t, tx.Body.Kernels, 1)

	kernel := tx.Body.Kernels[0]
	msg := chaintypes.KernelSignatureMessage(kernel.Features, kernel.Fee, kernel.LockHeight)
	require.True(t, crypto.SchnorrVerify(crypto.CommitmentToPublicKey(kernel.ExcessCommitment), msg, kernel.ExcessSignature))

	// Balance check (§4.6 I1 restated for a standalone transaction): the
	// kernel excess plus the transaction offset must equal the sum of
	// output commitments minus the sum of input commitments.
	outCommits := make([]crypto.Commitment, len(tx.Body.Outputs))
	for i, o := range tx.Body.Outputs {
		outCommits[i] = o.Commitment
	}
	inCommits := make([]crypto.Commitment, len(tx.Body.Inputs))
	for i, in := range tx.Body.Inputs {
		inCommits[i] = in.Commitment
	}
	// A transaction's outputs are short of its inputs by exactly the fee,
	// so the fee is added back on the output side as a transparent
	// commitment before comparing against the kernel excess plus offset
	// (the mirror image of a block's overCommitment, which instead
	// subtracts reward+fees because a coinbase mints value).
	feeCommit := crypto.CommitTransparent(kernel.Fee)
	lhs, err := crypto.CommitSum(append(outCommits, feeCommit), inCommits)
	require.NoError(t, err)

	offsetCommit, err := crypto.Commit(0, tx.Offset)
	require.NoError(t, err)
	rhs, err := crypto.CommitSum([]crypto.Commitment{kernel.ExcessCommitment, offsetCommit}, nil)
	require.NoError(t, err)
	require.Equal(t, lhs, rhs)
}

func TestNewSenderSlateRejectsInsufficientFunds(t *testing.T) {
	in := spendableInput(t, 0x04, 100)
	changeBlind, changeNonce := blindAndNonce(0x05)
	_, _, err := NewSenderSlate(1000, 0, SmallestInputsFirst, []SpendableInput{in}, changeBlind, changeNonce)
	require.True(t, corerr.IsRule(err, corerr.RuleInsufficientFunds))
}

func TestReceiveSlateRejectsWrongParticipantCount(t *testing.T) {
	s := Slate{Version: Version}
	receiverBlind, receiverNonce := blindAndNonce(0x06)
	_, err := ReceiveSlate(s, receiverBlind, receiverNonce)
	require.True(t, corerr.IsRule(err, corerr.RuleTooManyParticipants))
}

func TestReceiveSlateRejectsVersionMismatch(t *testing.T) {
	s := Slate{Version: 3, Participants: []Participant{{}}}
	receiverBlind, receiverNonce := blindAndNonce(0x07)
	_, err := ReceiveSlate(s, receiverBlind, receiverNonce)
	require.True(t, corerr.IsRule(err, corerr.RuleSlateVersionMismatch))
}

func TestFinalizeSlateRejectsTamperedPartialSignature(t *testing.T) {
	in := spendableInput(t, 0x08, 1000)
	changeBlind, changeNonce := blindAndNonce(0x09)
	s1, ctx, err := NewSenderSlate(600, 0, SmallestInputsFirst, []SpendableInput{in}, changeBlind, changeNonce)
	require.NoError(t, err)

	receiverBlind, receiverNonce := blindAndNonce(0x0A)
	s2, err := ReceiveSlate(*s1, receiverBlind, receiverNonce)
	require.NoError(t, err)
	s2.Participants[1].PartialSignature.S[0] ^= 0xFF

	_, err = FinalizeSlate(*s2, *ctx)
	require.True(t, corerr.IsRule(err, corerr.RulePartialSigInvalid))
}

func TestSlateJSONRoundTrips(t *testing.T) {
	in := spendableInput(t, 0x0B, 1000)
	changeBlind, changeNonce := blindAndNonce(0x0C)
	s1, _, err := NewSenderSlate(600, 0, SmallestInputsFirst, []SpendableInput{in}, changeBlind, changeNonce)
	require.NoError(t, err)

	data, err := json.Marshal(s1)
	require.NoError(t, err)

	var decoded Slate
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, s1.ID, decoded.ID)
	require.Equal(t, s1.Amount, decoded.Amount)
	require.Equal(t, s1.Fee, decoded.Fee)
	require.Equal(t, s1.Participants[0].PublicBlindExcess, decoded.Participants[0].PublicBlindExcess)
	require.Len(t, decoded.Inputs, 1)
	require.Len(t, decoded.Outputs, 1)
}

func TestSlateJSONRejectsVersionMismatch(t *testing.T) {
	raw := []byte(`{"version":3,"id":"00000000-0000-0000-0000-000000000000","amount":1,"fee":1,"height":0,"lock_height":0,"participants":[],"inputs":[],"outputs":[]}`)
	var s Slate
	err := json.Unmarshal(raw, &s)
	require.True(t, corerr.IsRule(err, corerr.RuleSlateVersionMismatch))
}

func TestSelectInputsSmallestInputsFirstPicksFewestLargeInputs(t *testing.T) {
	available := []SpendableInput{
		spendableInput(t, 0x10, 100),
		spendableInput(t, 0x11, 900),
		spendableInput(t, 0x12, 50),
	}
	selected, total, err := SelectInputs(available, SmallestInputsFirst, 120)
	require.NoError(t, err)
	require.Equal(t, uint64(150), total) // 50 + 100, smallest two
	require.Len(t, selected, 2)
}

func TestSelectInputsSelectAllUsesEveryInput(t *testing.T) {
	available := []SpendableInput{
		spendableInput(t, 0x13, 100),
		spendableInput(t, 0x14, 200),
	}
	selected, total, err := SelectInputs(available, SelectAll, 10)
	require.NoError(t, err)
	require.Len(t, selected, 2)
	require.Equal(t, uint64(300), total)
}

func TestEstimateFeeScalesWithInputCount(t *testing.T) {
	require.Less(t, estimateFee(1), estimateFee(5))
	require.Equal(t, uint64(2*chaintypes.OutputWeight+chaintypes.KernelWeight)*consensus.MinRelayFeeRate, estimateFee(0))
}
