package slate

import (
	"sort"

	"github.com/google/uuid"

	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/consensus"
	"wimble.dev/node/internal/corerr"
	"wimble.dev/node/internal/crypto"
)

// estimatedOutputCount assumes exactly one change output (sender) and
// one receive output (receiver) for fee estimation purposes — round 1
// has not yet heard from the receiver, so the fee it quotes has to
// assume the two-party shape this package implements (§4.10 leaves the
// fee formula to the weight model already fixed in chaintypes.Weight).
const estimatedOutputCount = 2
const estimatedKernelCount = 1

// SelectInputs picks a subset of available inputs covering need under
// strategy (§4.10 `ESelectionStrategy`).
func SelectInputs(available []SpendableInput, strategy SelectionStrategy, need uint64) ([]SpendableInput, uint64, error) {
	switch strategy {
	case SelectAll:
		var total uint64
		for _, in := range available {
			total += in.Value
		}
		if total < need {
			return nil, 0, corerr.BadData(corerr.RuleInsufficientFunds)
		}
		return append([]SpendableInput(nil), available...), total, nil
	case SmallestInputsFirst:
		sorted := append([]SpendableInput(nil), available...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })
		var total uint64
		for i, in := range sorted {
			total += in.Value
			if total >= need {
				return sorted[:i+1], total, nil
			}
		}
		return nil, 0, corerr.BadData(corerr.RuleInsufficientFunds)
	default:
		return nil, 0, corerr.BadData(corerr.RuleInsufficientFunds)
	}
}

// estimateFee quotes the fee a two-party slate of numInputs inputs will
// need, at the network's fee-rate floor (§4.8 MIN_RELAY_FEE).
func estimateFee(numInputs int) uint64 {
	weight := uint64(numInputs)*chaintypes.InputWeight +
		estimatedOutputCount*chaintypes.OutputWeight +
		estimatedKernelCount*chaintypes.KernelWeight
	return weight * consensus.MinRelayFeeRate
}

// SenderContext carries the sender's private round-1 secrets across the
// network round-trip to round 2 (finalize); none of this is part of the
// wire Slate.
type SenderContext struct {
	Blind       crypto.SecretKey
	Nonce       crypto.SecretKey
	Offset      crypto.BlindingFactor
	Inputs      []SpendableInput
	ChangeValue uint64
	ChangeBlind crypto.BlindingFactor
}

// NewSenderSlate runs sender round 1 (§4.10): select inputs, compute
// fee, derive the sender's blinding excess and nonce, and emit a Slate
// carrying the sender's participant entry, inputs, and change output.
//
// changeBlind/changeNonce are supplied by the caller (the wallet's
// keystore derives them at the next unused key-derivation index) rather
// than generated here, keeping this package free of any key-derivation
// policy.
func NewSenderSlate(
	amount uint64,
	lockHeight uint64,
	strategy SelectionStrategy,
	available []SpendableInput,
	changeBlind crypto.BlindingFactor,
	changeProofNonce [32]byte,
) (*Slate, *SenderContext, error) {
	// Input selection and fee both depend on each other (the fee depends
	// on the input count, the input count depends on the fee); iterate
	// to a fixed point the way a one-input-at-a-time selection converges
	// in at most len(available) rounds.
	var selected []SpendableInput
	var total, fee uint64
	fee = estimateFee(1)
	for {
		var err error
		selected, total, err = SelectInputs(available, strategy, amount+fee)
		if err != nil {
			return nil, nil, err
		}
		next := estimateFee(len(selected))
		if next == fee {
			break
		}
		fee = next
	}

	changeValue := total - amount - fee
	changeCommit, err := crypto.Commit(changeValue, changeBlind)
	if err != nil {
		return nil, nil, corerr.BadDataf(corerr.RuleInsufficientFunds, err)
	}
	changeProof, err := crypto.RangeProofProve(changeValue, changeBlind, changeProofNonce, crypto.RangeProofMessage{})
	if err != nil {
		return nil, nil, err
	}
	changeOutput := chaintypes.TransactionOutput{
		Features:   chaintypes.FeaturePlain,
		Commitment: changeCommit,
		RangeProof: changeProof,
	}

	inputBlinds := make([]crypto.BlindingFactor, len(selected))
	inputs := make([]chaintypes.TransactionInput, len(selected))
	for i, in := range selected {
		inputBlinds[i] = in.Blind
		inputs[i] = chaintypes.TransactionInput{Features: chaintypes.FeaturePlain, Commitment: in.Commitment}
	}

	offset := crypto.BlindingFactor(crypto.GenerateNonce())
	senderBlind := crypto.AddBlindingFactors(
		[]crypto.BlindingFactor{changeBlind},
		append(append([]crypto.BlindingFactor(nil), inputBlinds...), offset),
	)
	senderNonce := crypto.GenerateNonce()

	s := &Slate{
		Version:    Version,
		ID:         uuid.New(),
		Amount:     amount,
		Fee:        fee,
		LockHeight: lockHeight,
		Participants: []Participant{{
			ID:                senderParticipantID,
			PublicBlindExcess: crypto.PublicKeyFromSecret(crypto.SecretKey(senderBlind)),
			PublicNonce:       crypto.PublicKeyFromSecret(senderNonce),
		}},
		Inputs:  inputs,
		Outputs: []chaintypes.TransactionOutput{changeOutput},
	}

	ctx := &SenderContext{
		Blind:       crypto.SecretKey(senderBlind),
		Nonce:       senderNonce,
		Offset:      offset,
		Inputs:      selected,
		ChangeValue: changeValue,
		ChangeBlind: changeBlind,
	}
	return s, ctx, nil
}

// ReceiveSlate runs the receiver round (§4.10): derive the receiver's
// blind/nonce, append the receiver's output, compute R_sum/P_sum, and
// attach this participant's partial signature.
//
// receiverBlind/receiverProofNonce are supplied by the caller the same
// way the sender's change secrets are — this package never generates
// key-derivation material itself.
func ReceiveSlate(s Slate, receiverBlind crypto.BlindingFactor, receiverProofNonce [32]byte) (*Slate, error) {
	if err := s.validateVersion(); err != nil {
		return nil, err
	}
	if len(s.Participants) != 1 {
		return nil, corerr.BadData(corerr.RuleTooManyParticipants)
	}
	sender := s.Participants[0]

	receiveCommit, err := crypto.Commit(s.Amount, receiverBlind)
	if err != nil {
		return nil, err
	}
	receiveProof, err := crypto.RangeProofProve(s.Amount, receiverBlind, receiverProofNonce, crypto.RangeProofMessage{})
	if err != nil {
		return nil, err
	}
	receiveOutput := chaintypes.TransactionOutput{
		Features:   chaintypes.FeaturePlain,
		Commitment: receiveCommit,
		RangeProof: receiveProof,
	}

	receiverSecretBlind := crypto.SecretKey(receiverBlind)
	receiverNonce := crypto.GenerateNonce()
	receiverPublicBlind := crypto.PublicKeyFromSecret(receiverSecretBlind)
	receiverPublicNonce := crypto.PublicKeyFromSecret(receiverNonce)

	pSum, err := crypto.SumPublicKeys(sender.PublicBlindExcess, receiverPublicBlind)
	if err != nil {
		return nil, err
	}
	rSum, err := crypto.SumPublicKeys(sender.PublicNonce, receiverPublicNonce)
	if err != nil {
		return nil, err
	}

	partial, err := crypto.SchnorrPartialSign(receiverSecretBlind, receiverNonce, rSum, pSum, s.kernelSignatureMessage())
	if err != nil {
		return nil, err
	}

	out := s
	out.Outputs = append(append([]chaintypes.TransactionOutput(nil), s.Outputs...), receiveOutput)
	out.Participants = append(append([]Participant(nil), s.Participants...), Participant{
		ID:                receiverParticipantID,
		PublicBlindExcess: receiverPublicBlind,
		PublicNonce:       receiverPublicNonce,
		PartialSignature:  &partial,
	})
	return &out, nil
}

// FinalizeSlate runs sender round 2 (§4.10): verify the receiver's
// partial signature, produce the sender's own partial, aggregate to a
// full signature, and build the final Transaction.
func FinalizeSlate(s Slate, ctx SenderContext) (chaintypes.Transaction, error) {
	if err := s.validateVersion(); err != nil {
		return chaintypes.Transaction{}, err
	}
	if len(s.Participants) != 2 {
		return chaintypes.Transaction{}, corerr.BadData(corerr.RuleTooManyParticipants)
	}
	sender, receiver := s.Participants[0], s.Participants[1]
	if receiver.PartialSignature == nil {
		return chaintypes.Transaction{}, corerr.BadData(corerr.RulePartialSigInvalid)
	}

	pSum, err := crypto.SumPublicKeys(sender.PublicBlindExcess, receiver.PublicBlindExcess)
	if err != nil {
		return chaintypes.Transaction{}, err
	}
	rSum, err := crypto.SumPublicKeys(sender.PublicNonce, receiver.PublicNonce)
	if err != nil {
		return chaintypes.Transaction{}, err
	}

	msg := s.kernelSignatureMessage()
	if !crypto.SchnorrVerifyPartial(*receiver.PartialSignature, receiver.PublicBlindExcess, rSum, pSum, msg) {
		return chaintypes.Transaction{}, corerr.BadData(corerr.RulePartialSigInvalid)
	}

	senderPartial, err := crypto.SchnorrPartialSign(ctx.Blind, ctx.Nonce, rSum, pSum, msg)
	if err != nil {
		return chaintypes.Transaction{}, err
	}

	sig, err := crypto.SchnorrAggregate([]crypto.PartialSignature{senderPartial, *receiver.PartialSignature}, pSum)
	if err != nil {
		return chaintypes.Transaction{}, err
	}

	var excess crypto.Commitment
	copy(excess[:], pSum[:])
	kernel := chaintypes.TransactionKernel{
		Features:         chaintypes.FeaturePlain,
		Fee:              s.Fee,
		LockHeight:       s.LockHeight,
		ExcessCommitment: excess,
		ExcessSignature:  sig,
	}

	if !crypto.SchnorrVerify(crypto.CommitmentToPublicKey(kernel.ExcessCommitment), msg, kernel.ExcessSignature) {
		return chaintypes.Transaction{}, corerr.BadData(corerr.RuleBadKernelSignature)
	}

	body := chaintypes.TransactionBody{
		Inputs:  s.Inputs,
		Outputs: s.Outputs,
		Kernels: []chaintypes.TransactionKernel{kernel},
	}
	body.Canonicalize()

	return chaintypes.Transaction{Offset: ctx.Offset, Body: body}, nil
}
