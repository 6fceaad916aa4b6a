// Package slate implements the three-pass interactive transaction
// construction protocol (§4.10): sender round 1, receiver round, sender
// round 2/finalize. The teacher has no wallet package of its own — this
// package's shape is grounded on original_source's SignatureUtil.h for
// the sum-pubkeys/partial-sign/aggregate sequence, expressed with this
// module's own internal/crypto and internal/chaintypes primitives.
package slate

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"

	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/corerr"
	"wimble.dev/node/internal/crypto"
	"wimble.dev/node/internal/wire"
)

// Version is the only slate wire schema this implementation speaks
// (§14 decision 3). A slate carrying any other version is rejected at
// parse time rather than partially interpreted.
const Version = 2

// SelectionStrategy names how the sender's round 1 picks spendable
// inputs to cover amount+fee (§4.10 `ESelectionStrategy`).
type SelectionStrategy int

const (
	SmallestInputsFirst SelectionStrategy = iota
	SelectAll
)

// SpendableInput is a wallet-owned output together with the secrets
// needed to spend it: its value (for fee/change math) and its blinding
// factor (folded into the transaction's net excess).
type SpendableInput struct {
	Commitment crypto.Commitment
	Value      uint64
	Blind      crypto.BlindingFactor
}

// Participant is one party's contribution to a slate round (§3 Slate:
// "participants: [{ id, public_blind_excess, public_nonce,
// partial_signature?, message?, message_sig? }]").
type Participant struct {
	ID                uint32
	PublicBlindExcess crypto.PublicKey
	PublicNonce       crypto.PublicKey
	PartialSignature  *crypto.PartialSignature
}

// Slate is the JSON envelope participants exchange to accumulate
// partial signatures across the three-pass protocol (§3, §6 "Slate
// JSON").
type Slate struct {
	Version    int
	ID         uuid.UUID
	Amount     uint64
	Fee        uint64
	Height     uint64
	LockHeight uint64

	Participants []Participant

	// Inputs/Outputs accumulate across rounds: round 1 contributes the
	// sender's inputs and change output, the receiver round appends its
	// own output (§4.10 "append receiver output + rangeproof").
	Inputs  []chaintypes.TransactionInput
	Outputs []chaintypes.TransactionOutput
}

const senderParticipantID = 0
const receiverParticipantID = 1

// maxParticipants bounds SchnorrAggregate's input the same way (§4.10
// TooManyParticipants); multi-party (>2) slates are out of scope for
// this implementation, but the check is expressed generically rather
// than hardcoded to 2 so a future multi-party round could relax it.
const maxParticipants = 8

func (s Slate) validateVersion() error {
	if s.Version != Version {
		return corerr.BadData(corerr.RuleSlateVersionMismatch)
	}
	return nil
}

// kernelSignatureMessage is the message every participant's partial
// signature signs: H(fee||lock_height||features) (§4.10).
func (s Slate) kernelSignatureMessage() crypto.Hash {
	return chaintypes.KernelSignatureMessage(chaintypes.FeaturePlain, s.Fee, s.LockHeight)
}

// slateJSON is the externally versioned wire shape: hex-encoded points,
// a base64-encoded partial-signature scalar, and inputs/outputs encoded
// via their canonical wire form, then hex-wrapped (inputs) or
// base64-wrapped (outputs, which carry the rangeproof), so the JSON
// schema never has to mirror internal/chaintypes field-by-field (§6
// "stable externally versioned schema").
type slateJSON struct {
	Version      int               `json:"version"`
	ID           string            `json:"id"`
	Amount       uint64            `json:"amount"`
	Fee          uint64            `json:"fee"`
	Height       uint64            `json:"height"`
	LockHeight   uint64            `json:"lock_height"`
	Participants []participantJSON `json:"participants"`
	Inputs       []string          `json:"inputs"`
	Outputs      []string          `json:"outputs"`
}

type participantJSON struct {
	ID                uint32  `json:"id"`
	PublicBlindExcess string  `json:"public_blind_excess"`
	PublicNonce       string  `json:"public_nonce"`
	PartialSigNonce   *string `json:"partial_sig_nonce,omitempty"`
	PartialSigS       *string `json:"partial_sig_s,omitempty"`
}

func (s Slate) MarshalJSON() ([]byte, error) {
	out := slateJSON{
		Version:    s.Version,
		ID:         s.ID.String(),
		Amount:     s.Amount,
		Fee:        s.Fee,
		Height:     s.Height,
		LockHeight: s.LockHeight,
	}
	for _, p := range s.Participants {
		pj := participantJSON{
			ID:                p.ID,
			PublicBlindExcess: hex.EncodeToString(p.PublicBlindExcess[:]),
			PublicNonce:       hex.EncodeToString(p.PublicNonce[:]),
		}
		if p.PartialSignature != nil {
			nonceHex := hex.EncodeToString(p.PartialSignature.Nonce[:])
			sB64 := base64.StdEncoding.EncodeToString(p.PartialSignature.S[:])
			pj.PartialSigNonce = &nonceHex
			pj.PartialSigS = &sB64
		}
		out.Participants = append(out.Participants, pj)
	}
	for _, in := range s.Inputs {
		w := wire.NewWriter()
		in.Encode(w)
		out.Inputs = append(out.Inputs, hex.EncodeToString(w.Bytes()))
	}
	for _, o := range s.Outputs {
		w := wire.NewWriter()
		o.Encode(w)
		out.Outputs = append(out.Outputs, base64.StdEncoding.EncodeToString(w.Bytes()))
	}
	return json.Marshal(out)
}

func (s *Slate) UnmarshalJSON(data []byte) error {
	var in slateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Version != Version {
		return corerr.BadData(corerr.RuleSlateVersionMismatch)
	}
	id, err := uuid.Parse(in.ID)
	if err != nil {
		return corerr.BadDataf(corerr.RuleSlateVersionMismatch, err)
	}
	if len(in.Participants) > maxParticipants {
		return corerr.BadData(corerr.RuleTooManyParticipants)
	}

	out := Slate{
		Version:    in.Version,
		ID:         id,
		Amount:     in.Amount,
		Fee:        in.Fee,
		Height:     in.Height,
		LockHeight: in.LockHeight,
	}
	for _, pj := range in.Participants {
		p := Participant{ID: pj.ID}
		excess, err := hex.DecodeString(pj.PublicBlindExcess)
		if err != nil || len(excess) != len(p.PublicBlindExcess) {
			return corerr.BadData(corerr.RulePartialSigInvalid)
		}
		copy(p.PublicBlindExcess[:], excess)
		nonce, err := hex.DecodeString(pj.PublicNonce)
		if err != nil || len(nonce) != len(p.PublicNonce) {
			return corerr.BadData(corerr.RulePartialSigInvalid)
		}
		copy(p.PublicNonce[:], nonce)
		if pj.PartialSigNonce != nil && pj.PartialSigS != nil {
			var ps crypto.PartialSignature
			nb, err := hex.DecodeString(*pj.PartialSigNonce)
			if err != nil || len(nb) != len(ps.Nonce) {
				return corerr.BadData(corerr.RulePartialSigInvalid)
			}
			copy(ps.Nonce[:], nb)
			sb, err := base64.StdEncoding.DecodeString(*pj.PartialSigS)
			if err != nil || len(sb) != len(ps.S) {
				return corerr.BadData(corerr.RulePartialSigInvalid)
			}
			copy(ps.S[:], sb)
			p.PartialSignature = &ps
		}
		out.Participants = append(out.Participants, p)
	}
	for _, enc := range in.Inputs {
		b, err := hex.DecodeString(enc)
		if err != nil {
			return corerr.BadData(corerr.RulePartialSigInvalid)
		}
		txin, err := chaintypes.DecodeInput(wire.NewReader(b))
		if err != nil {
			return corerr.BadDataf(corerr.RulePartialSigInvalid, err)
		}
		out.Inputs = append(out.Inputs, txin)
	}
	for _, enc := range in.Outputs {
		b, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return corerr.BadData(corerr.RulePartialSigInvalid)
		}
		txout, err := chaintypes.DecodeOutput(wire.NewReader(b))
		if err != nil {
			return corerr.BadDataf(corerr.RulePartialSigInvalid, err)
		}
		out.Outputs = append(out.Outputs, txout)
	}
	*s = out
	return nil
}
