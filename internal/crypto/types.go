// Package crypto implements the CryptoPrimitives surface: Pedersen
// commitments and blinding-factor arithmetic, bulletproof range proofs,
// Schnorr aggregate signatures, and the supporting symmetric/KDF/RNG
// primitives used by the wallet and wire layers.
//
// All operations are deterministic except RangeProofProve, which consumes a
// caller-supplied 32-byte private nonce. Verification never branches on
// secret material in a way that would leak timing; every failure path
// returns one of the distinct error classes below rather than a generic
// error, per the error-handling design.
package crypto

import (
	"crypto/subtle"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/blake2b"
)

// Commitment is a 33-byte compressed Pedersen commitment v*H + r*G.
type Commitment [33]byte

// BlindingFactor is a 32-byte secp256k1 scalar used as a commitment's
// blinding term or as a transaction's kernel offset.
type BlindingFactor [32]byte

// SecretKey is a 32-byte secp256k1 scalar.
type SecretKey [32]byte

// PublicKey is a 33-byte compressed secp256k1 point.
type PublicKey [33]byte

// Hash is a 32-byte Blake2b digest.
type Hash [32]byte

// Errors are grouped into a distinct class per primitive, matching §4.1 and
// §7 of the design: InvalidPoint, InvalidSignature, and ProofMalformed never
// collapse into one generic error so callers (and Validators) can branch on
// failure kind without parsing strings.
var (
	ErrInvalidPoint        = errors.New("crypto: invalid point encoding")
	ErrInvalidSignature    = errors.New("crypto: invalid signature")
	ErrProofMalformed      = errors.New("crypto: rangeproof malformed or out of range")
	ErrZeroValue           = errors.New("crypto: zero blinding factor sum not allowed for kernel offset")
	ErrTooManyParticipants = errors.New("crypto: too many signature participants")
)

// Blake2b256 is the canonical chain hash function (§3: "32-byte Blake2b of
// canonical serialization").
func Blake2b256(data ...[]byte) Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an invalid key, and we never pass one.
		panic("crypto: blake2b init: " + err.Error())
	}
	for _, d := range data {
		_, _ = h.Write(d)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

func parsePubKey(b []byte) (*btcec.PublicKey, error) {
	pk, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, ErrInvalidPoint
	}
	return pk, nil
}

func compressPoint(x, y *btcec.FieldVal) []byte {
	pk := btcec.NewPublicKey(x, y)
	return pk.SerializeCompressed()
}
