package crypto

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"lukechampine.com/frand"
)

// Signature is a 64-byte Schnorr signature (R || s), matching the kernel
// excess signature encoding used throughout the chain (§4.1, §3).
type Signature [64]byte

// PartialSignature is one participant's contribution to an aggregate
// Schnorr signature, produced during the slate round-1/round-2 exchange
// (§4.10). It carries the nonce-commitment R_i so the aggregator can build
// the shared challenge before any s_i is revealed.
type PartialSignature struct {
	Nonce PublicKey
	S     [32]byte
}

// GenerateNonce returns a fresh secret nonce suitable for a Schnorr
// round or a rangeproof's private nonce, drawn from a CSPRNG rather than
// math/rand (§4.1 ambient RNG requirement).
func GenerateNonce() SecretKey {
	var out SecretKey
	frand.Read(out[:])
	return out
}

// schnorrChallenge computes e = H(R || P || m), the Fiat-Shamir challenge
// binding a nonce commitment, public key, and message together.
func schnorrChallenge(r, p PublicKey, msg Hash) *btcec.ModNScalar {
	h := Blake2b256(r[:], p[:], msg[:])
	return scalarFromHash(h)
}

// SchnorrSign produces a single-party Schnorr signature over msg using sk,
// with nonce k (§4.1 `schnorr_sign(sk, msg, nonce) -> sig`). Callers that
// need an aggregate kernel signature use SchnorrPartialSign +
// SchnorrAggregate instead.
func SchnorrSign(sk SecretKey, msg Hash, nonce SecretKey) (Signature, error) {
	k := scalarFromBytes(nonce[:])
	if k.IsZero() {
		return Signature{}, ErrInvalidSignature
	}
	R := scalarBaseMul(k)
	var rCompressed PublicKey
	copy(rCompressed[:], jacobianToCompressed(R))

	x := scalarFromBytes(sk[:])
	P := scalarBaseMul(x)
	var pCompressed PublicKey
	copy(pCompressed[:], jacobianToCompressed(P))

	e := schnorrChallenge(rCompressed, pCompressed, msg)
	s := addScalars(k, mulScalars(e, x))

	var out Signature
	copy(out[:32], rCompressed[1:33])
	sBytes := s.Bytes()
	copy(out[32:], sBytes[:])
	return out, nil
}

// SchnorrPartialSign is one participant's contribution toward an aggregate
// signature over a shared challenge derived from the summed nonce
// commitment and summed public key (§4.10 slate round 2).
//
// rSum and pSum are the already-aggregated nonce commitment and excess
// public key across all participants; sk and nonce are this participant's
// own secret key and nonce.
func SchnorrPartialSign(sk SecretKey, nonce SecretKey, rSum, pSum PublicKey, msg Hash) (PartialSignature, error) {
	k := scalarFromBytes(nonce[:])
	if k.IsZero() {
		return PartialSignature{}, ErrInvalidSignature
	}
	e := schnorrChallenge(rSum, pSum, msg)
	x := scalarFromBytes(sk[:])
	s := addScalars(k, mulScalars(e, x))

	myR := scalarBaseMul(k)
	var out PartialSignature
	copy(out.Nonce[:], jacobianToCompressed(myR))
	sBytes := s.Bytes()
	copy(out.S[:], sBytes[:])
	return out, nil
}

// SchnorrAggregate combines partial signatures that share a challenge into
// a single Signature, summing the s terms and the nonce commitments
// (§4.10 "sender round 2: aggregate partial signatures").
func SchnorrAggregate(parts []PartialSignature, pSum PublicKey) (Signature, error) {
	if len(parts) == 0 {
		return Signature{}, ErrInvalidSignature
	}
	if len(parts) > 32 {
		return Signature{}, ErrTooManyParticipants
	}

	var rAcc *btcec.JacobianPoint
	sAcc := new(btcec.ModNScalar).SetInt(0)
	for _, p := range parts {
		pt, err := decompressPublicKey(p.Nonce)
		if err != nil {
			return Signature{}, err
		}
		if rAcc == nil {
			rAcc = pt
		} else {
			rAcc = addPoints(rAcc, pt)
		}
		sAcc.Add(scalarFromBytes(p.S[:]))
	}

	var out Signature
	copy(out[:32], jacobianToCompressed(rAcc)[1:33])
	sBytes := sAcc.Bytes()
	copy(out[32:], sBytes[:])
	return out, nil
}

// SchnorrVerify checks s*G == R + e*P where e = H(R || P || m) (§4.1
// `schnorr_verify(pubkey, msg, sig) -> bool`). R is stored x-only, so
// both y-parities of R are tried, each with its own challenge.
func SchnorrVerify(pub PublicKey, msg Hash, sig Signature) bool {
	s := scalarFromBytes(sig[32:])
	if s.IsZero() {
		return false
	}

	P, err := decompressPublicKey(pub)
	if err != nil {
		return false
	}

	lb := jacobianToCompressed(scalarBaseMul(s))
	for _, prefix := range []byte{0x02, 0x03} {
		var rc PublicKey
		rc[0] = prefix
		copy(rc[1:], sig[:32])
		R, err := decompressPublicKey(rc)
		if err != nil {
			return false
		}
		e := schnorrChallenge(rc, pub, msg)
		if constantTimeEqual(lb, jacobianToCompressed(addPoints(R, scalarMul(e, P)))) {
			return true
		}
	}
	return false
}

// SchnorrVerifyPartial checks one participant's partial signature against
// the shared challenge derived from the aggregate nonce/pubkey (rSum,
// pSum) but the participant's own individual nonce commitment and public
// key: s_i*G == R_i + e*P_i, e = H(rSum || pSum || m) (§4.10 "verify
// receiver partial"). Used by the sender before aggregating, so a bad
// partial from either side is caught before it corrupts the final
// signature.
func SchnorrVerifyPartial(part PartialSignature, pub, rSum, pSum PublicKey, msg Hash) bool {
	s := scalarFromBytes(part.S[:])
	if s.IsZero() {
		return false
	}
	Ri, err := decompressPublicKey(part.Nonce)
	if err != nil {
		return false
	}
	P, err := decompressPublicKey(pub)
	if err != nil {
		return false
	}

	e := schnorrChallenge(rSum, pSum, msg)

	lhs := scalarBaseMul(s)
	rhs := addPoints(Ri, scalarMul(e, P))

	return constantTimeEqual(jacobianToCompressed(lhs), jacobianToCompressed(rhs))
}

func decompressPublicKey(p PublicKey) (*btcec.JacobianPoint, error) {
	pk, err := parsePubKey(p[:])
	if err != nil {
		return nil, err
	}
	var j btcec.JacobianPoint
	pk.AsJacobian(&j)
	return &j, nil
}

// decompressPublicKeyEither tries both y-parities for a bare 32-byte
// x-coordinate, since a Schnorr signature's R is stored x-only.
func decompressPublicKeyEither(x []byte) (*btcec.JacobianPoint, error) {
	for _, prefix := range []byte{0x02, 0x03} {
		var candidate [33]byte
		candidate[0] = prefix
		copy(candidate[1:], x)
		if pk, err := btcec.ParsePubKey(candidate[:]); err == nil {
			var j btcec.JacobianPoint
			pk.AsJacobian(&j)
			return &j, nil
		}
	}
	return nil, ErrInvalidPoint
}
