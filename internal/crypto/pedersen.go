package crypto

import "github.com/btcsuite/btcd/btcec/v2"

// Commit computes a Pedersen commitment C = r*G + v*H for a value and
// blinding factor (§4.1 `commit(v, r) -> C`).
func Commit(value uint64, blind BlindingFactor) (Commitment, error) {
	r := scalarFromBytes(blind[:])
	if r.IsZero() {
		return Commitment{}, ErrZeroValue
	}
	rG := scalarBaseMul(r)

	vScalar := scalarFromUint64(value)
	vH := scalarMul(vScalar, generatorH())

	sum := addPoints(rG, vH)
	var out Commitment
	copy(out[:], jacobianToCompressed(sum))
	return out, nil
}

func scalarFromUint64(v uint64) *btcec.ModNScalar {
	var b [32]byte
	for i := 0; i < 8; i++ {
		b[31-i] = byte(v >> (8 * i))
	}
	return scalarFromBytes(b[:])
}

// CommitSum homomorphically sums positive commitments and subtracts
// negative ones (§4.1 `commit_sum(pos, neg) -> C`). A sum that cancels
// to the point at infinity (or an empty input) is the zero Commitment.
func CommitSum(pos, neg []Commitment) (Commitment, error) {
	var acc *btcec.JacobianPoint
	for _, c := range pos {
		p, err := decompressCommitment(c)
		if err != nil {
			return Commitment{}, err
		}
		if acc == nil {
			acc = p
		} else {
			acc = addPoints(acc, p)
		}
	}
	for _, c := range neg {
		p, err := decompressCommitment(c)
		if err != nil {
			return Commitment{}, err
		}
		if acc == nil {
			acc = negatePoint(p)
		} else {
			acc = subPoints(acc, p)
		}
	}
	if acc == nil || acc.Z.Normalize().IsZero() {
		return Commitment{}, nil
	}
	var out Commitment
	copy(out[:], jacobianToCompressed(acc))
	return out, nil
}

// CommitTransparent commits to a publicly-known value with a zero blinding
// factor: C = v*H. Used for the over-commitment term `(reward+fees)·H` in
// the block-against-state balance check (§4.6).
func CommitTransparent(value uint64) Commitment {
	vH := scalarMul(scalarFromUint64(value), generatorH())
	var out Commitment
	copy(out[:], jacobianToCompressed(vH))
	return out
}

func decompressCommitment(c Commitment) (*btcec.JacobianPoint, error) {
	pk, err := parsePubKey(c[:])
	if err != nil {
		return nil, err
	}
	var p btcec.JacobianPoint
	pk.AsJacobian(&p)
	return &p, nil
}

// AddBlindingFactors sums positive blinding factors and subtracts negative
// ones modulo the curve order (§4.1 `add_blinding_factors(pos, neg) -> r`).
func AddBlindingFactors(pos, neg []BlindingFactor) BlindingFactor {
	acc := new(btcec.ModNScalar).SetInt(0)
	for _, p := range pos {
		acc.Add(scalarFromBytes(p[:]))
	}
	for _, n := range neg {
		acc = subScalars(acc, scalarFromBytes(n[:]))
	}
	var out BlindingFactor
	b := acc.Bytes()
	copy(out[:], b[:])
	return out
}

// PublicKeyFromSecret derives P = sk*G.
func PublicKeyFromSecret(sk SecretKey) PublicKey {
	p := scalarBaseMul(scalarFromBytes(sk[:]))
	var out PublicKey
	copy(out[:], jacobianToCompressed(p))
	return out
}

// CommitmentToPublicKey reinterprets a commitment's curve point as a public
// key, used when a kernel excess commitment is verified as a Schnorr
// public key.
func CommitmentToPublicKey(c Commitment) PublicKey {
	var out PublicKey
	copy(out[:], c[:])
	return out
}

// SumPublicKeys adds a set of public keys on the curve, used to combine
// participants' public_blind_excess and public_nonce values into the
// slate's R_sum/P_sum (§4.10).
func SumPublicKeys(keys ...PublicKey) (PublicKey, error) {
	if len(keys) == 0 {
		return PublicKey{}, ErrInvalidSignature
	}
	var acc *btcec.JacobianPoint
	for _, k := range keys {
		pt, err := decompressPublicKey(k)
		if err != nil {
			return PublicKey{}, err
		}
		if acc == nil {
			acc = pt
		} else {
			acc = addPoints(acc, pt)
		}
	}
	var out PublicKey
	copy(out[:], jacobianToCompressed(acc))
	return out, nil
}
