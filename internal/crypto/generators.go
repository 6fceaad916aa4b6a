package crypto

import (
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
)

// RangeBits is the width of every rangeproof: values are committed and
// proven over the full uint64 domain, matching spec §4.1/§8's "value lies
// in [0, 2^64)".
const RangeBits = 64

var (
	curveParams = btcec.S256().Params()
	curveOrder  = curveParams.N
	curveP      = curveParams.P
)

// generatorG is the secp256k1 base point, used as the blinding-factor basis
// in every Pedersen commitment (C = r*G + v*H).
func generatorG() *btcec.JacobianPoint {
	var p btcec.JacobianPoint
	one := new(btcec.ModNScalar).SetInt(1)
	btcec.ScalarBaseMultNonConst(one, &p)
	p.ToAffine()
	return &p
}

// generatorH is the value basis. It is derived by hashing a fixed
// nothing-up-my-sleeve string to a candidate x-coordinate and incrementing
// until a point on the curve is found ("try-and-increment" hash-to-curve).
// Because finding its discrete log relative to G requires solving the
// secp256k1 ECDLP, no party (including the implementer) knows a scalar k
// with H = k*G, which is what makes the commitment hiding.
func generatorH() *btcec.JacobianPoint {
	return hashToCurve("wimble.dev/node/pedersen-H")
}

// bitGenerators returns the per-bit generator vectors used by the
// bulletproof inner-product argument: Gi is keyed off "G" so it lines up
// with the value bits, Hi off "H" so it lines up with the blinding
// decomposition. Both are independent nothing-up-my-sleeve points.
func bitGenerators() (g, h [RangeBits]*btcec.JacobianPoint) {
	for i := 0; i < RangeBits; i++ {
		g[i] = hashToCurveIndexed("wimble.dev/node/bp-G", i)
		h[i] = hashToCurveIndexed("wimble.dev/node/bp-H", i)
	}
	return
}

func hashToCurve(domain string) *btcec.JacobianPoint {
	return hashToCurveIndexed(domain, -1)
}

func hashToCurveIndexed(domain string, index int) *btcec.JacobianPoint {
	counter := uint32(0)
	for {
		seed := domain
		if index >= 0 {
			seed += "/" + itoa(index)
		}
		seed += "#" + itoa(int(counter))
		digest := Blake2b256([]byte(seed))

		x := new(big.Int).SetBytes(digest[:])
		x.Mod(x, curveP)

		if p, ok := liftX(x); ok {
			return p
		}
		counter++
	}
}

// liftX attempts to recover a point on the curve with the given
// x-coordinate, choosing the even-y representative deterministically.
func liftX(x *big.Int) (*btcec.JacobianPoint, bool) {
	var fx btcec.FieldVal
	fx.SetByteSlice(x.Bytes())

	// y^2 = x^3 + 7 (secp256k1)
	var ySq, xCubed, seven btcec.FieldVal
	xCubed.SquareVal(&fx).Mul(&fx)
	seven.SetInt(7)
	ySq.Add2(&xCubed, &seven)

	y := new(btcec.FieldVal)
	if !sqrtFieldVal(y, &ySq) {
		return nil, false
	}

	// Normalize to the even-y representative for determinism.
	y.Normalize()
	yBytes := y.Bytes()
	if yBytes[31]&1 == 1 {
		y.Negate(1).Normalize()
	}

	p := &btcec.JacobianPoint{}
	p.X.Set(&fx)
	p.Y.Set(y)
	p.Z.SetInt(1)
	return p, true
}

// sqrtFieldVal computes a modular square root mod the secp256k1 field prime
// (p ≡ 3 mod 4, so sqrt(a) = a^((p+1)/4)) and reports whether a is a
// quadratic residue.
func sqrtFieldVal(dst, a *btcec.FieldVal) bool {
	exp := new(big.Int).Add(curveP, big.NewInt(1))
	exp.Rsh(exp, 2)

	aBig := new(big.Int).SetBytes(fieldValBytes(a))
	root := new(big.Int).Exp(aBig, exp, curveP)

	var candidate btcec.FieldVal
	candidate.SetByteSlice(leftPad32(root.Bytes()))

	var check btcec.FieldVal
	check.SquareVal(&candidate)
	if !check.Equals(normalize(a)) {
		return false
	}
	dst.Set(&candidate)
	return true
}

func normalize(a *btcec.FieldVal) *btcec.FieldVal {
	cp := new(btcec.FieldVal).Set(a)
	cp.Normalize()
	return cp
}

func fieldValBytes(a *btcec.FieldVal) []byte {
	cp := new(btcec.FieldVal).Set(a)
	cp.Normalize()
	b := cp.Bytes()
	return b[:]
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func jacobianToCompressed(p *btcec.JacobianPoint) []byte {
	cp := *p
	cp.ToAffine()
	return compressPoint(&cp.X, &cp.Y)
}

func addPoints(a, b *btcec.JacobianPoint) *btcec.JacobianPoint {
	var out btcec.JacobianPoint
	btcec.AddNonConst(a, b, &out)
	return &out
}

func negatePoint(a *btcec.JacobianPoint) *btcec.JacobianPoint {
	out := *a
	out.Y.Negate(1).Normalize()
	return &out
}

func subPoints(a, b *btcec.JacobianPoint) *btcec.JacobianPoint {
	return addPoints(a, negatePoint(b))
}

func scalarMul(k *btcec.ModNScalar, p *btcec.JacobianPoint) *btcec.JacobianPoint {
	var out btcec.JacobianPoint
	btcec.ScalarMultNonConst(k, p, &out)
	return &out
}

func scalarBaseMul(k *btcec.ModNScalar) *btcec.JacobianPoint {
	var out btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(k, &out)
	return &out
}

func scalarFromBytes(b []byte) *btcec.ModNScalar {
	var s btcec.ModNScalar
	s.SetByteSlice(b)
	return &s
}

func scalarFromHash(h Hash) *btcec.ModNScalar {
	return scalarFromBytes(h[:])
}

func addScalars(a, b *btcec.ModNScalar) *btcec.ModNScalar {
	out := *a
	out.Add(b)
	return &out
}

func subScalars(a, b *btcec.ModNScalar) *btcec.ModNScalar {
	neg := *b
	neg.Negate()
	out := *a
	out.Add(&neg)
	return &out
}

func mulScalars(a, b *btcec.ModNScalar) *btcec.ModNScalar {
	out := *a
	out.Mul(b)
	return &out
}

func negateScalar(a *btcec.ModNScalar) *btcec.ModNScalar {
	out := *a
	out.Negate()
	return &out
}

func scalarPow(base *btcec.ModNScalar, exp int) *btcec.ModNScalar {
	out := new(btcec.ModNScalar).SetInt(1)
	b := *base
	for e := exp; e > 0; e >>= 1 {
		if e&1 == 1 {
			out.Mul(&b)
		}
		b.Mul(&b)
	}
	return out
}

func invertScalar(a *btcec.ModNScalar) *btcec.ModNScalar {
	out := *a
	out.InverseNonConst()
	return &out
}
