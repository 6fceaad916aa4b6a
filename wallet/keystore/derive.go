package keystore

import (
	"encoding/binary"

	"wimble.dev/node/internal/crypto"
)

// DerivedKey is one key-derivation-index's worth of spending material: a
// blinding factor for Pedersen commitments and a rangeproof rewind
// nonce, both subkeys of the wallet's master seed (§4.10 "derive
// receiver_blind (new output at next key-derivation index)").
type DerivedKey struct {
	Blind      crypto.BlindingFactor
	ProofNonce [32]byte
}

// DeriveAt derives the blinding factor and rangeproof nonce for output
// index idx under seed, via two independently-labeled HKDF expansions so
// neither subkey can be recovered from the other.
func DeriveAt(seed []byte, idx uint32) (DerivedKey, error) {
	var idxBytes [4]byte
	binary.BigEndian.PutUint32(idxBytes[:], idx)

	blindBytes, err := crypto.HKDFExpand(seed, idxBytes[:], []byte("wimble/blind"), 32)
	if err != nil {
		return DerivedKey{}, err
	}
	nonceBytes, err := crypto.HKDFExpand(seed, idxBytes[:], []byte("wimble/proof-nonce"), 32)
	if err != nil {
		return DerivedKey{}, err
	}

	var out DerivedKey
	copy(out.Blind[:], blindBytes)
	copy(out.ProofNonce[:], nonceBytes)
	return out, nil
}
