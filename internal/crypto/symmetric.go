package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"
	"lukechampine.com/frand"
)

// ScryptParams are the work-factor parameters for wallet seed encryption
// (§6 "keystore: scrypt-wrapped encrypted seed file"). N=2^18 matches the
// cost Grin++'s wallet uses for its default keystore.
type ScryptParams struct {
	N, R, P int
}

// DefaultScryptParams is the keystore's default work factor.
var DefaultScryptParams = ScryptParams{N: 1 << 18, R: 8, P: 1}

var ErrDecryptionFailed = errors.New("crypto: decryption failed (wrong passphrase or corrupt ciphertext)")

// DeriveKey stretches a passphrase into a 32-byte AES key via scrypt.
func DeriveKey(passphrase []byte, salt []byte, params ScryptParams) ([]byte, error) {
	return scrypt.Key(passphrase, salt, params.N, params.R, params.P, 32)
}

// SealWithKey encrypts plaintext under key using AES-256-GCM, returning
// nonce||ciphertext.
func SealWithKey(key, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	frand.Read(nonce)
	return append(nonce, gcm.Seal(nil, nonce, plaintext, aad)...), nil
}

// OpenWithKey reverses SealWithKey.
func OpenWithKey(key, sealed, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

// HKDFExpand derives n bytes from secret under the given label, used to
// split a wallet master key into per-purpose subkeys (signing, rewind,
// session-token) without a second scrypt pass.
func HKDFExpand(secret, salt, label []byte, n int) ([]byte, error) {
	r := hkdf.New(newBlake2b256Func, secret, salt, label)
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SecureRandomBytes draws n cryptographically secure random bytes via frand
// (the ambient RNG used across wallet seed generation and nonce sampling).
func SecureRandomBytes(n int) []byte {
	return frand.Bytes(n)
}
