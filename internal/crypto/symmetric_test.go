package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := SecureRandomBytes(32)
	plain := []byte("wallet seed bytes")
	sealed, err := SealWithKey(key, plain, []byte("aad"))
	require.NoError(t, err)

	got, err := OpenWithKey(key, sealed, []byte("aad"))
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key1 := SecureRandomBytes(32)
	key2 := SecureRandomBytes(32)
	sealed, err := SealWithKey(key1, []byte("secret"), nil)
	require.NoError(t, err)

	_, err = OpenWithKey(key2, sealed, nil)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDeriveKeyDeterministicForSameSalt(t *testing.T) {
	params := ScryptParams{N: 1 << 10, R: 8, P: 1} // cheap params for test speed
	salt := []byte("fixed-salt-0123456789ab")

	k1, err := DeriveKey([]byte("passphrase"), salt, params)
	require.NoError(t, err)
	k2, err := DeriveKey([]byte("passphrase"), salt, params)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}

func TestHKDFExpandDistinctLabels(t *testing.T) {
	secret := SecureRandomBytes(32)
	a, err := HKDFExpand(secret, nil, []byte("signing"), 32)
	require.NoError(t, err)
	b, err := HKDFExpand(secret, nil, []byte("rewind"), 32)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
