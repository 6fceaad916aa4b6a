package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRangeProofProveVerifyRoundTrip(t *testing.T) {
	var blind BlindingFactor
	copy(blind[:], SecureRandomBytes(32))
	var nonce [32]byte
	copy(nonce[:], SecureRandomBytes(32))

	value := uint64(123456789)
	commit, err := Commit(value, blind)
	require.NoError(t, err)

	proof, err := RangeProofProve(value, blind, nonce, RangeProofMessage{})
	require.NoError(t, err)
	require.True(t, RangeProofVerify(commit, proof))
}

func TestRangeProofRewindRecoversValue(t *testing.T) {
	var blind BlindingFactor
	copy(blind[:], SecureRandomBytes(32))
	var nonce [32]byte
	copy(nonce[:], SecureRandomBytes(32))

	var msg RangeProofMessage
	copy(msg[:], []byte("wallet-note"))

	value := uint64(7)
	proof, err := RangeProofProve(value, blind, nonce, msg)
	require.NoError(t, err)

	gotValue, gotBlind, gotMsg, err := RangeProofRewind(nonce, proof)
	require.NoError(t, err)
	require.Equal(t, value, gotValue)
	require.Equal(t, blind, gotBlind)
	require.Equal(t, msg, gotMsg)
}

func TestRangeProofRewindFailsWithWrongNonce(t *testing.T) {
	var blind BlindingFactor
	copy(blind[:], SecureRandomBytes(32))
	var nonce, wrongNonce [32]byte
	copy(nonce[:], SecureRandomBytes(32))
	copy(wrongNonce[:], SecureRandomBytes(32))

	proof, err := RangeProofProve(5, blind, nonce, RangeProofMessage{})
	require.NoError(t, err)

	_, _, _, err = RangeProofRewind(wrongNonce, proof)
	require.Error(t, err)
}

func TestRangeProofVerifyRejectsMismatchedCommitment(t *testing.T) {
	var blind, otherBlind BlindingFactor
	copy(blind[:], SecureRandomBytes(32))
	copy(otherBlind[:], SecureRandomBytes(32))
	var nonce [32]byte
	copy(nonce[:], SecureRandomBytes(32))

	proof, err := RangeProofProve(100, blind, nonce, RangeProofMessage{})
	require.NoError(t, err)

	wrongCommit, err := Commit(100, otherBlind)
	require.NoError(t, err)
	require.False(t, RangeProofVerify(wrongCommit, proof))
}
