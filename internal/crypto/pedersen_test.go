package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func randBlind() BlindingFactor {
	var b BlindingFactor
	copy(b[:], SecureRandomBytes(32))
	return b
}

func TestCommitHomomorphism(t *testing.T) {
	r1, r2 := randBlind(), randBlind()
	c1, err := Commit(10, r1)
	require.NoError(t, err)
	c2, err := Commit(5, r2)
	require.NoError(t, err)

	sumBlind := AddBlindingFactors([]BlindingFactor{r1, r2}, nil)
	want, err := Commit(15, sumBlind)
	require.NoError(t, err)

	got, err := CommitSum([]Commitment{c1, c2}, nil)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestCommitSumCancelsEqualValues(t *testing.T) {
	r := randBlind()
	c, err := Commit(42, r)
	require.NoError(t, err)

	zero, err := CommitSum([]Commitment{c}, []Commitment{c})
	require.NoError(t, err)
	require.Equal(t, Commitment{}, zero)
}

func TestCommitRejectsZeroBlind(t *testing.T) {
	_, err := Commit(1, BlindingFactor{})
	require.ErrorIs(t, err, ErrZeroValue)
}

func TestAddBlindingFactorsMatchesCommitSum(t *testing.T) {
	rs := []BlindingFactor{randBlind(), randBlind(), randBlind()}
	ns := []BlindingFactor{randBlind()}
	got := AddBlindingFactors(rs, ns)

	var zero BlindingFactor
	require.NotEqual(t, zero, got)

	var pos []Commitment
	for _, r := range rs {
		c, err := Commit(10, r)
		require.NoError(t, err)
		pos = append(pos, c)
	}
	negC, err := Commit(10, ns[0])
	require.NoError(t, err)
	sum, err := CommitSum(pos, []Commitment{negC})
	require.NoError(t, err)
	want, err := Commit(20, got)
	require.NoError(t, err)
	require.Equal(t, want, sum)
}
