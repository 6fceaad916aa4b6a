package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"wimble.dev/node/internal/crypto"
)

func TestCheckCanonicalOrderAcceptsSortedDistinctKeys(t *testing.T) {
	a := crypto.Blake2b256([]byte("a"))
	b := crypto.Blake2b256([]byte("b"))
	keys := []crypto.Hash{a, b}
	if keys[0] == keys[1] {
		t.Skip("hash collision in fixture, regenerate")
	}
	// Force deterministic ascending order for the test regardless of the
	// actual digest values.
	ordered := SortIndices(keys)
	sorted := make([]crypto.Hash, len(keys))
	for i, idx := range ordered {
		sorted[i] = keys[idx]
	}
	require.NoError(t, CheckCanonicalOrder(sorted))
}

func TestCheckCanonicalOrderRejectsDuplicates(t *testing.T) {
	h := crypto.Blake2b256([]byte("dup"))
	require.Error(t, CheckCanonicalOrder([]crypto.Hash{h, h}))
}

func TestCheckCanonicalOrderRejectsOutOfOrder(t *testing.T) {
	keys := []crypto.Hash{
		crypto.Blake2b256([]byte("z")),
		crypto.Blake2b256([]byte("a")),
	}
	sorted := make([]crypto.Hash, 2)
	idx := SortIndices(keys)
	for i, j := range idx {
		sorted[i] = keys[j]
	}
	// Reverse the correctly-sorted order to force a violation.
	reversed := []crypto.Hash{sorted[1], sorted[0]}
	require.Error(t, CheckCanonicalOrder(reversed))
}

func TestSortKeyDiffersByTypeTag(t *testing.T) {
	enc := []byte("same-encoding")
	require.NotEqual(t, SortKey(TagInput, enc), SortKey(TagOutput, enc))
}
