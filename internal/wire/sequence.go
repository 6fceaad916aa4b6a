package wire

import (
	"bytes"

	"wimble.dev/node/internal/corerr"
	"wimble.dev/node/internal/crypto"
)

// TypeTag prefixes an element's canonical encoding before hashing for sort
// order, so an input and an output that happen to encode identically never
// collide in the ordering (§4.2: "hash used for sorting ... with a type
// tag prefix").
type TypeTag byte

const (
	TagInput  TypeTag = 0x01
	TagOutput TypeTag = 0x02
	TagKernel TypeTag = 0x03
)

// SortKey computes the Blake2b hash used to order a body element: the
// type tag followed by the element's canonical encoding.
func SortKey(tag TypeTag, canonicalEncoding []byte) crypto.Hash {
	return crypto.Blake2b256([]byte{byte(tag)}, canonicalEncoding)
}

// CheckCanonicalOrder verifies keys are strictly increasing with no
// duplicates, the ordering invariant every body decode must enforce (I4,
// §4.6 "sorted/deduplicated").
func CheckCanonicalOrder(keys []crypto.Hash) error {
	for i := 1; i < len(keys); i++ {
		cmp := bytes.Compare(keys[i-1][:], keys[i][:])
		if cmp == 0 {
			return corerr.BadData(corerr.RuleNotCanonical)
		}
		if cmp > 0 {
			return corerr.BadData(corerr.RuleNotCanonical)
		}
	}
	return nil
}

// SortIndices returns the permutation that would place keys into
// canonical (ascending, deduplicated) order, for encoders that build a
// body from an unordered working set before serializing it.
func SortIndices(keys []crypto.Hash) []int {
	idx := make([]int, len(keys))
	for i := range idx {
		idx[i] = i
	}
	for i := 1; i < len(idx); i++ {
		j := i
		for j > 0 && bytes.Compare(keys[idx[j-1]][:], keys[idx[j]][:]) > 0 {
			idx[j-1], idx[j] = idx[j], idx[j-1]
			j--
		}
	}
	return idx
}
