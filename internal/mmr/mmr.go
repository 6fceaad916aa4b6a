// Package mmr implements an append-only Merkle Mountain Range: append,
// root, prune, and rewind over a dense array of node hashes (§4.3 MMR).
//
// Node hashing is domain-separated by position, following the
// leaf/internal-node domain separation style of a Merkle tree
// (H(pos || left || right) for internal nodes), so a leaf hash can never
// be replayed as an internal node hash or vice versa.
package mmr

import (
	"encoding/binary"

	"wimble.dev/node/internal/corerr"
	"wimble.dev/node/internal/crypto"
)

// MaxHeight bounds the range's height, matching §4.3's "MMR of height up
// to 64".
const MaxHeight = 64

type node struct {
	hash          crypto.Hash
	height        int
	left, right   int // array indices of children; -1 for a leaf
	parent        int // array index of parent; -1 while still a peak
	pruned        bool
}

type snapshot struct {
	nodesLen int
	peaks    []int
}

// MMR is a Blake2b-hashed Merkle Mountain Range. The zero value is an
// empty range ready to use.
type MMR struct {
	nodes         []node
	leafPositions []int // logical leaf index -> array index into nodes
	peaks         []int // array indices of current peak nodes, left to right
	history       []snapshot
}

// New returns an empty MMR.
func New() *MMR {
	return &MMR{history: []snapshot{{nodesLen: 0, peaks: nil}}}
}

// Size returns the logical size n: the number of leaves appended so far
// (pruned leaves still count toward n).
func (m *MMR) Size() uint64 { return uint64(len(m.leafPositions)) }

// Append adds a new leaf and returns its logical leaf index (§4.3 "Leaf
// insertion at position p appends the new leaf, then while the two most
// recent peaks at the same height exist, combines them ... and
// recurses").
func (m *MMR) Append(leaf crypto.Hash) (uint64, error) {
	if len(m.peaks) >= MaxHeight {
		return 0, corerr.BadData(corerr.RuleLimitExceeded)
	}

	pos := len(m.nodes)
	m.nodes = append(m.nodes, node{hash: leaf, height: 0, left: -1, right: -1, parent: -1})
	cur := pos

	for len(m.peaks) > 0 && m.nodes[m.peaks[len(m.peaks)-1]].height == m.nodes[cur].height {
		leftPos := m.peaks[len(m.peaks)-1]
		rightPos := cur
		m.peaks = m.peaks[:len(m.peaks)-1]

		parentPos := len(m.nodes)
		h := hashInternal(uint64(parentPos), m.nodes[leftPos].hash, m.nodes[rightPos].hash)
		m.nodes = append(m.nodes, node{
			hash:   h,
			height: m.nodes[leftPos].height + 1,
			left:   leftPos,
			right:  rightPos,
			parent: -1,
		})
		m.nodes[leftPos].parent = parentPos
		m.nodes[rightPos].parent = parentPos
		cur = parentPos
	}
	m.peaks = append(m.peaks, cur)

	leafIdx := uint64(len(m.leafPositions))
	m.leafPositions = append(m.leafPositions, pos)

	m.history = append(m.history, snapshot{nodesLen: len(m.nodes), peaks: append([]int{}, m.peaks...)})
	return leafIdx, nil
}

// Root computes H(size || bag_rhs(peaks)), bagging peaks right-to-left
// (§4.3 root()).
func (m *MMR) Root() crypto.Hash {
	if len(m.peaks) == 0 {
		return crypto.Blake2b256(sizeBytes(0))
	}
	bagged := m.nodes[m.peaks[len(m.peaks)-1]].hash
	for i := len(m.peaks) - 2; i >= 0; i-- {
		bagged = hashPair(m.nodes[m.peaks[i]].hash, bagged)
	}
	return crypto.Blake2b256(sizeBytes(m.Size()), bagged[:])
}

// LeafHash returns the hash stored at logical leaf index idx, or false
// if idx is out of range. Used by an archive exporter to recover a
// pruned leaf's hash without its original data (§4.4/§4.9: a pruned MMR
// keeps every leaf's hash, just not the data it was hashed from).
func (m *MMR) LeafHash(idx uint64) (crypto.Hash, bool) {
	if idx >= uint64(len(m.leafPositions)) {
		return crypto.Hash{}, false
	}
	return m.nodes[m.leafPositions[idx]].hash, true
}

// Rewind truncates the range back to logical size n and reconstructs its
// peaks, using a recorded per-append snapshot rather than replaying
// inserts (§4.3 rewind()).
func (m *MMR) Rewind(n uint64) error {
	if n > m.Size() {
		return corerr.BadData(corerr.RuleLimitExceeded)
	}
	snap := m.history[n]
	m.nodes = m.nodes[:snap.nodesLen]
	m.leafPositions = m.leafPositions[:n]
	m.peaks = append([]int{}, snap.peaks...)
	m.history = m.history[:n+1]
	return nil
}

// Prune marks a leaf as prunable. The leaf's hash is not removed until
// Compact runs.
func (m *MMR) Prune(leafIdx uint64) error {
	if leafIdx >= uint64(len(m.leafPositions)) {
		return corerr.BadData(corerr.RuleInputNotFound)
	}
	m.nodes[m.leafPositions[leafIdx]].pruned = true
	return nil
}

// Compact blanks the hash of every pruned leaf whose sibling is also
// pruned. A pruned leaf that is itself a peak (no sibling yet) keeps its
// hash, since Root bags peak hashes directly. A leaf
// only ever merges with another node of the same height, and every
// leaf starts at height 0, so a leaf's sibling is always another leaf
// — meaning the one case where a node's stored hash is read directly
// as a live proof witness, rather than standing in for an ancestor
// hash computed once at Append time and never touched by Compact, is
// exactly this sibling pair. Blanking a pruned leaf whose sibling is
// still live would zero a witness MerkleProof still needs for that
// live leaf, so compaction of such a leaf is deferred until its
// sibling is pruned too (a later Compact call picks it up then).
// Root/MerkleProof of un-pruned leaves are unaffected either way
// (§4.3: "roots are stable under pruning").
func (m *MMR) Compact() {
	for i := range m.nodes {
		if !m.nodes[i].pruned {
			continue
		}
		parent := m.nodes[i].parent
		if parent == -1 {
			continue
		}
		sibling := m.nodes[parent].left
		if sibling == i {
			sibling = m.nodes[parent].right
		}
		if !m.nodes[sibling].pruned {
			continue
		}
		m.nodes[i].hash = crypto.Hash{}
	}
}

// Proof is a Merkle inclusion proof for one leaf: the sibling hashes
// encountered walking from the leaf up to its peak, plus the range's
// other peaks needed to re-bag the root.
type Proof struct {
	LeafIndex     uint64
	Siblings      []crypto.Hash
	SiblingIsLeft []bool   // true if the sibling at that step is the left child
	ParentPos     []uint64 // the position used in H(pos||left||right) at each step
	PeakIndex     int      // index into the full peaks list this leaf's climb resolves to
	OtherPeaks    []crypto.Hash
	Size          uint64
}

// MerkleProof recomputes a leaf's inclusion proof from the stored
// ancestor chain and current peak set (§4.3: "A leaf's Merkle proof is
// recomputable from peaks + sibling path").
func (m *MMR) MerkleProof(leafIdx uint64) (Proof, error) {
	if leafIdx >= uint64(len(m.leafPositions)) {
		return Proof{}, corerr.BadData(corerr.RuleInputNotFound)
	}
	pos := m.leafPositions[leafIdx]
	if m.nodes[pos].pruned {
		return Proof{}, corerr.BadData(corerr.RuleInputNotFound)
	}

	var siblings []crypto.Hash
	var isLeft []bool
	var parentPos []uint64
	cur := pos
	for m.nodes[cur].parent != -1 {
		parent := m.nodes[cur].parent
		if m.nodes[parent].left == cur {
			siblings = append(siblings, m.nodes[m.nodes[parent].right].hash)
			isLeft = append(isLeft, false)
		} else {
			siblings = append(siblings, m.nodes[m.nodes[parent].left].hash)
			isLeft = append(isLeft, true)
		}
		parentPos = append(parentPos, uint64(parent))
		cur = parent
	}

	peakIdx := -1
	var other []crypto.Hash
	for i, p := range m.peaks {
		if p == cur {
			peakIdx = i
			continue
		}
		other = append(other, m.nodes[p].hash)
	}
	if peakIdx == -1 {
		return Proof{}, corerr.New(corerr.State, corerr.RuleConsensusBroken, nil)
	}

	return Proof{
		LeafIndex:     leafIdx,
		Siblings:      siblings,
		SiblingIsLeft: isLeft,
		ParentPos:     parentPos,
		PeakIndex:     peakIdx,
		OtherPeaks:    other,
		Size:          m.Size(),
	}, nil
}

// VerifyProof recomputes the root from a leaf hash and its proof and
// compares it against root.
func VerifyProof(root crypto.Hash, leaf crypto.Hash, proof Proof) bool {
	cur := leaf
	for i, sib := range proof.Siblings {
		if proof.SiblingIsLeft[i] {
			cur = hashInternal(proof.ParentPos[i], sib, cur)
		} else {
			cur = hashInternal(proof.ParentPos[i], cur, sib)
		}
	}

	peaks := make([]crypto.Hash, len(proof.OtherPeaks)+1)
	j := 0
	for i := range peaks {
		if i == proof.PeakIndex {
			peaks[i] = cur
			continue
		}
		peaks[i] = proof.OtherPeaks[j]
		j++
	}

	if len(peaks) == 0 {
		return false
	}
	bagged := peaks[len(peaks)-1]
	for i := len(peaks) - 2; i >= 0; i-- {
		bagged = hashPair(peaks[i], bagged)
	}
	got := crypto.Blake2b256(sizeBytes(proof.Size), bagged[:])
	return got == root
}

func hashInternal(pos uint64, left, right crypto.Hash) crypto.Hash {
	return crypto.Blake2b256(sizeBytes(pos), left[:], right[:])
}

func hashPair(left, right crypto.Hash) crypto.Hash {
	return crypto.Blake2b256(left[:], right[:])
}

func sizeBytes(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}
