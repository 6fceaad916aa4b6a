package chain

import (
	"container/list"

	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/crypto"
)

// orphanPool is a bounded LRU keyed by prev_hash (§4.7: "Orphans are
// held in a bounded LRU keyed by prev_hash and admitted when their
// parent becomes known"). No third-party LRU package appears anywhere
// in the example pack as an actual import (one repo only prints its
// name in a license credits list without vendoring it), so this is
// built directly on stdlib container/list, the same structure any of
// those libraries wrap internally.
type orphanPool struct {
	capacity int
	byHash   map[crypto.Hash]*list.Element
	byParent map[crypto.Hash][]crypto.Hash
	order    *list.List // front = most recently added
}

type orphanEntry struct {
	block chaintypes.FullBlock
	hash  crypto.Hash
}

func newOrphanPool(capacity int) *orphanPool {
	return &orphanPool{
		capacity: capacity,
		byHash:   make(map[crypto.Hash]*list.Element),
		byParent: make(map[crypto.Hash][]crypto.Hash),
		order:    list.New(),
	}
}

func (p *orphanPool) Add(block chaintypes.FullBlock) {
	h := block.Hash()
	if _, exists := p.byHash[h]; exists {
		return
	}
	el := p.order.PushFront(orphanEntry{block: block, hash: h})
	p.byHash[h] = el
	p.byParent[block.Header.PrevHash] = append(p.byParent[block.Header.PrevHash], h)

	if p.order.Len() > p.capacity {
		oldest := p.order.Back()
		p.remove(oldest.Value.(orphanEntry))
	}
}

func (p *orphanPool) remove(e orphanEntry) {
	if el, ok := p.byHash[e.hash]; ok {
		p.order.Remove(el)
		delete(p.byHash, e.hash)
	}
	siblings := p.byParent[e.block.Header.PrevHash]
	for i, h := range siblings {
		if h == e.hash {
			p.byParent[e.block.Header.PrevHash] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
}

// TakeChildren removes and returns every orphan whose prev_hash is
// parentHash, newly admissible once parentHash is accepted.
func (p *orphanPool) TakeChildren(parentHash crypto.Hash) []chaintypes.FullBlock {
	hashes := p.byParent[parentHash]
	delete(p.byParent, parentHash)
	out := make([]chaintypes.FullBlock, 0, len(hashes))
	for _, h := range hashes {
		el, ok := p.byHash[h]
		if !ok {
			continue
		}
		out = append(out, el.Value.(orphanEntry).block)
		p.order.Remove(el)
		delete(p.byHash, h)
	}
	return out
}

func (p *orphanPool) Len() int { return p.order.Len() }
