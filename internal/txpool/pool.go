// Package txpool implements the TxPool component (§4.8): a stempool
// (Dandelion privacy, per-epoch) plus a public mempool, acceptance
// checks, conflict resolution by fee-per-weight, and block-template
// assembly. Grounded on the teacher's node/miner.go for the
// block-assembly shape (policy pass over a candidate set, bounded by a
// max-per-block limit) and on internal/consensus for the validity
// checks a pool transaction must pass.
package txpool

import (
	"sync"

	"go.uber.org/zap"

	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/consensus"
	"wimble.dev/node/internal/corerr"
	"wimble.dev/node/internal/crypto"
)

// ChainView is the read surface TxPool needs from the Chain component.
// Kept narrow and interface-typed rather than a direct *chain.Chain
// dependency, following §9's "Cyclic ownership (Chain ↔ TxPool ↔ P2P)"
// redesign flag: Chain never imports txpool, and wiring happens at the
// node-assembly layer by handing TxPool a Chain-backed ChainView plus
// an explicit OnBlockAccepted call after each applied block, standing
// in for the event-bus publish/subscribe the flag describes.
type ChainView interface {
	consensus.UTXOSource
	consensus.OriginSource
	Head() chaintypes.BlockHeader
}

// entry is one pool-resident transaction.
type entry struct {
	tx       chaintypes.Transaction
	id       crypto.Hash
	weight   uint64
	fee      uint64
	outputs  map[crypto.Commitment]struct{} // this tx's own outputs, for chain-of-pool resolution
	received uint64                         // epoch the tx entered the stempool, for Dandelion rotation
}

func (e *entry) feeRate() float64 { return float64(e.fee) / float64(e.weight) }

// Pool is the two-tier TxPool: a stempool for Dandelion-relayed
// transactions awaiting fluff, and a public mempool. Both tiers share
// the same acceptance and conflict-resolution rules; only their
// visibility to block-template assembly differs (stempool transactions
// are not templated until promoted to the mempool).
type Pool struct {
	mu   sync.Mutex
	log  *zap.Logger
	view ChainView

	stem map[crypto.Hash]*entry
	main map[crypto.Hash]*entry

	// spentBy maps a commitment currently consumed by a pool transaction
	// (either tier) to the id of that transaction, for double-spend and
	// conflict-resolution checks across both tiers at once.
	spentBy map[crypto.Commitment]crypto.Hash

	epoch uint64 // current Dandelion epoch, advanced by AdvanceEpoch
}

func New(log *zap.Logger, view ChainView) *Pool {
	return &Pool{
		log:     log,
		view:    view,
		stem:    make(map[crypto.Hash]*entry),
		main:    make(map[crypto.Hash]*entry),
		spentBy: make(map[crypto.Commitment]crypto.Hash),
	}
}

// MinRelayFee is MIN_RELAY_FEE(size, outputs) (§4.8), scaled from the
// body's block-weight units the same way MaxBlockWeight bounds a block
// by weight rather than raw byte size.
func MinRelayFee(weight uint64) uint64 {
	return weight * consensus.MinRelayFeeRate
}

// AcceptStem submits tx to the stempool (Dandelion "stem" phase: relayed
// peer-to-peer, not yet broadcast to the full network).
func (p *Pool) AcceptStem(tx chaintypes.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accept(tx, p.stem)
}

// AcceptMain submits tx directly to the public mempool (Dandelion
// "fluff" phase, or a transaction received via normal broadcast).
func (p *Pool) AcceptMain(tx chaintypes.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accept(tx, p.main)
}

// PromoteStem moves a stempool transaction to the public mempool, as
// happens when its Dandelion epoch expires without being relayed
// further (§4.8: "per-epoch" stempool).
func (p *Pool) PromoteStem(id crypto.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.stem[id]
	if !ok {
		return corerr.BadData(corerr.RuleInputNotFound)
	}
	delete(p.stem, id)
	p.main[id] = e
	return nil
}

func (p *Pool) accept(tx chaintypes.Transaction, tier map[crypto.Hash]*entry) error {
	id := tx.ID()
	if _, ok := p.stem[id]; ok {
		return corerr.BadData(corerr.RuleAlreadyKnown)
	}
	if _, ok := p.main[id]; ok {
		return corerr.BadData(corerr.RuleAlreadyKnown)
	}

	nextHeight := p.view.Head().Height + 1
	if err := consensus.ValidateBodySelfConsistent(tx.Body, nextHeight); err != nil {
		return err
	}

	weight := tx.Body.Weight()
	fee := tx.Body.Fee()
	if fee < MinRelayFee(weight) {
		return corerr.BadData(corerr.RuleFeeTooLow)
	}

	outputs := make(map[crypto.Commitment]struct{}, len(tx.Body.Outputs))
	for _, o := range tx.Body.Outputs {
		outputs[o.Commitment] = struct{}{}
	}

	candidate := &entry{tx: tx, id: id, weight: weight, fee: fee, outputs: outputs, received: p.epoch}

	var evictions []crypto.Hash
	for _, in := range tx.Body.Inputs {
		if _, unspentOutsidePool := p.view.OutputPos(in.Commitment); !unspentOutsidePool {
			if !p.chainOfPoolProduces(in.Commitment, id) {
				return corerr.BadData(corerr.RuleInputNotFound)
			}
		}
		if conflictID, ok := p.spentBy[in.Commitment]; ok && conflictID != id {
			conflict := p.entryByID(conflictID)
			if conflict == nil {
				continue
			}
			if candidate.feeRate() <= conflict.feeRate() {
				return corerr.BadData(corerr.RuleDoubleSpendInPool)
			}
			evictions = append(evictions, conflictID)
		}
	}

	for _, loserID := range evictions {
		p.evict(loserID)
	}
	for _, in := range tx.Body.Inputs {
		p.spentBy[in.Commitment] = id
	}
	tier[id] = candidate
	return nil
}

// chainOfPoolProduces reports whether some other pool transaction
// (excluding self) produced commitment c as one of its own outputs,
// the "output produced by an earlier pool transaction" acceptance path
// (§4.8).
func (p *Pool) chainOfPoolProduces(c crypto.Commitment, self crypto.Hash) bool {
	for id, e := range p.stem {
		if id == self {
			continue
		}
		if _, ok := e.outputs[c]; ok {
			return true
		}
	}
	for id, e := range p.main {
		if id == self {
			continue
		}
		if _, ok := e.outputs[c]; ok {
			return true
		}
	}
	return false
}

func (p *Pool) entryByID(id crypto.Hash) *entry {
	if e, ok := p.stem[id]; ok {
		return e
	}
	if e, ok := p.main[id]; ok {
		return e
	}
	return nil
}

func (p *Pool) evict(id crypto.Hash) {
	e := p.entryByID(id)
	if e == nil {
		return
	}
	for _, in := range e.tx.Body.Inputs {
		if p.spentBy[in.Commitment] == id {
			delete(p.spentBy, in.Commitment)
		}
	}
	delete(p.stem, id)
	delete(p.main, id)
}

// AdvanceEpoch rotates the Dandelion epoch, promoting every stempool
// transaction older than one epoch to the public mempool.
func (p *Pool) AdvanceEpoch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.epoch++
	for id, e := range p.stem {
		if e.received < p.epoch {
			delete(p.stem, id)
			p.main[id] = e
		}
	}
}

// Len reports the combined size of both tiers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stem) + len(p.main)
}

// OnBlockAccepted rebalances the pool after Chain applies a new best
// block (§8 test plan item 7: "after block apply, no pool tx spends an
// output not in the post-block UTXO set ∪ pool-produced outputs"):
// transactions whose kernels are now on-chain are removed outright;
// survivors are re-checked against the post-block UTXO view and evicted
// if any of their inputs is no longer resolvable.
func (p *Pool) OnBlockAccepted(minedKernels []crypto.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mined := make(map[crypto.Hash]struct{}, len(minedKernels))
	for _, k := range minedKernels {
		mined[k] = struct{}{}
	}

	for _, tier := range []map[crypto.Hash]*entry{p.stem, p.main} {
		for id, e := range tier {
			for _, k := range e.tx.Body.Kernels {
				if _, ok := mined[k.Hash()]; ok {
					p.evict(id)
					break
				}
			}
		}
	}

	for _, tier := range []map[crypto.Hash]*entry{p.stem, p.main} {
		for id, e := range tier {
			for _, in := range e.tx.Body.Inputs {
				if _, ok := p.view.OutputPos(in.Commitment); ok {
					continue
				}
				if p.chainOfPoolProduces(in.Commitment, id) {
					continue
				}
				p.evict(id)
				break
			}
		}
	}
}
