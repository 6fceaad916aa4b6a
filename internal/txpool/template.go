package txpool

import (
	"sort"

	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/consensus"
	"wimble.dev/node/internal/crypto"
)

// BlockTemplate is the aggregated body TxPool hands to a miner, plus the
// kernel offset that must be summed into the header's
// total_kernel_offset and the per-transaction fee total for the
// reward+fee over-commitment (§3 I1).
type BlockTemplate struct {
	Body         chaintypes.TransactionBody
	KernelOffset crypto.BlindingFactor
	TotalFee     uint64
	Included     []crypto.Hash // pool transaction ids included, for OnBlockAccepted bookkeeping
}

// BuildTemplate assembles a block template from the public mempool
// (§4.8 "Block assembly"): topologically sort pool transactions so a
// chain-of-pool output is aggregated only after its producer, aggregate
// into a single body via kernel-offset summing and cut-through, trim to
// fit maxWeight, then re-verify the aggregate body before returning it.
func (p *Pool) BuildTemplate(maxWeight uint64) (BlockTemplate, error) {
	p.mu.Lock()
	ordered := p.topoSortMain()
	p.mu.Unlock()

	var body chaintypes.TransactionBody
	var offset crypto.BlindingFactor
	var totalFee uint64
	var weight uint64
	included := make([]crypto.Hash, 0, len(ordered))

	for _, e := range ordered {
		addedWeight := e.weight
		if weight+addedWeight > maxWeight {
			continue
		}

		body.Inputs = append(body.Inputs, e.tx.Body.Inputs...)
		body.Outputs = append(body.Outputs, e.tx.Body.Outputs...)
		body.Kernels = append(body.Kernels, e.tx.Body.Kernels...)
		offset = crypto.AddBlindingFactors([]crypto.BlindingFactor{offset, e.tx.Offset}, nil)
		totalFee += e.fee
		weight += addedWeight
		included = append(included, e.id)
	}

	body.Canonicalize()
	if body.CutThroughViolation() {
		body = cutThrough(body)
	}

	nextHeight := p.view.Head().Height + 1
	if err := consensus.ValidateBodySelfConsistent(body, nextHeight); err != nil {
		return BlockTemplate{}, err
	}

	return BlockTemplate{Body: body, KernelOffset: offset, TotalFee: totalFee, Included: included}, nil
}

// cutThrough removes any input/output pair sharing a commitment,
// produced when aggregating independently-built pool transactions
// whose combined inputs and outputs happen to cancel (§4.8: "cut-through
// where permitted by policy"). The kernels are untouched and the balance
// is unchanged, since each dropped input cancels the output it matched.
// This must run before the final self-consistency check, which rejects
// a body whose inputs and outputs share a commitment.
func cutThrough(body chaintypes.TransactionBody) chaintypes.TransactionBody {
	outputByCommit := make(map[crypto.Commitment]int, len(body.Outputs))
	for i, o := range body.Outputs {
		outputByCommit[o.Commitment] = i
	}

	dropOutputs := make(map[int]bool)
	var keptInputs []chaintypes.TransactionInput
	for _, in := range body.Inputs {
		if i, ok := outputByCommit[in.Commitment]; ok {
			dropOutputs[i] = true
			continue
		}
		keptInputs = append(keptInputs, in)
	}

	var keptOutputs []chaintypes.TransactionOutput
	for i, o := range body.Outputs {
		if !dropOutputs[i] {
			keptOutputs = append(keptOutputs, o)
		}
	}

	out := chaintypes.TransactionBody{Inputs: keptInputs, Outputs: keptOutputs, Kernels: body.Kernels}
	out.Canonicalize()
	return out
}

// topoSortMain orders the public mempool so any transaction consuming
// a chain-of-pool output is sorted after the transaction that produced
// it, required for aggregation to be a valid single body (an input
// cannot precede its producing output's commitment entering the
// aggregate via cut-through). Ties break by descending fee rate so
// higher-value transactions are preferred when the template fills up.
func (p *Pool) topoSortMain() []*entry {
	ids := make([]crypto.Hash, 0, len(p.main))
	for id := range p.main {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return p.main[ids[i]].feeRate() > p.main[ids[j]].feeRate()
	})

	producedBy := make(map[crypto.Commitment]crypto.Hash)
	for _, id := range ids {
		for c := range p.main[id].outputs {
			producedBy[c] = id
		}
	}

	visited := make(map[crypto.Hash]bool, len(ids))
	ordered := make([]*entry, 0, len(ids))
	var visit func(id crypto.Hash)
	visit = func(id crypto.Hash) {
		if visited[id] {
			return
		}
		visited[id] = true
		e := p.main[id]
		for _, in := range e.tx.Body.Inputs {
			if producer, ok := producedBy[in.Commitment]; ok {
				visit(producer)
			}
		}
		ordered = append(ordered, e)
	}
	for _, id := range ids {
		visit(id)
	}
	return ordered
}
