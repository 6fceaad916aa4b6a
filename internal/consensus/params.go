// Package consensus implements the Validators component (§4.6): three
// tiers (Header, Body self-consistency, Block-against-state) as free
// functions over data, per §9's "Deep inheritance (Validator hierarchy)"
// redesign flag — collapsed into functions plus a validation-mode
// distinction expressed by which function the caller invokes, rather
// than a class hierarchy.
package consensus

// Consensus parameters. Grounded on the teacher's consensus package
// (subsidy.go/pow.go name theirs the same way: exported package-level
// constants, not a config struct, since these values are consensus-
// critical and never meant to vary at runtime).
const (
	// CoinbaseMaturity is COINBASE_MATURITY (§3 I8, §8 E2).
	CoinbaseMaturity = 1_000

	// FutureTimeLimitSeconds bounds how far a header's timestamp may sit
	// ahead of the validator's local clock (§4.6).
	FutureTimeLimitSeconds = 2 * 60 * 60

	// DifficultyWindow is the "last N headers" window the damped-retarget
	// rule averages over (§4.6), grounded on the teacher's
	// MedianPastTimestamp's own N=11 window, generalized to a
	// retarget-specific window.
	DifficultyWindow = 144

	// BlockReward is REWARD (§8 E2), a fixed subsidy per block; this
	// engine carries no halving schedule since spec.md's scope excludes
	// mining/subsidy schedule design (§1 Non-goals: "Mining/proof-of-work
	// search").
	BlockReward = 50_000_000_000

	// MaxBlockWeight bounds TxPool's block-template assembly (§4.8).
	MaxBlockWeight = 4_000_000

	// MinRelayFeeRate is the per-weight-unit floor MIN_RELAY_FEE scales
	// from (§4.8).
	MinRelayFeeRate = 1

	// GenesisDifficulty is GENESIS_DIFFICULTY (§8 E1).
	GenesisDifficulty = 1
)
