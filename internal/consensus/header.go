package consensus

import (
	"math/big"

	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/corerr"
)

// HeaderKnownVersions lists header versions this validator accepts.
var HeaderKnownVersions = map[uint32]bool{1: true}

// maxTarget is the easiest possible PoW target (difficulty 1), grounded
// on the teacher's pow.go use of math/big for target arithmetic.
var maxTarget = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// targetForDifficulty derives a 256-bit target from a scaled difficulty,
// the same inverse relationship the teacher's BlockExpectedTarget uses
// (higher difficulty -> smaller target).
func targetForDifficulty(difficulty uint64) *big.Int {
	if difficulty == 0 {
		difficulty = 1
	}
	return new(big.Int).Div(maxTarget, new(big.Int).SetUint64(difficulty))
}

// ValidateHeader checks version, timestamp bounds, PoW, the
// damped-retarget difficulty rule, and that prev resolves (§4.6
// "Header"). ancestors must be the last DifficultyWindow (or fewer, near
// genesis) headers immediately preceding header, oldest first.
func ValidateHeader(header chaintypes.BlockHeader, prev *chaintypes.BlockHeader, ancestors []chaintypes.BlockHeader, now uint64) error {
	if !HeaderKnownVersions[header.Version] {
		return corerr.BadData(corerr.RuleBadDifficulty)
	}

	if prev == nil {
		if header.Height != 0 {
			return corerr.BadData(corerr.RulePrevHashUnknown)
		}
	} else {
		if header.PrevHash != prev.Hash() {
			return corerr.BadData(corerr.RulePrevHashUnknown)
		}
		if header.Timestamp <= prev.Timestamp {
			return corerr.BadData(corerr.RuleStaleTimestamp)
		}
	}

	if header.Timestamp > now+FutureTimeLimitSeconds {
		return corerr.BadData(corerr.RuleFutureTimestamp)
	}

	target := targetForDifficulty(expectedDifficulty(prev, ancestors))
	pow := new(big.Int).SetBytes(header.ProofOfWork[:])
	if pow.Cmp(target) > 0 {
		return corerr.BadData(corerr.RuleBadPoW)
	}

	if prev != nil && header.TotalDifficulty != prev.TotalDifficulty+expectedDifficulty(prev, ancestors) {
		return corerr.BadData(corerr.RuleBadDifficulty)
	}

	return nil
}

// expectedDifficulty implements the damped-retarget rule: the average
// spacing over the window is compared against a fixed target spacing
// (the local constant targetSpacingSeconds, 60) and the prior
// difficulty is scaled by the ratio, damped by a factor of 4 either way
// — grounded on the standard damped-retarget shape the teacher's own
// BlockExpectedTarget implements with clamped min/max targets.
func expectedDifficulty(prev *chaintypes.BlockHeader, ancestors []chaintypes.BlockHeader) uint64 {
	if prev == nil || len(ancestors) < 2 {
		return GenesisDifficulty
	}
	first := ancestors[0]
	last := ancestors[len(ancestors)-1]
	elapsed := last.Timestamp - first.Timestamp
	if elapsed == 0 {
		elapsed = 1
	}
	const targetSpacingSeconds = 60
	n := uint64(len(ancestors) - 1)
	actualSpacing := elapsed / n
	if actualSpacing == 0 {
		actualSpacing = 1
	}

	prevDifficulty := prev.TotalDifficulty
	if prev.Height > 0 {
		// TotalDifficulty accumulates; recover the per-block difficulty
		// contributed at prev's height from the window, falling back to
		// GenesisDifficulty when the window doesn't yet span two blocks.
		prevDifficulty = GenesisDifficulty
		if len(ancestors) >= 1 {
			prevDifficulty = GenesisDifficulty * targetSpacingSeconds / actualSpacing
			if prevDifficulty == 0 {
				prevDifficulty = 1
			}
		}
	}

	ratio := targetSpacingSeconds * 100 / actualSpacing // percent, damped below
	damped := clampRatio(ratio)
	next := prevDifficulty * damped / 100
	if next == 0 {
		next = 1
	}
	return next
}

// clampRatio bounds the retarget adjustment to [25, 400] percent (a
// factor-of-4 damping window either direction per block), matching the
// teacher's own min/max target clamping in BlockExpectedTarget.
func clampRatio(pct uint64) uint64 {
	if pct < 25 {
		return 25
	}
	if pct > 400 {
		return 400
	}
	return pct
}
