package p2p

import "time"

const (
	BanThreshold       = 100
	ThrottleThreshold  = 50
	ThrottleDelay      = 500 * time.Millisecond
	BanDurationDefault = 24 * time.Hour

	BanScoreDecaysPerMinute = 1
)

// Violation enumerates the specific protocol misbehaviors this node's
// transport and sync layers can observe, each worth a fixed number of
// ban-score points (§4.9 "persistent misbehavior ... bans"). Points are
// calibrated against BanThreshold/ThrottleThreshold rather than picked
// independently at each call site: two ViolationBadHandshakes in a row
// crosses ThrottleThreshold, while a single ViolationArchiveRejected or
// ViolationInvalidBlock crosses BanThreshold outright, matching §8 E6's
// "an archive with a single flipped bit is rejected outright, not
// throttled."
type Violation int

const (
	// ViolationOversizeFrame is a wire frame whose declared length
	// exceeds MaxPayloadBytes before any payload byte is read.
	ViolationOversizeFrame Violation = iota
	// ViolationBadHandshake is a malformed Hand/Shake payload or a
	// version/genesis mismatch during the handshake state machine.
	ViolationBadHandshake
	// ViolationInvalidTransaction is a relayed transaction the pool
	// rejected on its own merits (bad signature, bad range proof,
	// already-spent input).
	ViolationInvalidTransaction
	// ViolationInvalidHeader is a relayed header AcceptHeader rejected.
	ViolationInvalidHeader
	// ViolationInvalidBlock is a relayed block that failed body or
	// against-state validation.
	ViolationInvalidBlock
	// ViolationArchiveRejected is a TXHASHSET_SYNC archive whose
	// recomputed roots didn't match the header it claimed to back.
	ViolationArchiveRejected
)

var violationPoints = map[Violation]int{
	ViolationOversizeFrame:      ThrottleThreshold / 2,
	ViolationBadHandshake:       ThrottleThreshold / 2,
	ViolationInvalidTransaction: ThrottleThreshold / 5,
	ViolationInvalidHeader:      ThrottleThreshold,
	ViolationInvalidBlock:       BanThreshold,
	ViolationArchiveRejected:    BanThreshold,
}

// Points reports v's ban-score weight, or 0 for an unrecognized value.
func (v Violation) Points() int { return violationPoints[v] }

// BanScore is a small deterministic policy primitive, not a consensus
// rule: a peer accumulates score for protocol violations and it decays
// linearly over time so a transient burst of bad luck doesn't become a
// permanent ban.
type BanScore struct {
	score       int
	lastUpdated time.Time
}

func (b *BanScore) Score(now time.Time) int {
	b.decayTo(now)
	return b.score
}

// Add applies a raw ban-score delta, for callers that have already
// weighed their own violation. Penalize is the preferred entry point
// for anything in the Violation table above.
func (b *BanScore) Add(now time.Time, delta int) int {
	b.decayTo(now)
	b.score += delta
	if b.score < 0 {
		b.score = 0
	}
	return b.score
}

// Penalize applies v's fixed point weight and returns the resulting
// score.
func (b *BanScore) Penalize(now time.Time, v Violation) int {
	return b.Add(now, v.Points())
}

func (b *BanScore) ShouldBan(now time.Time) bool {
	return b.Score(now) >= BanThreshold
}

func (b *BanScore) ShouldThrottle(now time.Time) bool {
	return b.Score(now) >= ThrottleThreshold
}

func (b *BanScore) decayTo(now time.Time) {
	if b.lastUpdated.IsZero() {
		b.lastUpdated = now
		return
	}
	if now.Before(b.lastUpdated) {
		// Clock went backwards; don't let it manufacture free decay.
		b.lastUpdated = now
		return
	}
	minutes := int(now.Sub(b.lastUpdated) / time.Minute)
	if minutes <= 0 {
		return
	}
	dec := minutes * BanScoreDecaysPerMinute
	b.score -= dec
	if b.score < 0 {
		b.score = 0
	}
	b.lastUpdated = now
}
