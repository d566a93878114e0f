package contract

import "fmt"

// MinTimelockGap is the recommended minimum safety margin (in blocks)
// between adjacent hops' timelocks, per spec §8: "gap > safety margin
// (>= 20 blocks recommended)".
const MinTimelockGap = 20

// HopTimelock computes T_i, the relative CSV timelock for hop i (1-indexed
// from the Taker's side) of an N-hop route, per spec §4.1:
//
//	T_i = T_base + (N - i) * gap
//
// The Taker-adjacent hop (i=1) gets the largest timelock because it is
// the last to learn the preimage during the reverse-order key handover;
// the last hop (i=N) gets exactly baseTimelock.
func HopTimelock(baseTimelock int64, hopCount, hopIndex int, gap int64) (int64, error) {
	if hopCount < 2 {
		return 0, fmt.Errorf("contract: hop_count must be >= 2, got %d",
			hopCount)
	}
	if hopIndex < 1 || hopIndex > hopCount {
		return 0, fmt.Errorf("contract: hop index %d out of range [1,%d]",
			hopIndex, hopCount)
	}
	if gap < MinTimelockGap {
		return 0, fmt.Errorf("contract: timelock gap %d below minimum "+
			"safety margin %d", gap, MinTimelockGap)
	}
	if baseTimelock <= 0 {
		return 0, fmt.Errorf("contract: base timelock must be positive")
	}

	return baseTimelock + int64(hopCount-hopIndex)*gap, nil
}

// VerifyTimelockDiscipline checks that a full route's timelocks are
// strictly decreasing from the Taker-adjacent hop to the last hop by at
// least the gap, and that the last hop's timelock is not below
// minLocktime advertised by its Maker (spec §4.1 Phase A validation:
// "T_i is at least the offered min_locktime"). A hop with an
// out-of-discipline timelock must never be accepted into a route: per
// spec §4.3 rule 4, participating in an invalid timelock chain is
// already a loss, not a recoverable state.
func VerifyTimelockDiscipline(timelocks []int64, gap int64, minLocktime int64) error {
	if len(timelocks) < 2 {
		return fmt.Errorf("contract: route must have at least 2 hops")
	}

	for i := 1; i < len(timelocks); i++ {
		prev, cur := timelocks[i-1], timelocks[i]
		if prev-cur < gap {
			return fmt.Errorf("contract: hop %d timelock %d does not "+
				"exceed hop %d timelock %d by the required gap %d",
				i, cur, i-1, prev, gap)
		}
	}

	last := timelocks[len(timelocks)-1]
	if last < minLocktime {
		return fmt.Errorf("contract: last hop timelock %d below "+
			"advertised minimum %d", last, minLocktime)
	}

	return nil
}
