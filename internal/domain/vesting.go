/**
 * @description
 * Linear vesting math. RemainingLocked is the single source of truth for how
 * much of an initially locked value has not yet unlocked at a given time. Both
 * the creator claim path and the supporter burn path compute against it, which
 * is what keeps the two withdrawal streams consistent with each other.
 *
 * All timestamps are Unix milliseconds supplied by the caller at call time;
 * nothing here reads the wall clock.
 */

package domain

import "math/big"

// RemainingLocked returns how much of initial is still locked at now, given a
// vesting window [start, end). Before the window the full amount is locked;
// from end onwards nothing is. In between the locked portion decreases
// linearly, using truncating integer division.
func RemainingLocked(initial, start, end, now int64) int64 {
	if initial <= 0 {
		return 0
	}
	if now <= start {
		return initial
	}
	if now >= end {
		return 0
	}
	return mulDiv(initial, end-now, end-start)
}

// mulDiv computes a*b/den with truncation, widening through big.Int so the
// intermediate product cannot overflow int64. Millisecond windows multiplied
// by minor-unit balances routinely exceed 63 bits.
func mulDiv(a, b, den int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	n := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	n.Quo(n, big.NewInt(den))
	return n.Int64()
}

// mulDivCeil is mulDiv rounding up instead of truncating.
func mulDivCeil(a, b, den int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	n := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	d := big.NewInt(den)
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Int64()
}
