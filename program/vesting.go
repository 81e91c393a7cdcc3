package program

import "time"

// UnlockPeriod is the wall-clock interval between unlocks: 30 days, counted
// as 2,592,000 seconds.
const UnlockPeriod = 2_592_000 * time.Second

// UnlockQuantum returns the amount released per unlock cycle: 1% of the
// current total allocation, truncated toward zero. Because the allocation can
// grow through referral credits, the quantum is recomputed on every unlock.
func UnlockQuantum(totalAllocation uint64) uint64 {
	return totalAllocation / 100
}

// ReferralBonus returns the upline credit for a downline claim: 10% of the
// claimant's allocation, truncated toward zero.
func ReferralBonus(allocation uint64) uint64 {
	return allocation / 10
}

// NextUnlockAt returns the earliest time an unlock is permitted after the
// given claim or unlock timestamp.
func NextUnlockAt(claimedAt time.Time) time.Time {
	return claimedAt.Add(UnlockPeriod)
}

// UnlockEligible reports whether the unlock period has elapsed at now.
func UnlockEligible(now, claimedAt time.Time) bool {
	return !now.Before(NextUnlockAt(claimedAt))
}
