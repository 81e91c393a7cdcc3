package program

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// UserAllocationRecord tracks one participant's entitlement within a
// campaign. Created on first claim (or implicitly when the user is nominated
// as an upline), mutated by claim, unlock, increase_allocation and downline
// claims, never deleted.
type UserAllocationRecord struct {
	Address         solana.PublicKey
	User            solana.PublicKey
	Campaign        solana.PublicKey
	Claimed         bool
	ClaimTimestamp  time.Time
	TotalAllocation uint64
	TotalClaimed    uint64
	ReferralCount   uint64
	Bump            uint8
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Remaining returns the unvested balance of the allocation.
func (r *UserAllocationRecord) Remaining() uint64 {
	if r.TotalClaimed >= r.TotalAllocation {
		return 0
	}
	return r.TotalAllocation - r.TotalClaimed
}

// FullyClaimed reports whether the allocation has reached its terminal state.
// Truncating division means a record can be terminal with a small residue
// still in TotalAllocation that no unlock quantum will ever cover.
func (r *UserAllocationRecord) FullyClaimed() bool {
	return r.TotalClaimed+UnlockQuantum(r.TotalAllocation) > r.TotalAllocation
}
