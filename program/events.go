package program

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// EventType identifies a program event.
type EventType string

const (
	EventAllocationAdded    EventType = "AllocationAdded"
	EventAllocationUnlocked EventType = "AllocationUnlocked"
	EventAllocationEnded    EventType = "AllocationEnded"
)

// Event is one entry in the append-only program event log. Events are
// committed in the same ledger transaction as the operation that produced
// them, so observers see at most one emission per committed operation.
//
// For AllocationAdded, User is the claimant and Amount the granted
// allocation. For AllocationUnlocked, User is the unlocker, Amount the
// unlocked quantum and TotalClaimed the cumulative figure reported to
// observers. For AllocationEnded, User is the admin.
type Event struct {
	ID           uuid.UUID        `json:"id"`
	Type         EventType        `json:"type"`
	Campaign     solana.PublicKey `json:"campaign"`
	User         solana.PublicKey `json:"user"`
	Amount       uint64           `json:"amount,omitempty"`
	TotalClaimed uint64           `json:"total_claimed,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

func newEvent(typ EventType, campaign, user solana.PublicKey, ts time.Time) Event {
	return Event{
		ID:        uuid.New(),
		Type:      typ,
		Campaign:  campaign,
		User:      user,
		Timestamp: ts,
	}
}
