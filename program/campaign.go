package program

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// CampaignRecord is the single per-admin configuration record. It is created
// exactly once by Initialize and only the AllocationEnabled flag ever changes
// afterwards. Its address is the campaign's derived signing authority.
type CampaignRecord struct {
	Address             solana.PublicKey
	Admin               solana.PublicKey
	FeeLamports         uint64
	Mint                solana.PublicKey
	ReserveTokenAccount solana.PublicKey
	ReserveAmount       uint64
	AirdropAmount       uint64
	AllocationEnabled   bool
	Initialized         bool
	Bump                uint8
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TokenAccount is a ledger token holding: a balance of one mint controlled by
// an owner authority.
type TokenAccount struct {
	Address solana.PublicKey
	Mint    solana.PublicKey
	Owner   solana.PublicKey
	Balance uint64
}
