package program

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Tx is one atomic ledger transaction. Every mutation an operation performs
// goes through a single Tx; the ledger either commits all of it or none of
// it. Records touched inside a Tx are held under the ledger's exclusive
// write lock until commit, which serializes concurrent operations on the
// same campaign or allocation.
type Tx interface {
	// Campaign returns the campaign record at addr, or ErrCampaignNotFound.
	Campaign(ctx context.Context, addr solana.PublicKey) (*CampaignRecord, error)
	PutCampaign(ctx context.Context, rec *CampaignRecord) error

	// Allocation returns the allocation record at addr, or ErrAllocationNotFound.
	Allocation(ctx context.Context, addr solana.PublicKey) (*UserAllocationRecord, error)
	PutAllocation(ctx context.Context, rec *UserAllocationRecord) error

	// TokenAccount returns the token account at addr, or ErrAccountNotFound.
	TokenAccount(ctx context.Context, addr solana.PublicKey) (*TokenAccount, error)

	// TransferTokens moves amount between token accounts. It fails with
	// ErrInvalidTokenAccountOwner unless authority owns the source account,
	// ErrMintMismatch if the accounts hold different mints, and
	// ErrInsufficientFunds if the source balance is short.
	TransferTokens(ctx context.Context, from, to, authority solana.PublicKey, amount uint64) error

	// TransferLamports moves native value between accounts, failing with
	// ErrInsufficientFunds if the source balance is short.
	TransferLamports(ctx context.Context, from, to solana.PublicKey, amount uint64) error

	// AppendEvent adds an event to the append-only log. The event becomes
	// visible only if the transaction commits.
	AppendEvent(ctx context.Context, ev Event) error
}

// Ledger is the host ledger the program runs against. WithinTx provides the
// all-or-nothing commit; the read methods serve the program's public state
// outside of any operation.
type Ledger interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	Campaign(ctx context.Context, addr solana.PublicKey) (*CampaignRecord, error)
	Allocation(ctx context.Context, addr solana.PublicKey) (*UserAllocationRecord, error)
	TokenAccount(ctx context.Context, addr solana.PublicKey) (*TokenAccount, error)
	Events(ctx context.Context, limit, offset int) ([]Event, error)
}
