package program

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
)

type Config struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Ledger    Ledger
	ProgramID solana.PublicKey
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = DefaultProgramID
	}
	return nil
}

// Program is the airdrop/vesting state machine. Each exported operation maps
// to one callable instruction and runs as a single atomic ledger transaction.
type Program struct {
	log   *slog.Logger
	cfg   Config
	clock clockwork.Clock
}

func New(cfg Config) (*Program, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Program{
		log:   cfg.Logger,
		cfg:   cfg,
		clock: cfg.Clock,
	}, nil
}

// ProgramID returns the program identity derivations are scoped to.
func (p *Program) ProgramID() solana.PublicKey {
	return p.cfg.ProgramID
}

type InitializeParams struct {
	Admin               solana.PublicKey
	FeeLamports         uint64
	Mint                solana.PublicKey
	ReserveTokenAccount solana.PublicKey
	ReserveAmount       uint64
	AirdropAmount       uint64
}

// Initialize creates the campaign record for Admin. It validates the reserve
// token account's mint, owning authority and balance, then writes the full
// configuration exactly once. No funds move at initialization time.
func (p *Program) Initialize(ctx context.Context, params InitializeParams) (*CampaignRecord, error) {
	addr, bump, err := DeriveCampaignAddress(p.cfg.ProgramID, params.Admin)
	if err != nil {
		return nil, err
	}

	var rec *CampaignRecord
	err = p.cfg.Ledger.WithinTx(ctx, func(tx Tx) error {
		existing, err := tx.Campaign(ctx, addr)
		if err != nil && !errors.Is(err, ErrCampaignNotFound) {
			return err
		}
		if existing != nil && existing.Initialized {
			return ErrAlreadyInitialized
		}

		reserve, err := tx.TokenAccount(ctx, params.ReserveTokenAccount)
		if err != nil {
			return err
		}
		if !reserve.Mint.Equals(params.Mint) {
			return ErrMintMismatch
		}
		if !reserve.Owner.Equals(addr) {
			return ErrInvalidTokenAccountOwner
		}
		if reserve.Balance < params.ReserveAmount {
			return ErrInsufficientFunds
		}

		now := p.clock.Now().UTC()
		rec = &CampaignRecord{
			Address:             addr,
			Admin:               params.Admin,
			FeeLamports:         params.FeeLamports,
			Mint:                params.Mint,
			ReserveTokenAccount: params.ReserveTokenAccount,
			ReserveAmount:       params.ReserveAmount,
			AirdropAmount:       params.AirdropAmount,
			AllocationEnabled:   true,
			Initialized:         true,
			Bump:                bump,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		return tx.PutCampaign(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("program: campaign initialized",
		"campaign", addr.String(),
		"admin", params.Admin.String(),
		"reserve_amount", params.ReserveAmount,
		"airdrop_amount", params.AirdropAmount)
	return rec, nil
}

type ClaimParams struct {
	User                solana.PublicKey
	Admin               solana.PublicKey
	CampaignAddress     solana.PublicKey
	UserTokenAccount    solana.PublicKey
	ReserveTokenAccount solana.PublicKey
	// Upline is the caller-nominated referral beneficiary. Zero means no
	// referral. The nomination is not cryptographically bound to the user;
	// only self-referral is rejected.
	Upline solana.PublicKey
}

type ClaimResult struct {
	Allocation *UserAllocationRecord
	Payout     uint64
	FeePaid    uint64
}

// Claim performs a user's one-time entry into the campaign: it charges the
// configured fee, grants the baseline allocation, pays out the first 1%
// immediately, and credits the nominated upline.
func (p *Program) Claim(ctx context.Context, params ClaimParams) (*ClaimResult, error) {
	if _, err := verifyCampaignAddress(p.cfg.ProgramID, params.Admin, params.CampaignAddress); err != nil {
		return nil, err
	}
	allocAddr, allocBump, err := DeriveAllocationAddress(p.cfg.ProgramID, params.User)
	if err != nil {
		return nil, err
	}
	if !params.Upline.IsZero() && params.Upline.Equals(params.User) {
		return nil, ErrUnauthorized
	}

	var result *ClaimResult
	err = p.cfg.Ledger.WithinTx(ctx, func(tx Tx) error {
		campaign, err := tx.Campaign(ctx, params.CampaignAddress)
		if err != nil {
			return err
		}
		if !campaign.AllocationEnabled {
			return ErrAllocationNotEnabled
		}
		if !params.ReserveTokenAccount.Equals(campaign.ReserveTokenAccount) {
			return ErrInvalidTokenAccount
		}

		existing, err := tx.Allocation(ctx, allocAddr)
		if err != nil && !errors.Is(err, ErrAllocationNotFound) {
			return err
		}
		if existing != nil && existing.Claimed {
			return ErrAirdropAlreadyClaimed
		}

		if campaign.FeeLamports > 0 {
			if err := tx.TransferLamports(ctx, params.User, campaign.Admin, campaign.FeeLamports); err != nil {
				return fmt.Errorf("failed to charge claim fee: %w", err)
			}
		}

		payout := UnlockQuantum(campaign.AirdropAmount)
		if err := tx.TransferTokens(ctx, campaign.ReserveTokenAccount, params.UserTokenAccount, campaign.Address, payout); err != nil {
			return fmt.Errorf("failed to transfer claim payout: %w", err)
		}

		now := p.clock.Now().UTC()
		rec := existing
		if rec == nil {
			rec = &UserAllocationRecord{
				Address:   allocAddr,
				User:      params.User,
				Campaign:  campaign.Address,
				Bump:      allocBump,
				CreatedAt: now,
			}
		}
		// The baseline overwrites any allocation the record accrued while
		// unclaimed (upline credits earned before the user's own claim).
		rec.TotalAllocation = campaign.AirdropAmount
		rec.TotalClaimed = payout
		rec.Claimed = true
		rec.ClaimTimestamp = now
		rec.UpdatedAt = now
		if err := tx.PutAllocation(ctx, rec); err != nil {
			return err
		}

		if !params.Upline.IsZero() {
			if err := p.creditUpline(ctx, tx, campaign, params.Upline, now); err != nil {
				return err
			}
		}

		added := newEvent(EventAllocationAdded, campaign.Address, params.User, now)
		added.Amount = campaign.AirdropAmount
		if err := tx.AppendEvent(ctx, added); err != nil {
			return err
		}
		unlocked := newEvent(EventAllocationUnlocked, campaign.Address, params.User, now)
		unlocked.Amount = payout
		unlocked.TotalClaimed = payout
		if err := tx.AppendEvent(ctx, unlocked); err != nil {
			return err
		}

		result = &ClaimResult{Allocation: rec, Payout: payout, FeePaid: campaign.FeeLamports}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("program: airdrop claimed",
		"user", params.User.String(),
		"campaign", params.CampaignAddress.String(),
		"payout", result.Payout,
		"upline", params.Upline.String())
	return result, nil
}

// creditUpline applies the one-level referral bonus: referral_count += 1 and
// total_allocation += 10% of the claimant's baseline. A nominated pubkey with
// no allocation record gets one created holding only the bonus.
func (p *Program) creditUpline(ctx context.Context, tx Tx, campaign *CampaignRecord, upline solana.PublicKey, now time.Time) error {
	uplineAddr, uplineBump, err := DeriveAllocationAddress(p.cfg.ProgramID, upline)
	if err != nil {
		return err
	}
	rec, err := tx.Allocation(ctx, uplineAddr)
	if err != nil {
		if !errors.Is(err, ErrAllocationNotFound) {
			return err
		}
		rec = &UserAllocationRecord{
			Address:   uplineAddr,
			User:      upline,
			Campaign:  campaign.Address,
			Bump:      uplineBump,
			CreatedAt: now,
		}
	}
	rec.ReferralCount++
	rec.TotalAllocation += ReferralBonus(campaign.AirdropAmount)
	rec.UpdatedAt = now
	return tx.PutAllocation(ctx, rec)
}

type UnlockParams struct {
	User                solana.PublicKey
	Admin               solana.PublicKey
	CampaignAddress     solana.PublicKey
	UserTokenAccount    solana.PublicKey
	ReserveTokenAccount solana.PublicKey
}

type UnlockResult struct {
	Allocation *UserAllocationRecord
	Amount     uint64
	// EventTotalClaimed is the cumulative figure reported in the emitted
	// AllocationUnlocked event. It runs one quantum ahead of the persisted
	// TotalClaimed; see the event log notes in DESIGN.md.
	EventTotalClaimed uint64
}

// Unlock releases the next 1% slice of the caller's allocation once the
// 30-day period has elapsed since the last claim or unlock.
func (p *Program) Unlock(ctx context.Context, params UnlockParams) (*UnlockResult, error) {
	if _, err := verifyCampaignAddress(p.cfg.ProgramID, params.Admin, params.CampaignAddress); err != nil {
		return nil, err
	}
	allocAddr, _, err := DeriveAllocationAddress(p.cfg.ProgramID, params.User)
	if err != nil {
		return nil, err
	}

	var result *UnlockResult
	err = p.cfg.Ledger.WithinTx(ctx, func(tx Tx) error {
		campaign, err := tx.Campaign(ctx, params.CampaignAddress)
		if err != nil {
			return err
		}
		if !params.ReserveTokenAccount.Equals(campaign.ReserveTokenAccount) {
			return ErrInvalidTokenAccount
		}

		rec, err := tx.Allocation(ctx, allocAddr)
		if err != nil {
			return err
		}
		if !rec.Claimed {
			// A record that only accrued upline credits has no vesting
			// schedule until its own claim happens.
			return ErrAllocationNotFound
		}

		now := p.clock.Now().UTC()
		if !UnlockEligible(now, rec.ClaimTimestamp) {
			return ErrUnlockPeriodNotMet
		}

		quantum := UnlockQuantum(rec.TotalAllocation)
		if rec.TotalClaimed+quantum > rec.TotalAllocation {
			return ErrClaimCompleted
		}

		if err := tx.TransferTokens(ctx, campaign.ReserveTokenAccount, params.UserTokenAccount, campaign.Address, quantum); err != nil {
			return fmt.Errorf("failed to transfer unlock amount: %w", err)
		}

		rec.TotalClaimed += quantum
		rec.ClaimTimestamp = now
		rec.UpdatedAt = now
		if err := tx.PutAllocation(ctx, rec); err != nil {
			return err
		}

		// The emitted cumulative total adds the quantum again on top of the
		// already-incremented record field. Kept as-is to match the
		// telemetry contract observers have built against.
		ev := newEvent(EventAllocationUnlocked, campaign.Address, params.User, now)
		ev.Amount = quantum
		ev.TotalClaimed = rec.TotalClaimed + quantum
		if err := tx.AppendEvent(ctx, ev); err != nil {
			return err
		}

		result = &UnlockResult{Allocation: rec, Amount: quantum, EventTotalClaimed: ev.TotalClaimed}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("program: allocation unlocked",
		"user", params.User.String(),
		"amount", result.Amount,
		"total_claimed", result.Allocation.TotalClaimed)
	return result, nil
}

type IncreaseAllocationParams struct {
	Admin           solana.PublicKey
	CampaignAddress solana.PublicKey
	User            solana.PublicKey
	Amount          uint64
}

// IncreaseAllocation adds Amount to the target user's total allocation.
// Admin-only, and only while the campaign still has allocation enabled.
func (p *Program) IncreaseAllocation(ctx context.Context, params IncreaseAllocationParams) (*UserAllocationRecord, error) {
	if _, err := verifyCampaignAddress(p.cfg.ProgramID, params.Admin, params.CampaignAddress); err != nil {
		return nil, err
	}
	allocAddr, allocBump, err := DeriveAllocationAddress(p.cfg.ProgramID, params.User)
	if err != nil {
		return nil, err
	}

	var rec *UserAllocationRecord
	err = p.cfg.Ledger.WithinTx(ctx, func(tx Tx) error {
		campaign, err := tx.Campaign(ctx, params.CampaignAddress)
		if err != nil {
			return err
		}
		if !campaign.Admin.Equals(params.Admin) {
			return ErrUnauthorized
		}
		if !campaign.AllocationEnabled {
			return ErrAllocationNotEnabled
		}

		now := p.clock.Now().UTC()
		rec, err = tx.Allocation(ctx, allocAddr)
		if err != nil {
			if !errors.Is(err, ErrAllocationNotFound) {
				return err
			}
			rec = &UserAllocationRecord{
				Address:   allocAddr,
				User:      params.User,
				Campaign:  campaign.Address,
				Bump:      allocBump,
				CreatedAt: now,
			}
		}
		rec.TotalAllocation += params.Amount
		rec.UpdatedAt = now
		return tx.PutAllocation(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("program: allocation increased",
		"user", params.User.String(),
		"amount", params.Amount,
		"total_allocation", rec.TotalAllocation)
	return rec, nil
}

type EndAllocationParams struct {
	Admin           solana.PublicKey
	CampaignAddress solana.PublicKey
}

// EndAllocation permanently disables allocation growth and further claims for
// the campaign.
func (p *Program) EndAllocation(ctx context.Context, params EndAllocationParams) error {
	if _, err := verifyCampaignAddress(p.cfg.ProgramID, params.Admin, params.CampaignAddress); err != nil {
		return err
	}

	err := p.cfg.Ledger.WithinTx(ctx, func(tx Tx) error {
		campaign, err := tx.Campaign(ctx, params.CampaignAddress)
		if err != nil {
			return err
		}
		if !campaign.Admin.Equals(params.Admin) {
			return ErrUnauthorized
		}
		if !campaign.AllocationEnabled {
			return ErrAllocationNotEnabled
		}

		now := p.clock.Now().UTC()
		campaign.AllocationEnabled = false
		campaign.UpdatedAt = now
		if err := tx.PutCampaign(ctx, campaign); err != nil {
			return err
		}

		return tx.AppendEvent(ctx, newEvent(EventAllocationEnded, campaign.Address, params.Admin, now))
	})
	if err != nil {
		return err
	}

	p.log.Info("program: allocation ended",
		"campaign", params.CampaignAddress.String(),
		"admin", params.Admin.String())
	return nil
}

// Campaign returns the campaign record for an admin identity.
func (p *Program) Campaign(ctx context.Context, admin solana.PublicKey) (*CampaignRecord, error) {
	addr, _, err := DeriveCampaignAddress(p.cfg.ProgramID, admin)
	if err != nil {
		return nil, err
	}
	return p.cfg.Ledger.Campaign(ctx, addr)
}

// Allocation returns the allocation record for a user identity.
func (p *Program) Allocation(ctx context.Context, user solana.PublicKey) (*UserAllocationRecord, error) {
	addr, _, err := DeriveAllocationAddress(p.cfg.ProgramID, user)
	if err != nil {
		return nil, err
	}
	return p.cfg.Ledger.Allocation(ctx, addr)
}

// Events returns a page of the append-only event log, newest first.
func (p *Program) Events(ctx context.Context, limit, offset int) ([]Event, error) {
	return p.cfg.Ledger.Events(ctx, limit, offset)
}
