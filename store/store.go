// Package store implements the program ledger on PostgreSQL. One pgx
// transaction per operation gives the ledger's all-or-nothing commit, and
// SELECT ... FOR UPDATE row locks give the per-record exclusive-write
// serialization the program relies on.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ploutoslabs/airdrop/program"
)

type Config struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	return nil
}

type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, pool: cfg.Pool}, nil
}

// querier covers the query surface shared by the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx program.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Campaign(ctx context.Context, addr solana.PublicKey) (*program.CampaignRecord, error) {
	return queryCampaign(ctx, s.pool, addr, false)
}

func (s *Store) Allocation(ctx context.Context, addr solana.PublicKey) (*program.UserAllocationRecord, error) {
	return queryAllocation(ctx, s.pool, addr, false)
}

func (s *Store) TokenAccount(ctx context.Context, addr solana.PublicKey) (*program.TokenAccount, error) {
	return queryTokenAccount(ctx, s.pool, addr, false)
}

func (s *Store) Events(ctx context.Context, limit, offset int) ([]program.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, campaign, user_pubkey, amount, total_claimed, event_ts
		FROM events
		ORDER BY seq DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []program.Event
	for rows.Next() {
		var ev program.Event
		var id uuid.UUID
		var typ, campaign, user string
		var amount, totalClaimed int64
		if err := rows.Scan(&id, &typ, &campaign, &user, &amount, &totalClaimed, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.ID = id
		ev.Type = program.EventType(typ)
		if ev.Campaign, err = solana.PublicKeyFromBase58(campaign); err != nil {
			return nil, fmt.Errorf("failed to parse event campaign: %w", err)
		}
		if ev.User, err = solana.PublicKeyFromBase58(user); err != nil {
			return nil, fmt.Errorf("failed to parse event user: %w", err)
		}
		ev.Amount = uint64(amount)
		ev.TotalClaimed = uint64(totalClaimed)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CreateTokenAccount registers a token account on the ledger. Used by
// operational seeding and tests; the program itself never creates token
// accounts.
func (s *Store) CreateTokenAccount(ctx context.Context, addr, mint, owner solana.PublicKey) error {
	s.log.Debug("store: creating token account", "address", addr.String(), "mint", mint.String(), "owner", owner.String())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_accounts (address, mint, owner_pubkey, balance)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (address) DO NOTHING`,
		addr.String(), mint.String(), owner.String())
	if err != nil {
		return fmt.Errorf("failed to create token account: %w", err)
	}
	return nil
}

// MintTo credits freshly minted tokens to a token account.
func (s *Store) MintTo(ctx context.Context, addr solana.PublicKey, amount uint64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE token_accounts SET balance = balance + $2 WHERE address = $1`,
		addr.String(), int64(amount))
	if err != nil {
		return fmt.Errorf("failed to mint to token account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return program.ErrAccountNotFound
	}
	return nil
}

// Airdrop credits native value to an account.
func (s *Store) Airdrop(ctx context.Context, addr solana.PublicKey, lamports uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO native_accounts (address, lamports)
		VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET lamports = native_accounts.lamports + EXCLUDED.lamports`,
		addr.String(), int64(lamports))
	if err != nil {
		return fmt.Errorf("failed to airdrop lamports: %w", err)
	}
	return nil
}

// Lamports returns an account's native balance. Unknown accounts are zero.
func (s *Store) Lamports(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	var lamports int64
	err := s.pool.QueryRow(ctx, `
		SELECT lamports FROM native_accounts WHERE address = $1`, addr.String()).Scan(&lamports)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query lamports: %w", err)
	}
	return uint64(lamports), nil
}

type pgTx struct {
	q querier
}

func (t *pgTx) Campaign(ctx context.Context, addr solana.PublicKey) (*program.CampaignRecord, error) {
	return queryCampaign(ctx, t.q, addr, true)
}

func (t *pgTx) PutCampaign(ctx context.Context, rec *program.CampaignRecord) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO campaigns (
			address, admin, fee_lamports, mint, reserve_token_account,
			reserve_amount, airdrop_amount, allocation_enabled, initialized,
			bump, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (address) DO UPDATE SET
			fee_lamports = EXCLUDED.fee_lamports,
			mint = EXCLUDED.mint,
			reserve_token_account = EXCLUDED.reserve_token_account,
			reserve_amount = EXCLUDED.reserve_amount,
			airdrop_amount = EXCLUDED.airdrop_amount,
			allocation_enabled = EXCLUDED.allocation_enabled,
			initialized = EXCLUDED.initialized,
			updated_at = EXCLUDED.updated_at`,
		rec.Address.String(), rec.Admin.String(), int64(rec.FeeLamports),
		rec.Mint.String(), rec.ReserveTokenAccount.String(),
		int64(rec.ReserveAmount), int64(rec.AirdropAmount),
		rec.AllocationEnabled, rec.Initialized,
		int16(rec.Bump), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to write campaign record: %w", err)
	}
	return nil
}

func (t *pgTx) Allocation(ctx context.Context, addr solana.PublicKey) (*program.UserAllocationRecord, error) {
	return queryAllocation(ctx, t.q, addr, true)
}

func (t *pgTx) PutAllocation(ctx context.Context, rec *program.UserAllocationRecord) error {
	var claimTS *time.Time
	if !rec.ClaimTimestamp.IsZero() {
		claimTS = &rec.ClaimTimestamp
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO allocations (
			address, user_pubkey, campaign, claimed, claim_timestamp,
			total_allocation, total_claimed, referral_count, bump,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (address) DO UPDATE SET
			claimed = EXCLUDED.claimed,
			claim_timestamp = EXCLUDED.claim_timestamp,
			total_allocation = EXCLUDED.total_allocation,
			total_claimed = EXCLUDED.total_claimed,
			referral_count = EXCLUDED.referral_count,
			updated_at = EXCLUDED.updated_at`,
		rec.Address.String(), rec.User.String(), rec.Campaign.String(),
		rec.Claimed, claimTS,
		int64(rec.TotalAllocation), int64(rec.TotalClaimed),
		int64(rec.ReferralCount), int16(rec.Bump),
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to write allocation record: %w", err)
	}
	return nil
}

func (t *pgTx) TokenAccount(ctx context.Context, addr solana.PublicKey) (*program.TokenAccount, error) {
	return queryTokenAccount(ctx, t.q, addr, true)
}

func (t *pgTx) TransferTokens(ctx context.Context, from, to, authority solana.PublicKey, amount uint64) error {
	// Lock both accounts in address order so concurrent transfers over the
	// same pair cannot deadlock.
	first, second := from, to
	if second.String() < first.String() {
		first, second = second, first
	}
	src, err := t.lockTokenAccount(ctx, first)
	if err != nil {
		return err
	}
	dst, err := t.lockTokenAccount(ctx, second)
	if err != nil {
		return err
	}
	if !first.Equals(from) {
		src, dst = dst, src
	}

	if !src.Owner.Equals(authority) {
		return program.ErrInvalidTokenAccountOwner
	}
	if !src.Mint.Equals(dst.Mint) {
		return program.ErrMintMismatch
	}
	if src.Balance < amount {
		return program.ErrInsufficientFunds
	}

	if _, err := t.q.Exec(ctx, `
		UPDATE token_accounts SET balance = balance - $2 WHERE address = $1`,
		from.String(), int64(amount)); err != nil {
		return fmt.Errorf("failed to debit token account: %w", err)
	}
	if _, err := t.q.Exec(ctx, `
		UPDATE token_accounts SET balance = balance + $2 WHERE address = $1`,
		to.String(), int64(amount)); err != nil {
		return fmt.Errorf("failed to credit token account: %w", err)
	}
	return nil
}

func (t *pgTx) lockTokenAccount(ctx context.Context, addr solana.PublicKey) (*program.TokenAccount, error) {
	return queryTokenAccount(ctx, t.q, addr, true)
}

func (t *pgTx) TransferLamports(ctx context.Context, from, to solana.PublicKey, amount uint64) error {
	var balance int64
	err := t.q.QueryRow(ctx, `
		SELECT lamports FROM native_accounts WHERE address = $1 FOR UPDATE`,
		from.String()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return program.ErrInsufficientFunds
	}
	if err != nil {
		return fmt.Errorf("failed to lock native account: %w", err)
	}
	if uint64(balance) < amount {
		return program.ErrInsufficientFunds
	}

	if _, err := t.q.Exec(ctx, `
		UPDATE native_accounts SET lamports = lamports - $2 WHERE address = $1`,
		from.String(), int64(amount)); err != nil {
		return fmt.Errorf("failed to debit native account: %w", err)
	}
	if _, err := t.q.Exec(ctx, `
		INSERT INTO native_accounts (address, lamports)
		VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET lamports = native_accounts.lamports + EXCLUDED.lamports`,
		to.String(), int64(amount)); err != nil {
		return fmt.Errorf("failed to credit native account: %w", err)
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, ev program.Event) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO events (id, type, campaign, user_pubkey, amount, total_claimed, event_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, string(ev.Type), ev.Campaign.String(), ev.User.String(),
		int64(ev.Amount), int64(ev.TotalClaimed), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func queryCampaign(ctx context.Context, q querier, addr solana.PublicKey, forUpdate bool) (*program.CampaignRecord, error) {
	query := `
		SELECT address, admin, fee_lamports, mint, reserve_token_account,
			reserve_amount, airdrop_amount, allocation_enabled, initialized,
			bump, created_at, updated_at
		FROM campaigns WHERE address = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var rec program.CampaignRecord
	var address, admin, mint, reserve string
	var feeLamports, reserveAmount, airdropAmount int64
	var bump int16
	err := q.QueryRow(ctx, query, addr.String()).Scan(
		&address, &admin, &feeLamports, &mint, &reserve,
		&reserveAmount, &airdropAmount, &rec.AllocationEnabled,
		&rec.Initialized, &bump, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, program.ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query campaign: %w", err)
	}

	if rec.Address, err = solana.PublicKeyFromBase58(address); err != nil {
		return nil, fmt.Errorf("failed to parse campaign address: %w", err)
	}
	if rec.Admin, err = solana.PublicKeyFromBase58(admin); err != nil {
		return nil, fmt.Errorf("failed to parse campaign admin: %w", err)
	}
	if rec.Mint, err = solana.PublicKeyFromBase58(mint); err != nil {
		return nil, fmt.Errorf("failed to parse campaign mint: %w", err)
	}
	if rec.ReserveTokenAccount, err = solana.PublicKeyFromBase58(reserve); err != nil {
		return nil, fmt.Errorf("failed to parse campaign reserve: %w", err)
	}
	rec.FeeLamports = uint64(feeLamports)
	rec.ReserveAmount = uint64(reserveAmount)
	rec.AirdropAmount = uint64(airdropAmount)
	rec.Bump = uint8(bump)
	return &rec, nil
}

func queryAllocation(ctx context.Context, q querier, addr solana.PublicKey, forUpdate bool) (*program.UserAllocationRecord, error) {
	query := `
		SELECT address, user_pubkey, campaign, claimed, claim_timestamp,
			total_allocation, total_claimed, referral_count, bump,
			created_at, updated_at
		FROM allocations WHERE address = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var rec program.UserAllocationRecord
	var address, user, campaign string
	var claimTS *time.Time
	var totalAllocation, totalClaimed, referralCount int64
	var bump int16
	err := q.QueryRow(ctx, query, addr.String()).Scan(
		&address, &user, &campaign, &rec.Claimed, &claimTS,
		&totalAllocation, &totalClaimed, &referralCount, &bump,
		&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, program.ErrAllocationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query allocation: %w", err)
	}

	if rec.Address, err = solana.PublicKeyFromBase58(address); err != nil {
		return nil, fmt.Errorf("failed to parse allocation address: %w", err)
	}
	if rec.User, err = solana.PublicKeyFromBase58(user); err != nil {
		return nil, fmt.Errorf("failed to parse allocation user: %w", err)
	}
	if rec.Campaign, err = solana.PublicKeyFromBase58(campaign); err != nil {
		return nil, fmt.Errorf("failed to parse allocation campaign: %w", err)
	}
	if claimTS != nil {
		rec.ClaimTimestamp = *claimTS
	}
	rec.TotalAllocation = uint64(totalAllocation)
	rec.TotalClaimed = uint64(totalClaimed)
	rec.ReferralCount = uint64(referralCount)
	rec.Bump = uint8(bump)
	return &rec, nil
}

func queryTokenAccount(ctx context.Context, q querier, addr solana.PublicKey, forUpdate bool) (*program.TokenAccount, error) {
	query := `
		SELECT address, mint, owner_pubkey, balance
		FROM token_accounts WHERE address = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var acc program.TokenAccount
	var address, mint, owner string
	var balance int64
	err := q.QueryRow(ctx, query, addr.String()).Scan(&address, &mint, &owner, &balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, program.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token account: %w", err)
	}

	if acc.Address, err = solana.PublicKeyFromBase58(address); err != nil {
		return nil, fmt.Errorf("failed to parse token account address: %w", err)
	}
	if acc.Mint, err = solana.PublicKeyFromBase58(mint); err != nil {
		return nil, fmt.Errorf("failed to parse token account mint: %w", err)
	}
	if acc.Owner, err = solana.PublicKeyFromBase58(owner); err != nil {
		return nil, fmt.Errorf("failed to parse token account owner: %w", err)
	}
	acc.Balance = uint64(balance)
	return &acc, nil
}
