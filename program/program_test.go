package program_test

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ploutoslabs/airdrop/ledger"
	"github.com/ploutoslabs/airdrop/logger"
	"github.com/ploutoslabs/airdrop/program"
)

const (
	testAirdropAmount = uint64(1_000_000)
	testReserveAmount = uint64(500_000_000)
	testFeeLamports   = uint64(5_000)
)

type testEnv struct {
	t     *testing.T
	ctx   context.Context
	clock *clockwork.FakeClock
	mem   *ledger.Memory
	prog  *program.Program

	admin    solana.PublicKey
	campaign solana.PublicKey
	mint     solana.PublicKey
	reserve  solana.PublicKey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	mem := ledger.NewMemory()
	prog, err := program.New(program.Config{
		Logger: logger.NewTestLogger(),
		Clock:  clock,
		Ledger: mem,
	})
	require.NoError(t, err)

	env := &testEnv{
		t:     t,
		ctx:   context.Background(),
		clock: clock,
		mem:   mem,
		prog:  prog,
		admin: solana.NewWallet().PublicKey(),
		mint:  solana.NewWallet().PublicKey(),
	}
	env.campaign, _, err = program.DeriveCampaignAddress(program.DefaultProgramID, env.admin)
	require.NoError(t, err)

	env.reserve = solana.NewWallet().PublicKey()
	mem.CreateTokenAccount(env.reserve, env.mint, env.campaign)
	mem.MintTo(env.reserve, testReserveAmount)

	return env
}

func (env *testEnv) initialize(airdropAmount uint64) *program.CampaignRecord {
	env.t.Helper()
	rec, err := env.prog.Initialize(env.ctx, program.InitializeParams{
		Admin:               env.admin,
		FeeLamports:         testFeeLamports,
		Mint:                env.mint,
		ReserveTokenAccount: env.reserve,
		ReserveAmount:       testReserveAmount,
		AirdropAmount:       airdropAmount,
	})
	require.NoError(env.t, err)
	return rec
}

// newUser creates a funded wallet with an empty token account for the
// campaign mint.
func (env *testEnv) newUser() (user, tokenAccount solana.PublicKey) {
	env.t.Helper()
	user = solana.NewWallet().PublicKey()
	tokenAccount = solana.NewWallet().PublicKey()
	env.mem.CreateTokenAccount(tokenAccount, env.mint, user)
	env.mem.Airdrop(user, 1_000_000_000)
	return user, tokenAccount
}

func (env *testEnv) claimParams(user, tokenAccount solana.PublicKey) program.ClaimParams {
	return program.ClaimParams{
		User:                user,
		Admin:               env.admin,
		CampaignAddress:     env.campaign,
		UserTokenAccount:    tokenAccount,
		ReserveTokenAccount: env.reserve,
	}
}

func (env *testEnv) tokenBalance(addr solana.PublicKey) uint64 {
	env.t.Helper()
	acc, err := env.mem.TokenAccount(env.ctx, addr)
	require.NoError(env.t, err)
	return acc.Balance
}

func TestInitialize(t *testing.T) {
	env := newTestEnv(t)

	rec := env.initialize(testAirdropAmount)
	assert.Equal(t, env.campaign, rec.Address)
	assert.Equal(t, env.admin, rec.Admin)
	assert.Equal(t, testAirdropAmount, rec.AirdropAmount)
	assert.True(t, rec.AllocationEnabled)
	assert.True(t, rec.Initialized)

	// No funds move at initialization.
	assert.Equal(t, testReserveAmount, env.tokenBalance(env.reserve))

	// Same admin cannot initialize twice.
	_, err := env.prog.Initialize(env.ctx, program.InitializeParams{
		Admin:               env.admin,
		Mint:                env.mint,
		ReserveTokenAccount: env.reserve,
		ReserveAmount:       testReserveAmount,
		AirdropAmount:       testAirdropAmount,
	})
	require.ErrorIs(t, err, program.ErrAlreadyInitialized)
}

func TestInitialize_ReserveValidation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("wrong mint", func(t *testing.T) {
		other := solana.NewWallet().PublicKey()
		_, err := env.prog.Initialize(env.ctx, program.InitializeParams{
			Admin:               env.admin,
			Mint:                other,
			ReserveTokenAccount: env.reserve,
			ReserveAmount:       testReserveAmount,
			AirdropAmount:       testAirdropAmount,
		})
		require.ErrorIs(t, err, program.ErrMintMismatch)
	})

	t.Run("reserve not owned by campaign authority", func(t *testing.T) {
		stray := solana.NewWallet().PublicKey()
		env.mem.CreateTokenAccount(stray, env.mint, env.admin)
		env.mem.MintTo(stray, testReserveAmount)
		_, err := env.prog.Initialize(env.ctx, program.InitializeParams{
			Admin:               env.admin,
			Mint:                env.mint,
			ReserveTokenAccount: stray,
			ReserveAmount:       testReserveAmount,
			AirdropAmount:       testAirdropAmount,
		})
		require.ErrorIs(t, err, program.ErrInvalidTokenAccountOwner)
	})

	t.Run("underfunded reserve", func(t *testing.T) {
		_, err := env.prog.Initialize(env.ctx, program.InitializeParams{
			Admin:               env.admin,
			Mint:                env.mint,
			ReserveTokenAccount: env.reserve,
			ReserveAmount:       testReserveAmount + 1,
			AirdropAmount:       testAirdropAmount,
		})
		require.ErrorIs(t, err, program.ErrInsufficientFunds)
	})
}

func TestClaim(t *testing.T) {
	env := newTestEnv(t)
	env.initialize(testAirdropAmount)
	user, userToken := env.newUser()

	lamportsBefore := env.mem.Lamports(user)
	result, err := env.prog.Claim(env.ctx, env.claimParams(user, userToken))
	require.NoError(t, err)

	// 1% of the allocation pays out immediately.
	assert.Equal(t, uint64(10_000), result.Payout)
	assert.Equal(t, uint64(10_000), env.tokenBalance(userToken))
	assert.Equal(t, testReserveAmount-10_000, env.tokenBalance(env.reserve))

	rec := result.Allocation
	assert.True(t, rec.Claimed)
	assert.Equal(t, testAirdropAmount, rec.TotalAllocation)
	assert.Equal(t, uint64(10_000), rec.TotalClaimed)
	assert.Equal(t, uint64(990_000), rec.Remaining())
	assert.Equal(t, uint64(0), rec.ReferralCount)

	// The claim fee moves from the user to the admin.
	assert.Equal(t, lamportsBefore-testFeeLamports, env.mem.Lamports(user))
	assert.Equal(t, testFeeLamports, env.mem.Lamports(env.admin))

	// One AllocationAdded and one AllocationUnlocked, newest first.
	events, err := env.prog.Events(env.ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, program.EventAllocationUnlocked, events[0].Type)
	assert.Equal(t, uint64(10_000), events[0].Amount)
	assert.Equal(t, uint64(10_000), events[0].TotalClaimed)
	assert.Equal(t, program.EventAllocationAdded, events[1].Type)
	assert.Equal(t, testAirdropAmount, events[1].Amount)
	assert.Equal(t, user, events[1].User)
}

func TestClaim_Twice(t *testing.T) {
	env := newTestEnv(t)
	env.initialize(testAirdropAmount)
	user, userToken := env.newUser()

	_, err := env.prog.Claim(env.ctx, env.claimParams(user, userToken))
	require.NoError(t, err)

	lamports := env.mem.Lamports(user)
	_, err = env.prog.Claim(env.ctx, env.claimParams(user, userToken))
	require.ErrorIs(t, err, program.ErrAirdropAlreadyClaimed)

	// The failed claim moved nothing.
	assert.Equal(t, uint64(10_000), env.tokenBalance(userToken))
	assert.Equal(t, lamports, env.mem.Lamports(user))
}

func TestClaim_ForgedAccounts(t *testing.T) {
	env := newTestEnv(t)
	env.initialize(testAirdropAmount)
	user, userToken := env.newUser()

	t.Run("campaign address not derived from admin", func(t *testing.T) {
		params := env.claimParams(user, userToken)
		params.CampaignAddress = solana.NewWallet().PublicKey()
		_, err := env.prog.Claim(env.ctx, params)
		require.ErrorIs(t, err, program.ErrPdaMismatch)
	})

	t.Run("substituted reserve account", func(t *testing.T) {
		fake := solana.NewWallet().PublicKey()
		env.mem.CreateTokenAccount(fake, env.mint, env.campaign)
		params := env.claimParams(user, userToken)
		params.ReserveTokenAccount = fake
		_, err := env.prog.Claim(env.ctx, params)
		require.ErrorIs(t, err, program.ErrInvalidTokenAccount)
		assert.Equal(t, uint64(0), env.tokenBalance(userToken))
	})

	t.Run("self-referral", func(t *testing.T) {
		params := env.claimParams(user, userToken)
		params.Upline = user
		_, err := env.prog.Claim(env.ctx, params)
		require.ErrorIs(t, err, program.ErrUnauthorized)
	})
}

func TestClaim_InsufficientFeeIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	env.initialize(testAirdropAmount)

	user := solana.NewWallet().PublicKey()
	userToken := solana.NewWallet().PublicKey()
	env.mem.CreateTokenAccount(userToken, env.mint, user)
	env.mem.Airdrop(user, testFeeLamports-1)

	_, err := env.prog.Claim(env.ctx, env.claimParams(user, userToken))
	require.ErrorIs(t, err, program.ErrInsufficientFunds)

	// Nothing from the failed operation sticks: no record, no transfer, no
	// partial fee.
	assert.Equal(t, uint64(0), env.tokenBalance(userToken))
	assert.Equal(t, testReserveAmount, env.tokenBalance(env.reserve))
	assert.Equal(t, testFeeLamports-1, env.mem.Lamports(user))
	_, err = env.prog.Allocation(env.ctx, user)
	require.ErrorIs(t, err, program.ErrAllocationNotFound)

	events, err := env.prog.Events(env.ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestClaim_ReferralBonus(t *testing.T) {
	env := newTestEnv(t)
	env.initialize(testAirdropAmount)

	upline, uplineToken := env.newUser()
	_, err := env.prog.Claim(env.ctx, env.claimParams(upline, uplineToken))
	require.NoError(t, err)

	user, userToken := env.newUser()
	params := env.claimParams(user, userToken)
	params.Upline = upline
	_, err = env.prog.Claim(env.ctx, params)
	require.NoError(t, err)

	// The upline gains 10% of the claimant's baseline on top of its own.
	rec, err := env.prog.Allocation(env.ctx, upline)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.ReferralCount)
	assert.Equal(t, uint64(1_100_000), rec.TotalAllocation)

	// The grown allocation raises the upline's unlock quantum.
	env.clock.Advance(program.UnlockPeriod)
	result, err := env.prog.Unlock(env.ctx, program.UnlockParams{
		User:                upline,
		Admin:               env.admin,
		CampaignAddress:     env.campaign,
		UserTokenAccount:    uplineToken,
		ReserveTokenAccount: env.reserve,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(11_000), result.Amount)
}

func TestClaim_OverwritesPreClaimUplineCredits(t *testing.T) {
	env := newTestEnv(t)
	env.initialize(testAirdropAmount)

	upline, uplineToken := env.newUser()
	user, userToken := env.newUser()

	// The upline has not claimed yet; the nomination creates its record
	// holding only the bonus.
	params := env.claimParams(user, userToken)
	params.Upline = upline
	_, err := env.prog.Claim(env.ctx, params)
	require.NoError(t, err)

	rec, err := env.prog.Allocation(env.ctx, upline)
	require.NoError(t, err)
	assert.False(t, rec.Claimed)
	assert.Equal(t, uint64(100_000), rec.TotalAllocation)

	// Its own claim resets the allocation to the baseline; the referral
	// count survives.
	_, err = env.prog.Claim(env.ctx, env.claimParams(upline, uplineToken))
	require.NoError(t, err)
	rec, err = env.prog.Allocation(env.ctx, upline)
	require.NoError(t, err)
	assert.True(t, rec.Claimed)
	assert.Equal(t, testAirdropAmount, rec.TotalAllocation)
	assert.Equal(t, uint64(10_000), rec.TotalClaimed)
	assert.Equal(t, uint64(1), rec.ReferralCount)
}

func TestUnlock(t *testing.T) {
	env := newTestEnv(t)
	env.initialize(testAirdropAmount)
	user, userToken := env.newUser()
	_, err := env.prog.Claim(env.ctx, env.claimParams(user, userToken))
	require.NoError(t, err)

	unlockParams := program.UnlockParams{
		User:                user,
		Admin:               env.admin,
		CampaignAddress:     env.campaign,
		UserTokenAccount:    userToken,
		ReserveTokenAccount: env.reserve,
	}

	// One second short of the period.
	env.clock.Advance(program.UnlockPeriod - time.Second)
	_, err = env.prog.Unlock(env.ctx, unlockParams)
	require.ErrorIs(t, err, program.ErrUnlockPeriodNotMet)
	assert.Equal(t, uint64(10_000), env.tokenBalance(userToken))

	env.clock.Advance(time.Second)
	result, err := env.prog.Unlock(env.ctx, unlockParams)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), result.Amount)
	assert.Equal(t, uint64(20_000), result.Allocation.TotalClaimed)
	assert.Equal(t, uint64(20_000), env.tokenBalance(userToken))

	// The emitted cumulative figure runs one quantum ahead of the record.
	events, err := env.prog.Events(env.ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, program.EventAllocationUnlocked, events[0].Type)
	assert.Equal(t, uint64(10_000), events[0].Amount)
	assert.Equal(t, uint64(30_000), events[0].TotalClaimed)

	// The successful unlock restarts the 30-day period.
	_, err = env.prog.Unlock(env.ctx, unlockParams)
	require.ErrorIs(t, err, program.ErrUnlockPeriodNotMet)
}

func TestUnlock_WrongReserve(t *testing.T) {
	env := newTestEnv(t)
	env.initialize(testAirdropAmount)
	user, userToken := env.newUser()
	_, err := env.prog.Claim(env.ctx, env.claimParams(user, userToken))
	require.NoError(t, err)

	fake := solana.NewWallet().PublicKey()
	env.mem.CreateTokenAccount(fake, env.mint, env.campaign)
	env.mem.MintTo(fake, testReserveAmount)

	env.clock.Advance(program.UnlockPeriod)
	_, err = env.prog.Unlock(env.ctx, program.UnlockParams{
		User:                user,
		Admin:               env.admin,
		CampaignAddress:     env.campaign,
		UserTokenAccount:    userToken,
		ReserveTokenAccount: fake,
	})
	require.ErrorIs(t, err, program.ErrInvalidTokenAccount)
	assert.Equal(t, uint64(10_000), env.tokenBalance(userToken))
}

func TestUnlock_WithoutClaim(t *testing.T) {
	env := newTestEnv(t)
	env.initialize(testAirdropAmount)

	// A record holding only upline credits has no vesting schedule.
	upline, uplineToken := env.newUser()
	user, userToken := env.newUser()
	params := env.claimParams(user, userToken)
	params.Upline = upline
	_, err := env.prog.Claim(env.ctx, params)
	require.NoError(t, err)

	env.clock.Advance(program.UnlockPeriod)
	_, err = env.prog.Unlock(env.ctx, program.UnlockParams{
		User:                upline,
		Admin:               env.admin,
		CampaignAddress:     env.campaign,
		UserTokenAccount:    uplineToken,
		ReserveTokenAccount: env.reserve,
	})
	require.ErrorIs(t, err, program.ErrAllocationNotFound)
}

func TestUnlock_RunsToCompletionWithResidue(t *testing.T) {
	env := newTestEnv(t)
	// 1,000,001 truncates to a 10,000 quantum; one unit can never vest.
	env.initialize(1_000_001)
	user, userToken := env.newUser()
	_, err := env.prog.Claim(env.ctx, env.claimParams(user, userToken))
	require.NoError(t, err)

	unlockParams := program.UnlockParams{
		User:                user,
		Admin:               env.admin,
		CampaignAddress:     env.campaign,
		UserTokenAccount:    userToken,
		ReserveTokenAccount: env.reserve,
	}

	unlocks := 0
	for {
		env.clock.Advance(program.UnlockPeriod)
		result, err := env.prog.Unlock(env.ctx, unlockParams)
		if err != nil {
			require.ErrorIs(t, err, program.ErrClaimCompleted)
			break
		}
		unlocks++
		require.LessOrEqual(t, result.Allocation.TotalClaimed, result.Allocation.TotalAllocation)
		require.Less(t, unlocks, 200, "unlock loop failed to terminate")
	}

	// Claim paid the first quantum, 99 unlocks paid the rest.
	assert.Equal(t, 99, unlocks)
	rec, err := env.prog.Allocation(env.ctx, user)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), rec.TotalClaimed)
	assert.Equal(t, uint64(1), rec.Remaining())
	assert.True(t, rec.FullyClaimed())
	assert.Equal(t, uint64(1_000_000), env.tokenBalance(userToken))
}

func TestIncreaseAllocation(t *testing.T) {
	env := newTestEnv(t)
	env.initialize(testAirdropAmount)
	user, userToken := env.newUser()
	_, err := env.prog.Claim(env.ctx, env.claimParams(user, userToken))
	require.NoError(t, err)

	rec, err := env.prog.IncreaseAllocation(env.ctx, program.IncreaseAllocationParams{
		Admin:           env.admin,
		CampaignAddress: env.campaign,
		User:            user,
		Amount:          500_000,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000), rec.TotalAllocation)
	assert.Equal(t, uint64(10_000), rec.TotalClaimed)

	// The quantum follows the grown allocation.
	env.clock.Advance(program.UnlockPeriod)
	result, err := env.prog.Unlock(env.ctx, program.UnlockParams{
		User:                user,
		Admin:               env.admin,
		CampaignAddress:     env.campaign,
		UserTokenAccount:    userToken,
		ReserveTokenAccount: env.reserve,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(15_000), result.Amount)
}

func TestIncreaseAllocation_CreatesRecord(t *testing.T) {
	env := newTestEnv(t)
	env.initialize(testAirdropAmount)

	user := solana.NewWallet().PublicKey()
	rec, err := env.prog.IncreaseAllocation(env.ctx, program.IncreaseAllocationParams{
		Admin:           env.admin,
		CampaignAddress: env.campaign,
		User:            user,
		Amount:          250_000,
	})
	require.NoError(t, err)
	assert.False(t, rec.Claimed)
	assert.Equal(t, uint64(250_000), rec.TotalAllocation)
	assert.Equal(t, uint64(0), rec.TotalClaimed)
}

func TestEndAllocation(t *testing.T) {
	env := newTestEnv(t)
	env.initialize(testAirdropAmount)
	user, userToken := env.newUser()

	t.Run("non-admin derivation fails", func(t *testing.T) {
		err := env.prog.EndAllocation(env.ctx, program.EndAllocationParams{
			Admin:           solana.NewWallet().PublicKey(),
			CampaignAddress: env.campaign,
		})
		require.ErrorIs(t, err, program.ErrPdaMismatch)
	})

	err := env.prog.EndAllocation(env.ctx, program.EndAllocationParams{
		Admin:           env.admin,
		CampaignAddress: env.campaign,
	})
	require.NoError(t, err)

	campaign, err := env.prog.Campaign(env.ctx, env.admin)
	require.NoError(t, err)
	assert.False(t, campaign.AllocationEnabled)

	events, err := env.prog.Events(env.ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, program.EventAllocationEnded, events[0].Type)

	t.Run("further claims rejected", func(t *testing.T) {
		_, err := env.prog.Claim(env.ctx, env.claimParams(user, userToken))
		require.ErrorIs(t, err, program.ErrAllocationNotEnabled)
	})

	t.Run("further increases rejected", func(t *testing.T) {
		_, err := env.prog.IncreaseAllocation(env.ctx, program.IncreaseAllocationParams{
			Admin:           env.admin,
			CampaignAddress: env.campaign,
			User:            user,
			Amount:          1,
		})
		require.ErrorIs(t, err, program.ErrAllocationNotEnabled)
	})

	t.Run("ending twice rejected", func(t *testing.T) {
		err := env.prog.EndAllocation(env.ctx, program.EndAllocationParams{
			Admin:           env.admin,
			CampaignAddress: env.campaign,
		})
		require.ErrorIs(t, err, program.ErrAllocationNotEnabled)
	})
}
