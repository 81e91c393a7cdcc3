// Package ledger provides an in-memory implementation of the host ledger the
// program runs against. It mirrors the chain runtime's semantics of atomic
// all-or-nothing commits and exclusive per-record writes, and backs the
// engine's unit tests and local development runs.
package ledger

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/ploutoslabs/airdrop/program"
)

type state struct {
	campaigns     map[solana.PublicKey]program.CampaignRecord
	allocations   map[solana.PublicKey]program.UserAllocationRecord
	tokenAccounts map[solana.PublicKey]program.TokenAccount
	lamports      map[solana.PublicKey]uint64
	events        []program.Event
}

func newState() *state {
	return &state{
		campaigns:     make(map[solana.PublicKey]program.CampaignRecord),
		allocations:   make(map[solana.PublicKey]program.UserAllocationRecord),
		tokenAccounts: make(map[solana.PublicKey]program.TokenAccount),
		lamports:      make(map[solana.PublicKey]uint64),
	}
}

func (s *state) clone() *state {
	next := &state{
		campaigns:     make(map[solana.PublicKey]program.CampaignRecord, len(s.campaigns)),
		allocations:   make(map[solana.PublicKey]program.UserAllocationRecord, len(s.allocations)),
		tokenAccounts: make(map[solana.PublicKey]program.TokenAccount, len(s.tokenAccounts)),
		lamports:      make(map[solana.PublicKey]uint64, len(s.lamports)),
		events:        make([]program.Event, len(s.events)),
	}
	for k, v := range s.campaigns {
		next.campaigns[k] = v
	}
	for k, v := range s.allocations {
		next.allocations[k] = v
	}
	for k, v := range s.tokenAccounts {
		next.tokenAccounts[k] = v
	}
	for k, v := range s.lamports {
		next.lamports[k] = v
	}
	copy(next.events, s.events)
	return next
}

// Memory is an in-memory program.Ledger. A transaction runs against a clone
// of the current state and the clone is swapped in only on success, so a
// failing operation leaves every record and balance untouched.
type Memory struct {
	mu    sync.Mutex
	state *state
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

func (m *Memory) WithinTx(ctx context.Context, fn func(tx program.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.state.clone()
	if err := fn(&memTx{state: next}); err != nil {
		return err
	}
	m.state = next
	return nil
}

func (m *Memory) Campaign(ctx context.Context, addr solana.PublicKey) (*program.CampaignRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.state.campaigns[addr]
	if !ok {
		return nil, program.ErrCampaignNotFound
	}
	return &rec, nil
}

func (m *Memory) Allocation(ctx context.Context, addr solana.PublicKey) (*program.UserAllocationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.state.allocations[addr]
	if !ok {
		return nil, program.ErrAllocationNotFound
	}
	return &rec, nil
}

func (m *Memory) TokenAccount(ctx context.Context, addr solana.PublicKey) (*program.TokenAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.state.tokenAccounts[addr]
	if !ok {
		return nil, program.ErrAccountNotFound
	}
	return &acc, nil
}

// Events returns a page of the event log, newest first.
func (m *Memory) Events(ctx context.Context, limit, offset int) ([]program.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.state.events)
	out := make([]program.Event, 0, limit)
	for i := n - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.state.events[i])
	}
	return out, nil
}

// CreateTokenAccount registers a token account holding mint for owner. It
// stands in for the chain's associated-token-account creation.
func (m *Memory) CreateTokenAccount(addr, mint, owner solana.PublicKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.tokenAccounts[addr] = program.TokenAccount{Address: addr, Mint: mint, Owner: owner}
}

// MintTo credits freshly minted tokens to a token account.
func (m *Memory) MintTo(addr solana.PublicKey, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := m.state.tokenAccounts[addr]
	acc.Balance += amount
	m.state.tokenAccounts[addr] = acc
}

// Airdrop credits native value to an account, like the devnet faucet.
func (m *Memory) Airdrop(addr solana.PublicKey, lamports uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.lamports[addr] += lamports
}

// Lamports returns an account's native balance.
func (m *Memory) Lamports(addr solana.PublicKey) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.lamports[addr]
}

type memTx struct {
	state *state
}

func (t *memTx) Campaign(ctx context.Context, addr solana.PublicKey) (*program.CampaignRecord, error) {
	rec, ok := t.state.campaigns[addr]
	if !ok {
		return nil, program.ErrCampaignNotFound
	}
	return &rec, nil
}

func (t *memTx) PutCampaign(ctx context.Context, rec *program.CampaignRecord) error {
	t.state.campaigns[rec.Address] = *rec
	return nil
}

func (t *memTx) Allocation(ctx context.Context, addr solana.PublicKey) (*program.UserAllocationRecord, error) {
	rec, ok := t.state.allocations[addr]
	if !ok {
		return nil, program.ErrAllocationNotFound
	}
	return &rec, nil
}

func (t *memTx) PutAllocation(ctx context.Context, rec *program.UserAllocationRecord) error {
	t.state.allocations[rec.Address] = *rec
	return nil
}

func (t *memTx) TokenAccount(ctx context.Context, addr solana.PublicKey) (*program.TokenAccount, error) {
	acc, ok := t.state.tokenAccounts[addr]
	if !ok {
		return nil, program.ErrAccountNotFound
	}
	return &acc, nil
}

func (t *memTx) TransferTokens(ctx context.Context, from, to, authority solana.PublicKey, amount uint64) error {
	src, ok := t.state.tokenAccounts[from]
	if !ok {
		return program.ErrAccountNotFound
	}
	dst, ok := t.state.tokenAccounts[to]
	if !ok {
		return program.ErrAccountNotFound
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
	src.Balance -= amount
	dst.Balance += amount
	t.state.tokenAccounts[from] = src
	t.state.tokenAccounts[to] = dst
	return nil
}

func (t *memTx) TransferLamports(ctx context.Context, from, to solana.PublicKey, amount uint64) error {
	if t.state.lamports[from] < amount {
		return program.ErrInsufficientFunds
	}
	t.state.lamports[from] -= amount
	t.state.lamports[to] += amount
	return nil
}

func (t *memTx) AppendEvent(ctx context.Context, ev program.Event) error {
	t.state.events = append(t.state.events, ev)
	return nil
}
