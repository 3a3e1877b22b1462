package funds

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Errors surfaced by the in-memory pool. The engine maps ErrInsufficient at
// escrow time to an invalid-amount domain error; ErrCannotReceive models a
// destination that rejects funds, which push settlement must skip.
var (
	ErrInsufficient  = errors.New("funds: insufficient balance")
	ErrCannotReceive = errors.New("funds: destination cannot receive funds")
)

// MemoryPool is the in-process implementation. Payer balances are funded via
// Deposit; tests use Reject to simulate destinations that bounce transfers.
type MemoryPool struct {
	mu       sync.Mutex
	balances map[accountKey]uint64
	escrow   map[uint64]escrowRow
	rejected map[string]bool
}

type accountKey struct {
	account  string
	currency string
}

type escrowRow struct {
	currency string
	amount   uint64
}

func NewMemoryPool() *MemoryPool {
	return &MemoryPool{
		balances: make(map[accountKey]uint64),
		escrow:   make(map[uint64]escrowRow),
		rejected: make(map[string]bool),
	}
}

// Deposit credits a payer account so it can escrow dividends.
func (p *MemoryPool) Deposit(account, currency string, amount uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[accountKey{account, currency}] += amount
}

// Reject makes every future payment to the account fail, modelling a
// destination that cannot receive funds.
func (p *MemoryPool) Reject(account string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected[account] = true
}

// Balance reports an account's spendable balance in a currency.
func (p *MemoryPool) Balance(account, currency string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[accountKey{account, currency}]
}

func (p *MemoryPool) Escrow(_ context.Context, payer string, dividendIndex uint64, currency string, amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := accountKey{payer, currency}
	if p.balances[key] < amount {
		return fmt.Errorf("%w: %s has %d %s, needs %d", ErrInsufficient, payer, p.balances[key], currency, amount)
	}
	if _, exists := p.escrow[dividendIndex]; exists {
		return fmt.Errorf("funds: dividend %d already escrowed", dividendIndex)
	}
	p.balances[key] -= amount
	p.escrow[dividendIndex] = escrowRow{currency: currency, amount: amount}
	return nil
}

func (p *MemoryPool) Pay(_ context.Context, dividendIndex uint64, to string, currency string, amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	row, ok := p.escrow[dividendIndex]
	if !ok {
		return fmt.Errorf("funds: dividend %d has no escrow", dividendIndex)
	}
	if row.currency != currency {
		return fmt.Errorf("funds: dividend %d escrowed in %s, not %s", dividendIndex, row.currency, currency)
	}
	if row.amount < amount {
		return fmt.Errorf("%w: escrow %d short of %d", ErrInsufficient, row.amount, amount)
	}
	if p.rejected[to] {
		return fmt.Errorf("%w: %s", ErrCannotReceive, to)
	}
	row.amount -= amount
	p.escrow[dividendIndex] = row
	p.balances[accountKey{to, currency}] += amount
	return nil
}

func (p *MemoryPool) Escrowed(_ context.Context, dividendIndex uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.escrow[dividendIndex].amount, nil
}
