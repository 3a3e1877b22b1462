// Package ledger is the in-process token ledger: account balances, total
// supply, and the transfer/issue/redeem mutations. Every mutation consults
// the eligibility gate, freezes pre-mutation values into the checkpoint
// history, and records first-seen holders in the investor registry before it
// applies.
package ledger

import (
	"context"
	"log/slog"

	"meridian/internal/investor"
	dErrors "meridian/pkg/domain-errors"
)

// Gate answers whether a movement of tokens between two accounts is
// permitted. The empty string stands for the mint/burn side of an issue or
// redeem.
type Gate interface {
	CanTransfer(ctx context.Context, from, to string) bool
}

// AllowAllGate permits every transfer.
type AllowAllGate struct{}

func (AllowAllGate) CanTransfer(context.Context, string, string) bool { return true }

// CheckpointHooks freeze pre-mutation values into the historical-balance
// store. They must fire before the mutation is applied.
type CheckpointHooks interface {
	NotifyBalanceChange(ctx context.Context, account string, balanceBefore uint64) error
	NotifySupplyChange(ctx context.Context, supplyBefore uint64) error
}

// Store holds live balances and the supply aggregate.
type Store interface {
	BalanceOf(ctx context.Context, account string) (uint64, error)
	TotalSupply(ctx context.Context) (uint64, error)
	Credit(ctx context.Context, account string, amount uint64) error
	// Debit fails with sentinel.ErrInvalidState when the balance is short.
	Debit(ctx context.Context, account string, amount uint64) error
	SetSupply(ctx context.Context, supply uint64) error
}

type Service struct {
	store    Store
	gate     Gate
	hooks    CheckpointHooks
	registry investor.Registry
	logger   *slog.Logger

	mutate chan struct{}
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(store Store, gate Gate, hooks CheckpointHooks, registry investor.Registry, opts ...Option) *Service {
	s := &Service{
		store:    store,
		gate:     gate,
		hooks:    hooks,
		registry: registry,
		mutate:   make(chan struct{}, 1),
	}
	s.mutate <- struct{}{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lock serializes mutations so the hook-then-apply sequence is atomic with
// respect to other mutations. Reads go straight to the store.
func (s *Service) lock(ctx context.Context) error {
	select {
	case <-s.mutate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) unlock() { s.mutate <- struct{}{} }

func (s *Service) BalanceOf(ctx context.Context, account string) (uint64, error) {
	return s.store.BalanceOf(ctx, account)
}

func (s *Service) TotalSupply(ctx context.Context) (uint64, error) {
	return s.store.TotalSupply(ctx)
}

// Transfer moves amount between two holder accounts.
func (s *Service) Transfer(ctx context.Context, from, to string, amount uint64) error {
	if amount == 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "transfer amount must be positive")
	}
	if !s.gate.CanTransfer(ctx, from, to) {
		return dErrors.Newf(dErrors.CodeForbidden, "transfer from %s to %s is not permitted", from, to)
	}
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	fromBefore, err := s.store.BalanceOf(ctx, from)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read sender balance")
	}
	if fromBefore < amount {
		return dErrors.Newf(dErrors.CodeInvalidAmount, "%s holds %d, cannot send %d", from, fromBefore, amount)
	}
	toBefore, err := s.store.BalanceOf(ctx, to)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read recipient balance")
	}
	if err := s.hooks.NotifyBalanceChange(ctx, from, fromBefore); err != nil {
		return err
	}
	if err := s.hooks.NotifyBalanceChange(ctx, to, toBefore); err != nil {
		return err
	}
	if err := s.store.Debit(ctx, from, amount); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to debit sender")
	}
	if err := s.store.Credit(ctx, to, amount); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to credit recipient")
	}
	if err := s.registry.Record(ctx, to); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record holder")
	}
	s.log(ctx, "tokens_transferred", "from", from, "to", to, "amount", amount)
	return nil
}

// Issue mints amount to an account, growing total supply.
func (s *Service) Issue(ctx context.Context, to string, amount uint64) error {
	if amount == 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "issue amount must be positive")
	}
	if !s.gate.CanTransfer(ctx, "", to) {
		return dErrors.Newf(dErrors.CodeForbidden, "issuance to %s is not permitted", to)
	}
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	toBefore, err := s.store.BalanceOf(ctx, to)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read recipient balance")
	}
	supplyBefore, err := s.store.TotalSupply(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read total supply")
	}
	if err := s.hooks.NotifyBalanceChange(ctx, to, toBefore); err != nil {
		return err
	}
	if err := s.hooks.NotifySupplyChange(ctx, supplyBefore); err != nil {
		return err
	}
	if err := s.store.Credit(ctx, to, amount); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to credit recipient")
	}
	if err := s.store.SetSupply(ctx, supplyBefore+amount); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update supply")
	}
	if err := s.registry.Record(ctx, to); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record holder")
	}
	s.log(ctx, "tokens_issued", "to", to, "amount", amount)
	return nil
}

// Redeem burns amount from an account, shrinking total supply.
func (s *Service) Redeem(ctx context.Context, from string, amount uint64) error {
	if amount == 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "redeem amount must be positive")
	}
	if !s.gate.CanTransfer(ctx, from, "") {
		return dErrors.Newf(dErrors.CodeForbidden, "redemption from %s is not permitted", from)
	}
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	fromBefore, err := s.store.BalanceOf(ctx, from)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read holder balance")
	}
	if fromBefore < amount {
		return dErrors.Newf(dErrors.CodeInvalidAmount, "%s holds %d, cannot redeem %d", from, fromBefore, amount)
	}
	supplyBefore, err := s.store.TotalSupply(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read total supply")
	}
	if err := s.hooks.NotifyBalanceChange(ctx, from, fromBefore); err != nil {
		return err
	}
	if err := s.hooks.NotifySupplyChange(ctx, supplyBefore); err != nil {
		return err
	}
	if err := s.store.Debit(ctx, from, amount); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to debit holder")
	}
	if err := s.store.SetSupply(ctx, supplyBefore-amount); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update supply")
	}
	s.log(ctx, "tokens_redeemed", "from", from, "amount", amount)
	return nil
}

func (s *Service) log(ctx context.Context, event string, args ...any) {
	if s.logger == nil {
		return
	}
	args = append([]any{"event", event}, args...)
	s.logger.InfoContext(ctx, event, args...)
}
