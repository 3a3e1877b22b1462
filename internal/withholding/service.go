// Package withholding keeps the per-account tax withholding rates. Rates are
// expressed in basis points and apply to payments made after the rate is set;
// already-claimed dividends are never retroactively adjusted.
package withholding

import (
	"context"
	"log/slog"

	"meridian/internal/authz"
	"meridian/internal/platform/middleware"
	dErrors "meridian/pkg/domain-errors"
	"meridian/pkg/platform/audit"
)

// MaxRateBps is 100% expressed in basis points.
const MaxRateBps = 10_000

// Store persists the rate table. A missing account reads as rate 0.
type Store interface {
	Set(ctx context.Context, account string, bps uint32) error
	Rate(ctx context.Context, account string) (uint32, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store      Store
	authorizer authz.Authorizer
	logger     *slog.Logger
	publisher  AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func New(store Store, authorizer authz.Authorizer, opts ...Option) *Service {
	s := &Service{store: store, authorizer: authorizer}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set overwrites the withholding rate for each account. Accounts and rates
// are parallel slices; the whole batch is validated before any rate is
// written.
func (s *Service) Set(ctx context.Context, actor string, accounts []string, ratesBps []uint32) error {
	if !s.authorizer.Can(ctx, actor, authz.CapWithholdingSet) {
		return dErrors.New(dErrors.CodeUnauthorized, "actor may not set withholding rates")
	}
	if len(accounts) != len(ratesBps) {
		return dErrors.Newf(dErrors.CodeValidation, "got %d accounts but %d rates", len(accounts), len(ratesBps))
	}
	if len(accounts) == 0 {
		return dErrors.New(dErrors.CodeValidation, "no accounts given")
	}
	for i, account := range accounts {
		if account == "" {
			return dErrors.Newf(dErrors.CodeValidation, "empty account at position %d", i)
		}
		if ratesBps[i] > MaxRateBps {
			return dErrors.Newf(dErrors.CodeValidation, "rate %d bps for %s exceeds %d", ratesBps[i], account, MaxRateBps)
		}
	}
	for i, account := range accounts {
		if err := s.store.Set(ctx, account, ratesBps[i]); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store withholding rate")
		}
		s.logAudit(ctx, actor, account, ratesBps[i])
	}
	return nil
}

// Rate returns the current rate for an account, 0 when none was ever set.
func (s *Service) Rate(ctx context.Context, account string) (uint32, error) {
	bps, err := s.store.Rate(ctx, account)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read withholding rate")
	}
	return bps, nil
}

func (s *Service) logAudit(ctx context.Context, actor, account string, bps uint32) {
	event := audit.Event{
		Action:         audit.ActionWithholdingSet,
		Actor:          actor,
		Account:        account,
		WithholdingBps: bps,
	}
	if requestID := middleware.GetRequestID(ctx); requestID != "" {
		event.RequestID = requestID
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(event.Action),
			"event", string(event.Action),
			"actor", actor,
			"account", account,
			"rate_bps", bps,
			"log_type", "audit",
		)
	}
	if s.publisher == nil {
		return
	}
	_ = s.publisher.Emit(ctx, event)
}
