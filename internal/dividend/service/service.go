// Package service implements the dividend distribution engine: creation
// against a pinned checkpoint, pro-rata payment computation, pull and push
// settlement, withholding, and reclaim of expired dividends.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"meridian/internal/authz"
	"meridian/internal/checkpoint"
	"meridian/internal/dividend/metrics"
	"meridian/internal/dividend/models"
	"meridian/internal/funds"
	"meridian/internal/investor"
	"meridian/internal/platform/middleware"
	"meridian/internal/withholding"
	dErrors "meridian/pkg/domain-errors"
	"meridian/pkg/platform/audit"
	platformstrings "meridian/pkg/platform/strings"
	"meridian/pkg/platform/sentinel"
)

// Store persists dividend records and their claim accounting.
type Store interface {
	Create(ctx context.Context, d *models.Dividend) (uint64, error)
	Delete(ctx context.Context, index uint64) error
	Get(ctx context.Context, index uint64) (*models.Dividend, error)
	List(ctx context.Context) ([]*models.Dividend, error)
	Count(ctx context.Context) (uint64, error)
	UpdateDates(ctx context.Context, index uint64, maturity, expiry time.Time) error
	ApplyClaim(ctx context.Context, index uint64, gross, withheld uint64) error
	WithdrawWithheld(ctx context.Context, index uint64) (uint64, error)
	MarkReclaimed(ctx context.Context, index uint64) error
}

// ClaimStore is the per-(dividend, account) claimed-flag CAS. TryClaim must
// be atomic across instances; Release undoes a mark whose payment failed.
type ClaimStore interface {
	TryClaim(ctx context.Context, dividendIndex uint64, account string, gross, withheld uint64) (bool, error)
	Claimed(ctx context.Context, dividendIndex uint64, account string) (bool, error)
	Release(ctx context.Context, dividendIndex uint64, account string) error
}

// Checkpoints is the slice of the checkpoint module the engine needs:
// historical balances at the pinned checkpoint, plus creation when a dividend
// is declared before any checkpoint exists.
type Checkpoints interface {
	Latest(ctx context.Context) (uint64, error)
	CreateInternal(ctx context.Context, actor string) (checkpoint.Checkpoint, error)
	BalanceOfAt(ctx context.Context, account string, id uint64) (uint64, error)
	TotalSupplyAt(ctx context.Context, id uint64) (uint64, error)
}

// Rates reads the live withholding rate for an account.
type Rates interface {
	Rate(ctx context.Context, account string) (uint32, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Payment is the outcome of settling one holder.
type Payment struct {
	Account  string `json:"account"`
	Gross    uint64 `json:"gross"`
	Withheld uint64 `json:"withheld"`
	Net      uint64 `json:"net"`
}

// BatchResult summarizes a push batch. Failed holders keep no claim mark and
// stay retryable.
type BatchResult struct {
	Processed       int       `json:"processed"`
	Paid            []Payment `json:"paid"`
	SkippedClaimed  []string  `json:"skipped_claimed,omitempty"`
	SkippedExcluded []string  `json:"skipped_excluded,omitempty"`
	Failed          []string  `json:"failed,omitempty"`
	TotalGross      uint64    `json:"total_gross"`
	TotalWithheld   uint64    `json:"total_withheld"`
	TotalNet        uint64    `json:"total_net"`
}

// CreateParams declares a dividend. CheckpointID 0 pins the latest
// checkpoint, creating the first one if none exists yet.
type CreateParams struct {
	Currency     string
	Name         string
	TotalAmount  uint64
	Maturity     time.Time
	Expiry       time.Time
	Treasury     string
	Payer        string
	CheckpointID uint64
	Exclusions   []string
}

type Service struct {
	store       Store
	claims      ClaimStore
	checkpoints Checkpoints
	rates       Rates
	pool        funds.Pool
	registry    investor.Registry
	authorizer  authz.Authorizer

	logger    *slog.Logger
	publisher AuditPublisher
	metrics   *metrics.Metrics
	now       func() time.Time

	exclusionLimit int

	// locks serializes settlement per dividend so compute and transfer see a
	// consistent claim state.
	locksMu sync.Mutex
	locks   map[uint64]*sync.Mutex
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithExclusionLimit overrides the default cap on excluded addresses.
func WithExclusionLimit(limit int) Option {
	return func(s *Service) { s.exclusionLimit = limit }
}

const defaultExclusionLimit = 150

func New(store Store, claims ClaimStore, checkpoints Checkpoints, rates Rates, pool funds.Pool, registry investor.Registry, authorizer authz.Authorizer, opts ...Option) *Service {
	s := &Service{
		store:          store,
		claims:         claims,
		checkpoints:    checkpoints,
		rates:          rates,
		pool:           pool,
		registry:       registry,
		authorizer:     authorizer,
		now:            time.Now,
		exclusionLimit: defaultExclusionLimit,
		locks:          make(map[uint64]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) lockDividend(index uint64) func() {
	s.locksMu.Lock()
	lock, ok := s.locks[index]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[index] = lock
	}
	s.locksMu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// Create declares a dividend, escrows its funds, and pins it to a
// checkpoint. The escrow and the record are created together; if escrow
// fails the record is removed.
func (s *Service) Create(ctx context.Context, actor string, p CreateParams) (*models.Dividend, error) {
	if !s.authorizer.Can(ctx, actor, authz.CapDividendCreate) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "actor may not create dividends")
	}
	checkpointID, err := s.resolveCheckpoint(ctx, actor, p.CheckpointID)
	if err != nil {
		return nil, err
	}
	d, err := models.NewDividend(0, checkpointID, p.Currency, p.Name, p.TotalAmount, p.Maturity, p.Expiry, p.Treasury, p.Exclusions, s.exclusionLimit, s.now())
	if err != nil {
		return nil, err
	}
	index, err := s.store.Create(ctx, d)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store dividend")
	}
	d.Index = index

	if err := s.pool.Escrow(ctx, p.Payer, index, p.Currency, p.TotalAmount); err != nil {
		if delErr := s.store.Delete(ctx, index); delErr != nil {
			s.log(ctx, "dividend_escrow_rollback_failed", "dividend_index", index, "error", delErr)
		}
		if errors.Is(err, funds.ErrInsufficient) {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidAmount, "payer cannot fund the dividend")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to escrow dividend funds")
	}

	if s.metrics != nil {
		s.metrics.DividendsCreated.Inc()
	}
	s.logAudit(ctx, audit.Event{
		Action:        audit.ActionDividendCreated,
		Actor:         actor,
		DividendIndex: index,
		CheckpointID:  checkpointID,
		Currency:      p.Currency,
		Name:          p.Name,
		Amount:        p.TotalAmount,
	})
	return d, nil
}

func (s *Service) resolveCheckpoint(ctx context.Context, actor string, requested uint64) (uint64, error) {
	latest, err := s.checkpoints.Latest(ctx)
	if err != nil {
		return 0, err
	}
	if requested == 0 {
		if latest > 0 {
			return latest, nil
		}
		cp, err := s.checkpoints.CreateInternal(ctx, actor)
		if err != nil {
			return 0, err
		}
		return cp.ID, nil
	}
	if requested > latest {
		return 0, dErrors.Newf(dErrors.CodeInvalidCheckpoint, "checkpoint %d has not been created (latest is %d)", requested, latest)
	}
	return requested, nil
}

// UpdateDates moves a dividend's payment window while it has not expired.
func (s *Service) UpdateDates(ctx context.Context, actor string, index uint64, maturity, expiry time.Time) (*models.Dividend, error) {
	if !s.authorizer.Can(ctx, actor, authz.CapDividendUpdate) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "actor may not update dividend dates")
	}
	unlock := s.lockDividend(index)
	defer unlock()

	d, err := s.load(ctx, index)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := d.CanUpdateDates(now); err != nil {
		return nil, err
	}
	if err := d.ApplyDates(maturity, expiry, now); err != nil {
		return nil, err
	}
	if err := s.store.UpdateDates(ctx, index, maturity, expiry); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update dividend dates")
	}
	s.logAudit(ctx, audit.Event{
		Action:        audit.ActionDividendDatesUpdated,
		Actor:         actor,
		DividendIndex: index,
	})
	return d, nil
}

// Get returns a dividend by index.
func (s *Service) Get(ctx context.Context, index uint64) (*models.Dividend, error) {
	return s.load(ctx, index)
}

// List returns all dividends in index order.
func (s *Service) List(ctx context.Context) ([]*models.Dividend, error) {
	dividends, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list dividends")
	}
	return dividends, nil
}

// Calculate previews the payment split for a holder without settling. An
// excluded or already-paid holder gets (0, 0).
func (s *Service) Calculate(ctx context.Context, index uint64, account string) (gross, withheld uint64, err error) {
	d, err := s.load(ctx, index)
	if err != nil {
		return 0, 0, err
	}
	if d.IsExcluded(account) {
		return 0, 0, nil
	}
	claimed, err := s.claims.Claimed(ctx, index, account)
	if err != nil {
		return 0, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read claim state")
	}
	if claimed {
		return 0, 0, nil
	}
	return s.compute(ctx, d, account)
}

// compute derives the pro-rata split: gross is the holder's checkpoint
// balance share of the total, truncating; withheld applies the live rate.
// The products run through big.Int so amount * balance cannot overflow.
func (s *Service) compute(ctx context.Context, d *models.Dividend, account string) (gross, withheld uint64, err error) {
	balance, err := s.checkpoints.BalanceOfAt(ctx, account, d.CheckpointID)
	if err != nil {
		return 0, 0, err
	}
	supply, err := s.checkpoints.TotalSupplyAt(ctx, d.CheckpointID)
	if err != nil {
		return 0, 0, err
	}
	if balance == 0 || supply == 0 {
		return 0, 0, nil
	}
	grossBig := new(big.Int).Mul(new(big.Int).SetUint64(balance), new(big.Int).SetUint64(d.TotalAmount))
	grossBig.Div(grossBig, new(big.Int).SetUint64(supply))
	gross = grossBig.Uint64()

	bps, err := s.rates.Rate(ctx, account)
	if err != nil {
		return 0, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read withholding rate")
	}
	if bps > 0 {
		withheldBig := new(big.Int).Mul(new(big.Int).SetUint64(gross), new(big.Int).SetUint64(uint64(bps)))
		withheldBig.Div(withheldBig, big.NewInt(withholding.MaxRateBps))
		withheld = withheldBig.Uint64()
	}
	return gross, withheld, nil
}

// Pull settles the caller's own share of a payable dividend.
func (s *Service) Pull(ctx context.Context, caller string, index uint64) (Payment, error) {
	unlock := s.lockDividend(index)
	defer unlock()

	d, err := s.load(ctx, index)
	if err != nil {
		return Payment{}, err
	}
	if err := d.CanClaim(s.now()); err != nil {
		return Payment{}, err
	}
	if d.IsExcluded(caller) {
		return Payment{}, dErrors.Newf(dErrors.CodeExcluded, "%s is excluded from dividend %d", caller, index)
	}
	payment, err := s.settle(ctx, d, caller, "pull")
	if err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// settle runs the claim CAS, moves the net amount out of escrow, and rolls
// the dividend's claim accounting forward. A failed transfer releases the
// claim mark so the holder stays payable.
func (s *Service) settle(ctx context.Context, d *models.Dividend, account, mode string) (Payment, error) {
	start := s.now()
	gross, withheld, err := s.compute(ctx, d, account)
	if err != nil {
		return Payment{}, err
	}
	ok, err := s.claims.TryClaim(ctx, d.Index, account, gross, withheld)
	if err != nil {
		return Payment{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark claim")
	}
	if !ok {
		return Payment{}, dErrors.Newf(dErrors.CodeAlreadyClaimed, "%s already claimed dividend %d", account, d.Index)
	}
	net := gross - withheld
	if net > 0 {
		if err := s.pool.Pay(ctx, d.Index, account, d.Currency, net); err != nil {
			if relErr := s.claims.Release(ctx, d.Index, account); relErr != nil {
				s.log(ctx, "claim_release_failed", "dividend_index", d.Index, "account", account, "error", relErr)
			}
			return Payment{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to transfer dividend payment")
		}
	}
	if gross > 0 {
		if err := s.store.ApplyClaim(ctx, d.Index, gross, withheld); err != nil {
			return Payment{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record claim")
		}
		if applyErr := d.ApplyClaim(gross, withheld); applyErr != nil {
			s.log(ctx, "claim_accounting_drift", "dividend_index", d.Index, "error", applyErr)
		}
	}
	if s.metrics != nil {
		s.metrics.Payments.WithLabelValues(mode).Inc()
		s.metrics.PaymentDuration.Observe(s.now().Sub(start).Seconds())
	}
	payment := Payment{Account: account, Gross: gross, Withheld: withheld, Net: net}
	if err := s.emitPayment(ctx, d, payment); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// Push settles an inclusive range of registry indexes on behalf of holders.
// Individual transfer failures are skipped, not fatal; those holders remain
// unclaimed and retryable.
func (s *Service) Push(ctx context.Context, actor string, index uint64, start, end int) (*BatchResult, error) {
	if !s.authorizer.Can(ctx, actor, authz.CapDividendPush) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "actor may not push dividends")
	}
	count, err := s.registry.Count(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count holders")
	}
	if start < 0 || start > end || end >= count {
		return nil, dErrors.Newf(dErrors.CodeInvalidRange, "range [%d, %d] outside registry of %d holders", start, end, count)
	}
	accounts, err := s.registry.Range(ctx, start, end)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read holder range")
	}
	return s.pushAccounts(ctx, actor, index, accounts)
}

// PushToAddresses settles an explicit list of holders.
func (s *Service) PushToAddresses(ctx context.Context, actor string, index uint64, accounts []string) (*BatchResult, error) {
	if !s.authorizer.Can(ctx, actor, authz.CapDividendPush) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "actor may not push dividends")
	}
	accounts = platformstrings.DedupeAndTrim(accounts)
	if len(accounts) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "no addresses given")
	}
	return s.pushAccounts(ctx, actor, index, accounts)
}

func (s *Service) pushAccounts(ctx context.Context, actor string, index uint64, accounts []string) (*BatchResult, error) {
	unlock := s.lockDividend(index)
	defer unlock()

	d, err := s.load(ctx, index)
	if err != nil {
		return nil, err
	}
	if err := d.CanClaim(s.now()); err != nil {
		return nil, err
	}

	result := &BatchResult{Processed: len(accounts)}
	for _, account := range accounts {
		if d.IsExcluded(account) {
			result.SkippedExcluded = append(result.SkippedExcluded, account)
			continue
		}
		claimed, err := s.claims.Claimed(ctx, index, account)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read claim state")
		}
		if claimed {
			result.SkippedClaimed = append(result.SkippedClaimed, account)
			continue
		}
		payment, err := s.settle(ctx, d, account, "push")
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeAlreadyClaimed) {
				result.SkippedClaimed = append(result.SkippedClaimed, account)
				continue
			}
			s.log(ctx, "push_payment_failed", "dividend_index", index, "account", account, "error", err)
			result.Failed = append(result.Failed, account)
			continue
		}
		result.Paid = append(result.Paid, payment)
		result.TotalGross += payment.Gross
		result.TotalWithheld += payment.Withheld
		result.TotalNet += payment.Net
	}
	if s.metrics != nil {
		s.metrics.PushBatchSize.Observe(float64(result.Processed))
	}
	s.logAudit(ctx, audit.Event{
		Action:        audit.ActionDividendPushBatch,
		Actor:         actor,
		DividendIndex: index,
		Gross:         result.TotalGross,
		Net:           result.TotalNet,
		Withheld:      result.TotalWithheld,
	})
	return result, nil
}

// Reclaim sweeps the unclaimed remainder of an expired dividend back to the
// treasury. Withheld-but-unwithdrawn funds stay in escrow for withdrawal.
func (s *Service) Reclaim(ctx context.Context, actor string, index uint64) (uint64, error) {
	if !s.authorizer.Can(ctx, actor, authz.CapDividendReclaim) {
		return 0, dErrors.New(dErrors.CodeUnauthorized, "actor may not reclaim dividends")
	}
	unlock := s.lockDividend(index)
	defer unlock()

	d, err := s.load(ctx, index)
	if err != nil {
		return 0, err
	}
	if err := d.CanReclaim(s.now()); err != nil {
		return 0, err
	}
	swept := d.ApplyReclaim()
	if swept > 0 {
		if err := s.pool.Pay(ctx, index, d.Treasury, d.Currency, swept); err != nil {
			return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to transfer reclaimed funds")
		}
	}
	if err := s.store.MarkReclaimed(ctx, index); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return 0, dErrors.Newf(dErrors.CodeAlreadyReclaimed, "dividend %d was already reclaimed", index)
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark dividend reclaimed")
	}
	if s.metrics != nil {
		s.metrics.Reclaims.Inc()
	}
	if err := s.emitAudit(ctx, audit.Event{
		Action:        audit.ActionDividendReclaimed,
		Actor:         actor,
		DividendIndex: index,
		Currency:      d.Currency,
		Amount:        swept,
	}); err != nil {
		return 0, err
	}
	return swept, nil
}

// WithdrawWithholding moves a dividend's accumulated withheld pool to the
// treasury. Withdrawing an empty pool is a no-op.
func (s *Service) WithdrawWithholding(ctx context.Context, actor string, index uint64) (uint64, error) {
	if !s.authorizer.Can(ctx, actor, authz.CapWithholdingWithdraw) {
		return 0, dErrors.New(dErrors.CodeUnauthorized, "actor may not withdraw withheld funds")
	}
	unlock := s.lockDividend(index)
	defer unlock()

	d, err := s.load(ctx, index)
	if err != nil {
		return 0, err
	}
	if d.Withheld == 0 {
		return 0, nil
	}
	if err := s.pool.Pay(ctx, index, d.Treasury, d.Currency, d.Withheld); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to transfer withheld funds")
	}
	withdrawn, err := s.store.WithdrawWithheld(ctx, index)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to zero withheld pool")
	}
	if err := s.emitAudit(ctx, audit.Event{
		Action:        audit.ActionWithholdingWithdrawn,
		Actor:         actor,
		DividendIndex: index,
		Currency:      d.Currency,
		Amount:        withdrawn,
	}); err != nil {
		return 0, err
	}
	return withdrawn, nil
}

func (s *Service) load(ctx context.Context, index uint64) (*models.Dividend, error) {
	d, err := s.store.Get(ctx, index)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "dividend %d does not exist", index)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load dividend")
	}
	return d, nil
}

// emitPayment records a payment in the audit trail. Payments are the
// money-moving events, so a failed append surfaces as an error rather than a
// log line; the payment itself has already settled.
func (s *Service) emitPayment(ctx context.Context, d *models.Dividend, p Payment) error {
	event := audit.Event{
		Action:        audit.ActionDividendPayment,
		Account:       p.Account,
		DividendIndex: d.Index,
		CheckpointID:  d.CheckpointID,
		Currency:      d.Currency,
		Gross:         p.Gross,
		Net:           p.Net,
		Withheld:      p.Withheld,
	}
	return s.emitAudit(ctx, event)
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) error {
	if requestID := middleware.GetRequestID(ctx); requestID != "" {
		event.RequestID = requestID
	}
	s.logEvent(ctx, event)
	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

// logAudit is the best-effort variant for events that do not move money.
func (s *Service) logAudit(ctx context.Context, event audit.Event) {
	if requestID := middleware.GetRequestID(ctx); requestID != "" {
		event.RequestID = requestID
	}
	s.logEvent(ctx, event)
	if s.publisher == nil {
		return
	}
	_ = s.publisher.Emit(ctx, event)
}

func (s *Service) logEvent(ctx context.Context, event audit.Event) {
	if s.logger == nil {
		return
	}
	s.logger.InfoContext(ctx, string(event.Action),
		"event", string(event.Action),
		"dividend_index", event.DividendIndex,
		"account", event.Account,
		"actor", event.Actor,
		"amount", event.Amount,
		"log_type", "audit",
	)
}

func (s *Service) log(ctx context.Context, msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.WarnContext(ctx, msg, args...)
}
