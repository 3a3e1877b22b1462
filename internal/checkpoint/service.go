package checkpoint

import (
	"context"
	"log/slog"
	"time"

	"meridian/internal/authz"
	"meridian/internal/checkpoint/metrics"
	"meridian/internal/platform/middleware"
	dErrors "meridian/pkg/domain-errors"
	"meridian/pkg/platform/audit"
)

// Store persists checkpoints and the sparse value histories. The ≥-lookup is
// the store's problem (binary search in memory, an indexed ORDER BY in SQL);
// the service owns the lazy-snapshot protocol on top of it.
type Store interface {
	// CreateCheckpoint appends a checkpoint with id = previous + 1.
	CreateCheckpoint(ctx context.Context, createdAt time.Time, createdBy string) (Checkpoint, error)
	// Latest returns the highest created id, 0 when none exist.
	Latest(ctx context.Context) (uint64, error)

	// LastBalanceCheckpoint returns the checkpoint id of the account's most
	// recent history entry; ok is false when the account has no history.
	LastBalanceCheckpoint(ctx context.Context, account string) (uint64, bool, error)
	AppendBalance(ctx context.Context, account string, entry HistoryEntry) error
	// BalanceAtOrAfter returns the value of the first entry with
	// checkpoint id ≥ id; ok is false when no such entry exists.
	BalanceAtOrAfter(ctx context.Context, account string, id uint64) (uint64, bool, error)

	LastSupplyCheckpoint(ctx context.Context) (uint64, bool, error)
	AppendSupply(ctx context.Context, entry HistoryEntry) error
	SupplyAtOrAfter(ctx context.Context, id uint64) (uint64, bool, error)
}

// CurrentSource reads live balances from the token ledger, used when a query
// falls past the last recorded history entry (nothing changed since the
// checkpoint, so the live value is the historical one).
type CurrentSource interface {
	BalanceOf(ctx context.Context, account string) (uint64, error)
	TotalSupply(ctx context.Context) (uint64, error)
}

// AuditPublisher is the slice of the audit pipeline this service needs.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the checkpoint store facade: creation, the pre-mutation hooks,
// and the point-in-time queries.
type Service struct {
	store      Store
	current    CurrentSource
	authorizer authz.Authorizer
	logger     *slog.Logger
	publisher  AuditPublisher
	metrics    *metrics.Metrics
	now        func() time.Time
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

func New(store Store, current CurrentSource, authorizer authz.Authorizer, opts ...Option) *Service {
	s := &Service{
		store:      store,
		current:    current,
		authorizer: authorizer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create appends a new checkpoint. Capability-gated; dividend creation calls
// CreateInternal instead, which is already inside a gated operation.
func (s *Service) Create(ctx context.Context, actor string) (Checkpoint, error) {
	if !s.authorizer.Can(ctx, actor, authz.CapCheckpointCreate) {
		return Checkpoint{}, dErrors.New(dErrors.CodeUnauthorized, "actor may not create checkpoints")
	}
	return s.CreateInternal(ctx, actor)
}

// CreateInternal appends a checkpoint without a capability check.
func (s *Service) CreateInternal(ctx context.Context, actor string) (Checkpoint, error) {
	cp, err := s.store.CreateCheckpoint(ctx, s.now(), actor)
	if err != nil {
		return Checkpoint{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create checkpoint")
	}
	if s.metrics != nil {
		s.metrics.CheckpointsCreated.Inc()
	}
	s.logAudit(ctx, audit.Event{
		Action:       audit.ActionCheckpointCreated,
		Actor:        actor,
		CheckpointID: cp.ID,
	})
	return cp, nil
}

// Latest returns the most recent checkpoint id, 0 when none exist.
func (s *Service) Latest(ctx context.Context) (uint64, error) {
	latest, err := s.store.Latest(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read latest checkpoint")
	}
	return latest, nil
}

// NotifyBalanceChange must be called by the ledger immediately before any
// balance mutation, with the pre-mutation balance. If the account has no
// entry at the latest checkpoint yet, the pre-change value is frozen there:
// no change can have happened between the checkpoint's creation and this
// call, otherwise an entry would already exist.
func (s *Service) NotifyBalanceChange(ctx context.Context, account string, balanceBefore uint64) error {
	latest, err := s.store.Latest(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read latest checkpoint")
	}
	if latest == 0 {
		return nil
	}
	last, ok, err := s.store.LastBalanceCheckpoint(ctx, account)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read balance history")
	}
	if ok && last >= latest {
		return nil
	}
	if err := s.store.AppendBalance(ctx, account, HistoryEntry{CheckpointID: latest, Value: balanceBefore}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append balance history")
	}
	return nil
}

// NotifySupplyChange is the aggregate twin of NotifyBalanceChange, called
// before every mint and burn with the pre-mutation total supply.
func (s *Service) NotifySupplyChange(ctx context.Context, supplyBefore uint64) error {
	latest, err := s.store.Latest(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read latest checkpoint")
	}
	if latest == 0 {
		return nil
	}
	last, ok, err := s.store.LastSupplyCheckpoint(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read supply history")
	}
	if ok && last >= latest {
		return nil
	}
	if err := s.store.AppendSupply(ctx, HistoryEntry{CheckpointID: latest, Value: supplyBefore}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append supply history")
	}
	return nil
}

// BalanceOfAt answers "what was the account's balance at checkpoint id".
// The first history entry at or after id holds the answer; if none exists the
// balance has not changed since, so the live balance is returned.
func (s *Service) BalanceOfAt(ctx context.Context, account string, id uint64) (uint64, error) {
	start := s.now()
	defer s.observeQuery(start)

	if err := s.validateID(ctx, id); err != nil {
		return 0, err
	}
	value, ok, err := s.store.BalanceAtOrAfter(ctx, account, id)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query balance history")
	}
	if ok {
		return value, nil
	}
	current, err := s.current.BalanceOf(ctx, account)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read current balance")
	}
	return current, nil
}

// TotalSupplyAt is BalanceOfAt over the supply aggregate.
func (s *Service) TotalSupplyAt(ctx context.Context, id uint64) (uint64, error) {
	start := s.now()
	defer s.observeQuery(start)

	if err := s.validateID(ctx, id); err != nil {
		return 0, err
	}
	value, ok, err := s.store.SupplyAtOrAfter(ctx, id)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query supply history")
	}
	if ok {
		return value, nil
	}
	current, err := s.current.TotalSupply(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read current supply")
	}
	return current, nil
}

func (s *Service) validateID(ctx context.Context, id uint64) error {
	if id == 0 {
		return dErrors.New(dErrors.CodeInvalidCheckpoint, "checkpoint id 0 does not exist")
	}
	latest, err := s.store.Latest(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read latest checkpoint")
	}
	if id > latest {
		return dErrors.Newf(dErrors.CodeInvalidCheckpoint, "checkpoint %d has not been created (latest is %d)", id, latest)
	}
	return nil
}

func (s *Service) observeQuery(start time.Time) {
	if s.metrics != nil {
		s.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}
}

func (s *Service) logAudit(ctx context.Context, event audit.Event) {
	if requestID := middleware.GetRequestID(ctx); requestID != "" {
		event.RequestID = requestID
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(event.Action),
			"event", string(event.Action),
			"checkpoint_id", event.CheckpointID,
			"actor", event.Actor,
			"log_type", "audit",
		)
	}
	if s.publisher == nil {
		return
	}
	_ = s.publisher.Emit(ctx, event)
}
