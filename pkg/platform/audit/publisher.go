package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Publisher captures structured audit events. Emission is fail-closed: if the
// event cannot be persisted the caller must fail its operation, because the
// payout ledger is reconstructed from this log.
type Publisher struct {
	store  Store
	stream chan<- Event
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithStream additionally forwards each persisted event to a channel, usually
// drained by the Kafka worker. Forwarding is best-effort and non-blocking;
// the synchronous store write is the durability guarantee.
func WithStream(stream chan<- Event) Option {
	return func(p *Publisher) {
		p.stream = stream
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	if p.stream != nil {
		select {
		case p.stream <- event:
		default:
		}
	}
	return nil
}

func (p *Publisher) ListByDividend(ctx context.Context, dividendIndex uint64) ([]Event, error) {
	return p.store.ListByDividend(ctx, dividendIndex)
}
