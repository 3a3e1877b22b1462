package audit

import "context"

// Appender is the write half of event persistence. Sinks that only forward
// events (Kafka) implement just this.
type Appender interface {
	Append(ctx context.Context, event Event) error
}

// Store persists audit events and supports the queries the operator API
// needs. Implementations must be append-only; events are never updated or
// deleted.
type Store interface {
	Appender
	ListByDividend(ctx context.Context, dividendIndex uint64) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
