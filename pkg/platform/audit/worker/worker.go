package worker

import (
	"context"
	"log/slog"

	audit "meridian/pkg/platform/audit"
)

// Worker drains audit events from a channel into a secondary sink (Kafka).
// The primary store write happens synchronously in the publisher; the worker
// exists so a slow broker never blocks settlement calls.
type Worker struct {
	sink   audit.Appender
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func New(sink audit.Appender, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

// Run consumes until the context is cancelled. Sink failures are logged and
// the event is dropped from the channel path; the synchronous store write has
// already succeeded, so no audit data is lost, only stream delivery delayed.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.sink.Append(ctx, event); err != nil && w.logger != nil {
				w.logger.ErrorContext(ctx, "audit sink append failed",
					"event_id", event.ID,
					"action", event.Action,
					"error", err,
				)
			}
		}
	}
}
