package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "meridian/pkg/platform/audit"
	txcontext "meridian/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table in the same transaction as the state
// change they record, and published to Kafka by the outbox worker. Kafka is
// the source of truth for the audit stream; audit_events is the queryable
// materialization.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	// Dividend-scoped events aggregate on the dividend so consumers can
	// partition the payout ledger per dividend.
	aggregateType := "platform"
	aggregateID := event.ID
	if event.DividendIndex > 0 {
		aggregateType = "dividend"
		aggregateID = fmt.Sprintf("%d", event.DividendIndex)
	} else if event.CheckpointID > 0 {
		aggregateType = "checkpoint"
		aggregateID = fmt.Sprintf("%d", event.CheckpointID)
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.New(),
		aggregateType,
		aggregateID,
		string(event.Action),
		payload,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// AppendWithID inserts an audit event into the audit_events table with a
// specific ID. Used by the Kafka consumer to materialize events for querying.
// Idempotent via ON CONFLICT DO NOTHING so redelivery is harmless.
func (s *Store) AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error {
	query := `
		INSERT INTO audit_events (
			id, timestamp, action, actor, account,
			dividend_index, checkpoint_id, currency, name,
			amount, gross, net, withheld, withholding_bps, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		eventID,
		event.Timestamp,
		string(event.Action),
		event.Actor,
		event.Account,
		event.DividendIndex,
		event.CheckpointID,
		event.Currency,
		event.Name,
		event.Amount,
		event.Gross,
		event.Net,
		event.Withheld,
		event.WithholdingBps,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByDividend returns all events recorded against one dividend, oldest first,
// which is the order needed to replay its payout ledger.
func (s *Store) ListByDividend(ctx context.Context, dividendIndex uint64) ([]audit.Event, error) {
	query := selectEvents + `
		WHERE dividend_index = $1
		ORDER BY timestamp ASC
	`
	rows, err := s.db.QueryContext(ctx, query, dividendIndex)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := selectEvents + `
		ORDER BY timestamp DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

const selectEvents = `
	SELECT id, timestamp, action, actor, account,
		   dividend_index, checkpoint_id, currency, name,
		   amount, gross, net, withheld, withholding_bps, request_id
	FROM audit_events
`

func (s *Store) scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event

	for rows.Next() {
		var (
			event  audit.Event
			action string
		)
		err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&action,
			&event.Actor,
			&event.Account,
			&event.DividendIndex,
			&event.CheckpointID,
			&event.Currency,
			&event.Name,
			&event.Amount,
			&event.Gross,
			&event.Net,
			&event.Withheld,
			&event.WithholdingBps,
			&event.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Action = audit.Action(action)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
