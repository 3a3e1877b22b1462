package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"meridian/internal/checkpoint"
	txcontext "meridian/pkg/platform/tx"
)

// PostgresStore persists checkpoints and histories. The ≥-lookup the sparse
// algorithm needs is an indexed ORDER BY ... LIMIT 1 over the primary key.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) querier(ctx context.Context) dbQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) CreateCheckpoint(ctx context.Context, createdAt time.Time, createdBy string) (checkpoint.Checkpoint, error) {
	// id = previous + 1 under the insert's own serialization: the aggregate
	// MAX is read and inserted in one statement, and the primary key rejects
	// a lost race.
	query := `
		INSERT INTO checkpoints (id, created_at, created_by)
		SELECT COALESCE(MAX(id), 0) + 1, $1, $2 FROM checkpoints
		RETURNING id
	`
	var id uint64
	if err := s.querier(ctx).QueryRowContext(ctx, query, createdAt, createdBy).Scan(&id); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("insert checkpoint: %w", err)
	}
	return checkpoint.Checkpoint{ID: id, CreatedAt: createdAt, CreatedBy: createdBy}, nil
}

func (s *PostgresStore) Latest(ctx context.Context) (uint64, error) {
	var latest uint64
	err := s.querier(ctx).QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM checkpoints`).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("query latest checkpoint: %w", err)
	}
	return latest, nil
}

func (s *PostgresStore) LastBalanceCheckpoint(ctx context.Context, account string) (uint64, bool, error) {
	var id uint64
	err := s.querier(ctx).QueryRowContext(ctx, `
		SELECT checkpoint_id FROM balance_history
		WHERE account = $1
		ORDER BY checkpoint_id DESC
		LIMIT 1
	`, account).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query last balance checkpoint: %w", err)
	}
	return id, true, nil
}

func (s *PostgresStore) AppendBalance(ctx context.Context, account string, entry checkpoint.HistoryEntry) error {
	_, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO balance_history (account, checkpoint_id, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (account, checkpoint_id) DO NOTHING
	`, account, entry.CheckpointID, int64(entry.Value))
	if err != nil {
		return fmt.Errorf("insert balance history: %w", err)
	}
	return nil
}

func (s *PostgresStore) BalanceAtOrAfter(ctx context.Context, account string, id uint64) (uint64, bool, error) {
	var value int64
	err := s.querier(ctx).QueryRowContext(ctx, `
		SELECT balance FROM balance_history
		WHERE account = $1 AND checkpoint_id >= $2
		ORDER BY checkpoint_id ASC
		LIMIT 1
	`, account, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query balance history: %w", err)
	}
	return uint64(value), true, nil
}

func (s *PostgresStore) LastSupplyCheckpoint(ctx context.Context) (uint64, bool, error) {
	var id uint64
	err := s.querier(ctx).QueryRowContext(ctx, `
		SELECT checkpoint_id FROM supply_history
		ORDER BY checkpoint_id DESC
		LIMIT 1
	`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query last supply checkpoint: %w", err)
	}
	return id, true, nil
}

func (s *PostgresStore) AppendSupply(ctx context.Context, entry checkpoint.HistoryEntry) error {
	_, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO supply_history (checkpoint_id, supply)
		VALUES ($1, $2)
		ON CONFLICT (checkpoint_id) DO NOTHING
	`, entry.CheckpointID, int64(entry.Value))
	if err != nil {
		return fmt.Errorf("insert supply history: %w", err)
	}
	return nil
}

func (s *PostgresStore) SupplyAtOrAfter(ctx context.Context, id uint64) (uint64, bool, error) {
	var value int64
	err := s.querier(ctx).QueryRowContext(ctx, `
		SELECT supply FROM supply_history
		WHERE checkpoint_id >= $1
		ORDER BY checkpoint_id ASC
		LIMIT 1
	`, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query supply history: %w", err)
	}
	return uint64(value), true, nil
}
