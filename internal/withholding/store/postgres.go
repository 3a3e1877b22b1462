package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	txcontext "meridian/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) execer(ctx context.Context) interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
} {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Set(ctx context.Context, account string, bps uint32) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO withholding_rates (account, rate_bps, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account) DO UPDATE SET rate_bps = EXCLUDED.rate_bps, updated_at = NOW()
	`, account, bps)
	if err != nil {
		return fmt.Errorf("upsert withholding rate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Rate(ctx context.Context, account string) (uint32, error) {
	var bps uint32
	err := s.db.QueryRowContext(ctx, `
		SELECT rate_bps FROM withholding_rates WHERE account = $1
	`, account).Scan(&bps)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query withholding rate: %w", err)
	}
	return bps, nil
}
