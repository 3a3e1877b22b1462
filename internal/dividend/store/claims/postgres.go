package claims

import (
	"context"
	"database/sql"
	"fmt"

	txcontext "meridian/pkg/platform/tx"
)

// PostgresStore marks claims with an insert-if-absent, the durable variant
// of the CAS used when payouts must survive restarts without Redis.
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

func (s *PostgresStore) TryClaim(ctx context.Context, dividendIndex uint64, account string, gross, withheld uint64) (bool, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO dividend_claims (dividend_index, account, gross, withheld, claimed_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (dividend_index, account) DO NOTHING
	`, dividendIndex, account, gross, withheld)
	if err != nil {
		return false, fmt.Errorf("insert claim mark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim mark rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) Claimed(ctx context.Context, dividendIndex uint64, account string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM dividend_claims WHERE dividend_index = $1 AND account = $2)
	`, dividendIndex, account).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query claim mark: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Release(ctx context.Context, dividendIndex uint64, account string) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		DELETE FROM dividend_claims WHERE dividend_index = $1 AND account = $2
	`, dividendIndex, account)
	if err != nil {
		return fmt.Errorf("release claim mark: %w", err)
	}
	return nil
}
