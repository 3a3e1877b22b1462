package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"meridian/pkg/platform/sentinel"
	txcontext "meridian/pkg/platform/tx"
)

// PostgresRegistry persists the holder list. Registration order comes from a
// bigserial position; the zero-based index exposed to callers is the rank of
// that position, so indexes stay dense and stable.
type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

func (r *PostgresRegistry) execer(ctx context.Context) interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
} {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return r.db
}

func (r *PostgresRegistry) Record(ctx context.Context, account string) error {
	_, err := r.execer(ctx).ExecContext(ctx, `
		INSERT INTO investors (account)
		VALUES ($1)
		ON CONFLICT (account) DO NOTHING
	`, account)
	if err != nil {
		return fmt.Errorf("insert investor: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) Seen(ctx context.Context, account string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM investors WHERE account = $1)
	`, account).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query investor: %w", err)
	}
	return exists, nil
}

func (r *PostgresRegistry) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM investors`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count investors: %w", err)
	}
	return count, nil
}

func (r *PostgresRegistry) At(ctx context.Context, index int) (string, error) {
	var account string
	err := r.db.QueryRowContext(ctx, `
		SELECT account FROM investors
		ORDER BY position ASC
		OFFSET $1 LIMIT 1
	`, index).Scan(&account)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query investor at index: %w", err)
	}
	return account, nil
}

func (r *PostgresRegistry) Range(ctx context.Context, start, end int) ([]string, error) {
	if start < 0 || start > end {
		return nil, sentinel.ErrNotFound
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT account FROM investors
		ORDER BY position ASC
		OFFSET $1 LIMIT $2
	`, start, end-start+1)
	if err != nil {
		return nil, fmt.Errorf("query investor range: %w", err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, fmt.Errorf("scan investor: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate investors: %w", err)
	}
	if len(accounts) != end-start+1 {
		return nil, sentinel.ErrNotFound
	}
	return accounts, nil
}
