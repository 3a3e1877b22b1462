package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"meridian/internal/dividend/models"
	"meridian/pkg/platform/sentinel"
	txcontext "meridian/pkg/platform/tx"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) querier(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, d *models.Dividend) (uint64, error) {
	q := s.querier(ctx)
	var index uint64
	err := q.QueryRowContext(ctx, `
		INSERT INTO dividends (index, checkpoint_id, currency, name, total_amount, claimed_amount, withheld, maturity, expiry, treasury, reclaimed, created_at)
		SELECT COALESCE(MAX(index), 0) + 1, $1, $2, $3, $4, 0, 0, $5, $6, $7, FALSE, $8
		FROM dividends
		RETURNING index
	`, d.CheckpointID, d.Currency, d.Name, d.TotalAmount, d.Maturity, d.Expiry, d.Treasury, d.CreatedAt).Scan(&index)
	if err != nil {
		return 0, fmt.Errorf("insert dividend: %w", err)
	}
	for _, account := range d.Exclusions {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO dividend_exclusions (dividend_index, account) VALUES ($1, $2)
		`, index, account); err != nil {
			return 0, fmt.Errorf("insert dividend exclusion: %w", err)
		}
	}
	return index, nil
}

func (s *PostgresStore) Delete(ctx context.Context, index uint64) error {
	q := s.querier(ctx)
	if _, err := q.ExecContext(ctx, `DELETE FROM dividend_exclusions WHERE dividend_index = $1`, index); err != nil {
		return fmt.Errorf("delete dividend exclusions: %w", err)
	}
	res, err := q.ExecContext(ctx, `DELETE FROM dividends WHERE index = $1`, index)
	if err != nil {
		return fmt.Errorf("delete dividend: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, index uint64) (*models.Dividend, error) {
	q := s.querier(ctx)
	d := &models.Dividend{}
	err := q.QueryRowContext(ctx, `
		SELECT index, checkpoint_id, currency, name, total_amount, claimed_amount, withheld, maturity, expiry, treasury, reclaimed, created_at
		FROM dividends WHERE index = $1
	`, index).Scan(&d.Index, &d.CheckpointID, &d.Currency, &d.Name, &d.TotalAmount, &d.ClaimedAmount, &d.Withheld, &d.Maturity, &d.Expiry, &d.Treasury, &d.Reclaimed, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query dividend: %w", err)
	}
	rows, err := q.QueryContext(ctx, `
		SELECT account FROM dividend_exclusions WHERE dividend_index = $1 ORDER BY account
	`, index)
	if err != nil {
		return nil, fmt.Errorf("query dividend exclusions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, fmt.Errorf("scan dividend exclusion: %w", err)
		}
		d.Exclusions = append(d.Exclusions, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dividend exclusions: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Dividend, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, `
		SELECT index, checkpoint_id, currency, name, total_amount, claimed_amount, withheld, maturity, expiry, treasury, reclaimed, created_at
		FROM dividends ORDER BY index ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list dividends: %w", err)
	}
	defer rows.Close()

	var out []*models.Dividend
	for rows.Next() {
		d := &models.Dividend{}
		if err := rows.Scan(&d.Index, &d.CheckpointID, &d.Currency, &d.Name, &d.TotalAmount, &d.ClaimedAmount, &d.Withheld, &d.Maturity, &d.Expiry, &d.Treasury, &d.Reclaimed, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dividend: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dividends: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context) (uint64, error) {
	var count uint64
	if err := s.querier(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM dividends`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count dividends: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UpdateDates(ctx context.Context, index uint64, maturity, expiry time.Time) error {
	res, err := s.querier(ctx).ExecContext(ctx, `
		UPDATE dividends SET maturity = $2, expiry = $3 WHERE index = $1
	`, index, maturity, expiry)
	if err != nil {
		return fmt.Errorf("update dividend dates: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// ApplyClaim moves claimed and withheld accounting forward. The guard in the
// WHERE clause keeps claimed_amount from ever passing total_amount.
func (s *PostgresStore) ApplyClaim(ctx context.Context, index uint64, gross, withheld uint64) error {
	res, err := s.querier(ctx).ExecContext(ctx, `
		UPDATE dividends
		SET claimed_amount = claimed_amount + $2, withheld = withheld + $3
		WHERE index = $1 AND claimed_amount + $2 <= total_amount
	`, index, gross, withheld)
	if err != nil {
		return fmt.Errorf("apply dividend claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) WithdrawWithheld(ctx context.Context, index uint64) (uint64, error) {
	var withheld uint64
	err := s.querier(ctx).QueryRowContext(ctx, `
		WITH old AS (SELECT withheld FROM dividends WHERE index = $1)
		UPDATE dividends SET withheld = 0 WHERE index = $1
		RETURNING (SELECT withheld FROM old)
	`, index).Scan(&withheld)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, sentinel.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("withdraw withheld pool: %w", err)
	}
	return withheld, nil
}

func (s *PostgresStore) MarkReclaimed(ctx context.Context, index uint64) error {
	res, err := s.querier(ctx).ExecContext(ctx, `
		UPDATE dividends SET reclaimed = TRUE WHERE index = $1 AND reclaimed = FALSE
	`, index)
	if err != nil {
		return fmt.Errorf("mark dividend reclaimed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}
