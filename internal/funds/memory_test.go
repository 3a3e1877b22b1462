package funds_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meridian/internal/funds"
)

func TestEscrow(t *testing.T) {
	ctx := context.Background()

	t.Run("moves funds out of the payer balance", func(t *testing.T) {
		pool := funds.NewMemoryPool()
		pool.Deposit("issuer", "USD", 100)

		require.NoError(t, pool.Escrow(ctx, "issuer", 1, "USD", 60))
		assert.Equal(t, uint64(40), pool.Balance("issuer", "USD"))

		escrowed, err := pool.Escrowed(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(60), escrowed)
	})

	t.Run("rejects an underfunded payer", func(t *testing.T) {
		pool := funds.NewMemoryPool()
		pool.Deposit("issuer", "USD", 50)

		err := pool.Escrow(ctx, "issuer", 1, "USD", 60)
		assert.True(t, errors.Is(err, funds.ErrInsufficient))
		assert.Equal(t, uint64(50), pool.Balance("issuer", "USD"))
	})

	t.Run("balances are per currency", func(t *testing.T) {
		pool := funds.NewMemoryPool()
		pool.Deposit("issuer", "EUR", 100)

		err := pool.Escrow(ctx, "issuer", 1, "USD", 60)
		assert.True(t, errors.Is(err, funds.ErrInsufficient))
	})

	t.Run("rejects a second escrow for the same dividend", func(t *testing.T) {
		pool := funds.NewMemoryPool()
		pool.Deposit("issuer", "USD", 200)

		require.NoError(t, pool.Escrow(ctx, "issuer", 1, "USD", 100))
		require.Error(t, pool.Escrow(ctx, "issuer", 1, "USD", 100))
	})
}

func TestPay(t *testing.T) {
	ctx := context.Background()

	newFunded := func(t *testing.T) *funds.MemoryPool {
		t.Helper()
		pool := funds.NewMemoryPool()
		pool.Deposit("issuer", "USD", 100)
		require.NoError(t, pool.Escrow(ctx, "issuer", 1, "USD", 100))
		return pool
	}

	t.Run("pays out of escrow", func(t *testing.T) {
		pool := newFunded(t)

		require.NoError(t, pool.Pay(ctx, 1, "alice", "USD", 30))
		assert.Equal(t, uint64(30), pool.Balance("alice", "USD"))

		escrowed, err := pool.Escrowed(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(70), escrowed)
	})

	t.Run("never overdraws the escrow", func(t *testing.T) {
		pool := newFunded(t)
		err := pool.Pay(ctx, 1, "alice", "USD", 101)
		assert.True(t, errors.Is(err, funds.ErrInsufficient))
	})

	t.Run("currency must match the escrow", func(t *testing.T) {
		pool := newFunded(t)
		require.Error(t, pool.Pay(ctx, 1, "alice", "EUR", 10))
	})

	t.Run("unknown dividend has no escrow", func(t *testing.T) {
		pool := newFunded(t)
		require.Error(t, pool.Pay(ctx, 9, "alice", "USD", 10))
	})

	t.Run("rejected destination bounces the payment", func(t *testing.T) {
		pool := newFunded(t)
		pool.Reject("alice")

		err := pool.Pay(ctx, 1, "alice", "USD", 30)
		assert.True(t, errors.Is(err, funds.ErrCannotReceive))

		escrowed, err := pool.Escrowed(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), escrowed, "bounced payment must not drain escrow")
	})
}
