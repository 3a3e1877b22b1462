package withholding_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meridian/internal/authz"
	"meridian/internal/withholding"
	"meridian/internal/withholding/store"
	dErrors "meridian/pkg/domain-errors"
)

func newService() *withholding.Service {
	return withholding.New(store.NewMemory(), authz.AllowAll{})
}

func TestSet(t *testing.T) {
	ctx := context.Background()

	t.Run("writes a batch and reads it back", func(t *testing.T) {
		svc := newService()
		require.NoError(t, svc.Set(ctx, "admin", []string{"alice", "bob"}, []uint32{2000, 0}))

		bps, err := svc.Rate(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, uint32(2000), bps)

		bps, err = svc.Rate(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, uint32(0), bps)
	})

	t.Run("overwrites an existing rate", func(t *testing.T) {
		svc := newService()
		require.NoError(t, svc.Set(ctx, "admin", []string{"alice"}, []uint32{2000}))
		require.NoError(t, svc.Set(ctx, "admin", []string{"alice"}, []uint32{500}))

		bps, err := svc.Rate(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, uint32(500), bps)
	})

	t.Run("allows the full 100 percent", func(t *testing.T) {
		svc := newService()
		require.NoError(t, svc.Set(ctx, "admin", []string{"alice"}, []uint32{withholding.MaxRateBps}))
	})

	t.Run("validates the whole batch before writing", func(t *testing.T) {
		svc := newService()
		err := svc.Set(ctx, "admin", []string{"alice", "bob"}, []uint32{2000, withholding.MaxRateBps + 1})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

		bps, rateErr := svc.Rate(ctx, "alice")
		require.NoError(t, rateErr)
		assert.Zero(t, bps, "a failing batch must write nothing")
	})

	t.Run("rejects mismatched parallel slices", func(t *testing.T) {
		svc := newService()
		err := svc.Set(ctx, "admin", []string{"alice", "bob"}, []uint32{2000})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects an empty batch", func(t *testing.T) {
		svc := newService()
		err := svc.Set(ctx, "admin", nil, nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects empty accounts", func(t *testing.T) {
		svc := newService()
		err := svc.Set(ctx, "admin", []string{"alice", ""}, []uint32{100, 100})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("requires the set capability", func(t *testing.T) {
		svc := withholding.New(store.NewMemory(), authz.NewStatic(nil))
		err := svc.Set(ctx, "intruder", []string{"alice"}, []uint32{100})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func TestRateDefaultsToZero(t *testing.T) {
	svc := newService()
	bps, err := svc.Rate(context.Background(), "never-set")
	require.NoError(t, err)
	assert.Zero(t, bps)
}
