package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meridian/internal/dividend/models"
	dErrors "meridian/pkg/domain-errors"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func validDividend(t *testing.T) *models.Dividend {
	t.Helper()
	d, err := models.NewDividend(1, 1, "USD", "Q2 distribution", 1000,
		now.Add(time.Hour), now.Add(48*time.Hour), "treasury", nil, 150, now)
	require.NoError(t, err)
	return d
}

func TestNewDividendValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(amount *uint64, currency, dName, treasury *string, maturity, expiry *time.Time)
		wantCode dErrors.Code
	}{
		{
			name:     "zero amount",
			mutate:   func(amount *uint64, _, _, _ *string, _, _ *time.Time) { *amount = 0 },
			wantCode: dErrors.CodeInvalidAmount,
		},
		{
			name:     "empty currency",
			mutate:   func(_ *uint64, currency, _, _ *string, _, _ *time.Time) { *currency = "" },
			wantCode: dErrors.CodeValidation,
		},
		{
			name:     "empty name",
			mutate:   func(_ *uint64, _, dName, _ *string, _, _ *time.Time) { *dName = "" },
			wantCode: dErrors.CodeValidation,
		},
		{
			name:     "empty treasury",
			mutate:   func(_ *uint64, _, _, treasury *string, _, _ *time.Time) { *treasury = "" },
			wantCode: dErrors.CodeValidation,
		},
		{
			name: "maturity not before expiry",
			mutate: func(_ *uint64, _, _, _ *string, maturity, expiry *time.Time) {
				*maturity = now.Add(48 * time.Hour)
				*expiry = now.Add(time.Hour)
			},
			wantCode: dErrors.CodeValidation,
		},
		{
			name: "expiry in the past",
			mutate: func(_ *uint64, _, _, _ *string, maturity, expiry *time.Time) {
				*maturity = now.Add(-48 * time.Hour)
				*expiry = now.Add(-time.Hour)
			},
			wantCode: dErrors.CodeValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount := uint64(1000)
			currency, dName, treasury := "USD", "Q2 distribution", "treasury"
			maturity, expiry := now.Add(time.Hour), now.Add(48*time.Hour)
			tt.mutate(&amount, &currency, &dName, &treasury, &maturity, &expiry)

			_, err := models.NewDividend(1, 1, currency, dName, amount, maturity, expiry, treasury, nil, 150, now)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestValidateExclusions(t *testing.T) {
	tests := []struct {
		name       string
		exclusions []string
		limit      int
		wantErr    bool
	}{
		{name: "empty set", exclusions: nil, limit: 3},
		{name: "within limit", exclusions: []string{"a", "b", "c"}, limit: 3},
		{name: "over limit", exclusions: []string{"a", "b", "c", "d"}, limit: 3, wantErr: true},
		{name: "duplicate address", exclusions: []string{"a", "b", "a"}, limit: 10, wantErr: true},
		{name: "empty address", exclusions: []string{"a", ""}, limit: 10, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := models.ValidateExclusions(tt.exclusions, tt.limit)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidExclusion))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestPhase(t *testing.T) {
	d := validDividend(t)
	assert.Equal(t, models.PhaseCreated, d.Phase(now))
	assert.Equal(t, models.PhasePayable, d.Phase(d.Maturity))
	assert.Equal(t, models.PhasePayable, d.Phase(d.Expiry.Add(-time.Second)))
	assert.Equal(t, models.PhaseExpired, d.Phase(d.Expiry))
}

func TestCanClaim(t *testing.T) {
	d := validDividend(t)

	err := d.CanClaim(now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotYetPayable))

	assert.NoError(t, d.CanClaim(d.Maturity.Add(time.Minute)))

	err = d.CanClaim(d.Expiry)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExpired))
}

func TestApplyClaim(t *testing.T) {
	d := validDividend(t)

	require.NoError(t, d.ApplyClaim(600, 60))
	require.NoError(t, d.ApplyClaim(400, 0))
	assert.Equal(t, uint64(1000), d.ClaimedAmount)
	assert.Equal(t, uint64(60), d.Withheld)

	err := d.ApplyClaim(1, 0)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestUpdateDates(t *testing.T) {
	t.Run("moves the window while not expired", func(t *testing.T) {
		d := validDividend(t)
		require.NoError(t, d.CanUpdateDates(now))
		require.NoError(t, d.ApplyDates(now.Add(2*time.Hour), now.Add(72*time.Hour), now))
		assert.Equal(t, now.Add(2*time.Hour), d.Maturity)
	})

	t.Run("frozen after expiry", func(t *testing.T) {
		d := validDividend(t)
		err := d.CanUpdateDates(d.Expiry.Add(time.Minute))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeExpired))
	})

	t.Run("new window is validated", func(t *testing.T) {
		d := validDividend(t)
		err := d.ApplyDates(now.Add(3*time.Hour), now.Add(2*time.Hour), now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestReclaim(t *testing.T) {
	t.Run("only after expiry", func(t *testing.T) {
		d := validDividend(t)
		assert.Error(t, d.CanReclaim(d.Maturity.Add(time.Minute)))
		assert.NoError(t, d.CanReclaim(d.Expiry))
	})

	t.Run("sweeps the unclaimed remainder exactly once", func(t *testing.T) {
		d := validDividend(t)
		require.NoError(t, d.ApplyClaim(300, 0))

		require.NoError(t, d.CanReclaim(d.Expiry))
		assert.Equal(t, uint64(700), d.ApplyReclaim())

		err := d.CanReclaim(d.Expiry)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyReclaimed))
	})
}

func TestIsExcluded(t *testing.T) {
	d, err := models.NewDividend(1, 1, "USD", "Q2 distribution", 1000,
		now.Add(time.Hour), now.Add(48*time.Hour), "treasury", []string{"bob"}, 150, now)
	require.NoError(t, err)
	assert.True(t, d.IsExcluded("bob"))
	assert.False(t, d.IsExcluded("alice"))
}

func TestWithdrawWithheld(t *testing.T) {
	d := validDividend(t)
	require.NoError(t, d.ApplyClaim(500, 75))

	assert.Equal(t, uint64(75), d.WithdrawWithheld())
	assert.Equal(t, uint64(0), d.WithdrawWithheld(), "second withdrawal is a no-op")
}
