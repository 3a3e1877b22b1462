// Package models holds the dividend aggregate and its lifecycle rules.
package models

import (
	"time"

	dErrors "meridian/pkg/domain-errors"
)

// Dividend is a distribution of funds to token holders, pro-rated against
// the balances frozen at a checkpoint.
//
// Invariants:
//   - TotalAmount > 0, denominated in Currency
//   - Maturity < Expiry, Expiry in the future at creation
//   - CheckpointID is pinned at creation and never changes
//   - ClaimedAmount only grows, never past TotalAmount
//   - Exclusions are fixed at creation: no duplicates, no empty address,
//     bounded by the configured limit
//   - Reclaimed flips to true at most once, and only after Expiry
//
// Phase is derived from the clock rather than stored: Created before
// Maturity, Payable in [Maturity, Expiry), Expired from Expiry on. Claims are
// only accepted while Payable; reclaim only once Expired.
type Dividend struct {
	Index         uint64    `json:"index"`
	CheckpointID  uint64    `json:"checkpoint_id"`
	Currency      string    `json:"currency"`
	Name          string    `json:"name"`
	TotalAmount   uint64    `json:"total_amount"`
	ClaimedAmount uint64    `json:"claimed_amount"`
	Withheld      uint64    `json:"withheld"`
	Maturity      time.Time `json:"maturity"`
	Expiry        time.Time `json:"expiry"`
	Treasury      string    `json:"treasury"`
	Reclaimed     bool      `json:"reclaimed"`
	CreatedAt     time.Time `json:"created_at"`
	Exclusions    []string  `json:"exclusions,omitempty"`
}

// Phase is the clock-derived lifecycle position.
type Phase string

const (
	PhaseCreated Phase = "created"
	PhasePayable Phase = "payable"
	PhaseExpired Phase = "expired"
)

func (d *Dividend) Phase(now time.Time) Phase {
	switch {
	case now.Before(d.Maturity):
		return PhaseCreated
	case now.Before(d.Expiry):
		return PhasePayable
	default:
		return PhaseExpired
	}
}

func (d *Dividend) IsExcluded(account string) bool {
	for _, excluded := range d.Exclusions {
		if excluded == account {
			return true
		}
	}
	return false
}

// CanClaim checks that the dividend is inside its payment window.
func (d *Dividend) CanClaim(now time.Time) error {
	switch d.Phase(now) {
	case PhaseCreated:
		return dErrors.Newf(dErrors.CodeNotYetPayable, "dividend %d matures at %s", d.Index, d.Maturity.Format(time.RFC3339))
	case PhaseExpired:
		return dErrors.Newf(dErrors.CodeExpired, "dividend %d expired at %s", d.Index, d.Expiry.Format(time.RFC3339))
	}
	return nil
}

// ApplyClaim records a gross payout. Call CanClaim first.
func (d *Dividend) ApplyClaim(gross, withheld uint64) error {
	if gross > d.TotalAmount-d.ClaimedAmount {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "claim of %d would exceed dividend %d total", gross, d.Index)
	}
	d.ClaimedAmount += gross
	d.Withheld += withheld
	return nil
}

// CanUpdateDates checks that the window may still be moved.
func (d *Dividend) CanUpdateDates(now time.Time) error {
	if d.Phase(now) == PhaseExpired {
		return dErrors.Newf(dErrors.CodeExpired, "dividend %d has expired, dates are frozen", d.Index)
	}
	return nil
}

// ApplyDates moves the payment window. Call CanUpdateDates first.
func (d *Dividend) ApplyDates(maturity, expiry time.Time, now time.Time) error {
	if err := validateWindow(maturity, expiry, now); err != nil {
		return err
	}
	d.Maturity = maturity
	d.Expiry = expiry
	return nil
}

// CanReclaim checks that unclaimed funds may be swept back to the treasury.
func (d *Dividend) CanReclaim(now time.Time) error {
	if d.Reclaimed {
		return dErrors.Newf(dErrors.CodeAlreadyReclaimed, "dividend %d was already reclaimed", d.Index)
	}
	if d.Phase(now) != PhaseExpired {
		return dErrors.Newf(dErrors.CodeNotYetPayable, "dividend %d has not expired, unclaimed funds are still payable", d.Index)
	}
	return nil
}

// ApplyReclaim marks the sweep done and returns the swept amount. Call
// CanReclaim first.
func (d *Dividend) ApplyReclaim() uint64 {
	d.Reclaimed = true
	return d.TotalAmount - d.ClaimedAmount
}

// WithdrawWithheld zeroes the withheld pool and returns what was in it.
func (d *Dividend) WithdrawWithheld() uint64 {
	withheld := d.Withheld
	d.Withheld = 0
	return withheld
}

func NewDividend(index, checkpointID uint64, currency, name string, totalAmount uint64, maturity, expiry time.Time, treasury string, exclusions []string, exclusionLimit int, now time.Time) (*Dividend, error) {
	if totalAmount == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "dividend amount must be positive")
	}
	if currency == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "dividend currency cannot be empty")
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "dividend name cannot be empty")
	}
	if treasury == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "dividend treasury cannot be empty")
	}
	if err := validateWindow(maturity, expiry, now); err != nil {
		return nil, err
	}
	if err := ValidateExclusions(exclusions, exclusionLimit); err != nil {
		return nil, err
	}
	return &Dividend{
		Index:        index,
		CheckpointID: checkpointID,
		Currency:     currency,
		Name:         name,
		TotalAmount:  totalAmount,
		Maturity:     maturity,
		Expiry:       expiry,
		Treasury:     treasury,
		CreatedAt:    now,
		Exclusions:   exclusions,
	}, nil
}

func validateWindow(maturity, expiry time.Time, now time.Time) error {
	if !maturity.Before(expiry) {
		return dErrors.New(dErrors.CodeValidation, "maturity must be before expiry")
	}
	if !expiry.After(now) {
		return dErrors.New(dErrors.CodeValidation, "expiry must be in the future")
	}
	return nil
}

// ValidateExclusions enforces the exclusion-set rules: bounded size, no
// empty address, no duplicates.
func ValidateExclusions(exclusions []string, limit int) error {
	if len(exclusions) > limit {
		return dErrors.Newf(dErrors.CodeInvalidExclusion, "%d excluded addresses exceed the limit of %d", len(exclusions), limit)
	}
	seen := make(map[string]bool, len(exclusions))
	for _, account := range exclusions {
		if account == "" {
			return dErrors.New(dErrors.CodeInvalidExclusion, "excluded address cannot be empty")
		}
		if seen[account] {
			return dErrors.Newf(dErrors.CodeInvalidExclusion, "excluded address %s appears twice", account)
		}
		seen[account] = true
	}
	return nil
}
