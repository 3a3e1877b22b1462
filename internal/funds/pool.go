// Package funds models the escrowed dividend fund pool. Each dividend's
// funds are locked at creation and leave escrow only through payments,
// withholding withdrawal, or reclaim.
package funds

import "context"

// Pool moves value between payer accounts, per-dividend escrow, and payout
// destinations. Implementations must reject any transfer that would drive an
// escrow balance negative.
type Pool interface {
	// Escrow locks amount of currency from the payer against a dividend.
	Escrow(ctx context.Context, payer string, dividendIndex uint64, currency string, amount uint64) error
	// Pay releases amount from the dividend's escrow to a destination.
	Pay(ctx context.Context, dividendIndex uint64, to string, currency string, amount uint64) error
	// Escrowed reports the remaining locked balance for a dividend.
	Escrowed(ctx context.Context, dividendIndex uint64) (uint64, error)
}
