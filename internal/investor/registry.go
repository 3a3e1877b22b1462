// Package investor tracks every address that has ever held a non-zero
// balance. The registry is append-only: a zero balance does not remove an
// entry, so iteration indexes stay stable for batched settlement against
// historical checkpoints.
package investor

import "context"

// Registry is the ordered, de-duplicated holder list.
type Registry interface {
	// Record adds the account on first sight; recording an already-seen
	// account is a no-op.
	Record(ctx context.Context, account string) error
	Seen(ctx context.Context, account string) (bool, error)
	Count(ctx context.Context) (int, error)
	// At returns the account at a zero-based registry index.
	At(ctx context.Context, index int) (string, error)
	// Range returns accounts for indexes [start, end] inclusive, in
	// registration order. Bounds must be validated by the caller.
	Range(ctx context.Context, start, end int) ([]string, error)
}
