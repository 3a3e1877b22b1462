package checkpoint

import "time"

// Checkpoint is an immutable, sequentially numbered anchor for historical
// balance queries. IDs start at 1 and never repeat or skip.
type Checkpoint struct {
	ID        uint64    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// HistoryEntry freezes a value (account balance or total supply) as of one
// checkpoint boundary. Entries are sparse: one exists only for checkpoints
// whose boundary the account actually crossed with activity.
type HistoryEntry struct {
	CheckpointID uint64 `json:"checkpoint_id"`
	Value        uint64 `json:"value"`
}
