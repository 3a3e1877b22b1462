package audit

import "time"

// Action identifies the state transition an event records.
type Action string

const (
	ActionCheckpointCreated    Action = "checkpoint_created"
	ActionDividendCreated      Action = "dividend_created"
	ActionDividendDatesUpdated Action = "dividend_dates_updated"
	ActionDividendPayment      Action = "dividend_payment"
	ActionDividendPushBatch    Action = "dividend_push_completed"
	ActionDividendReclaimed    Action = "dividend_reclaimed"
	ActionWithholdingSet       Action = "withholding_set"
	ActionWithholdingWithdrawn Action = "withholding_withdrawn"
)

// Event is emitted from domain logic on every state transition. Keep it
// transport-agnostic so stores and sinks can fan out.
//
// The field set is deliberately wide enough that the full payout ledger can
// be reconstructed from the event log alone: every payment event carries the
// dividend index, account, gross, net and withheld amounts; every creation
// event carries the pinned checkpoint and escrowed total.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	// Actor is the authenticated caller that triggered the transition.
	Actor string `json:"actor,omitempty"`
	// Account is the holder affected by a payment or withholding change.
	Account string `json:"account,omitempty"`
	// DividendIndex is 0 when the event is not dividend-scoped (indexes start at 1).
	DividendIndex uint64 `json:"dividend_index,omitempty"`
	// CheckpointID is 0 when the event is not checkpoint-scoped (ids start at 1).
	CheckpointID uint64 `json:"checkpoint_id,omitempty"`
	Currency     string `json:"currency,omitempty"`
	Name         string `json:"name,omitempty"`
	// Amount carries the headline figure: escrowed total for creation,
	// reclaimed remainder for reclaim, withdrawn pool for withholding withdrawal.
	Amount uint64 `json:"amount,omitempty"`
	// Gross/Net/Withheld describe a single payment (gross = net + withheld).
	Gross    uint64 `json:"gross,omitempty"`
	Net      uint64 `json:"net,omitempty"`
	Withheld uint64 `json:"withheld,omitempty"`
	// WithholdingBps is the rate applied, in basis points, for withholding_set
	// and payment events.
	WithholdingBps uint32 `json:"withholding_bps,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}
