// Package authz is the capability collaborator: every privileged operation
// asks it a yes/no question before touching state. Keeping it an injected
// interface keeps the engine testable in isolation.
package authz

import "context"

// Capability names a privileged action.
type Capability string

const (
	CapCheckpointCreate    Capability = "checkpoint:create"
	CapDividendCreate      Capability = "dividend:create"
	CapDividendUpdate      Capability = "dividend:update"
	CapDividendPush        Capability = "dividend:push"
	CapDividendReclaim     Capability = "dividend:reclaim"
	CapWithholdingSet      Capability = "withholding:set"
	CapWithholdingWithdraw Capability = "withholding:withdraw"
	CapLedgerIssue         Capability = "ledger:issue"
	CapLedgerRedeem        Capability = "ledger:redeem"
)

// Authorizer answers whether an actor holds a capability.
type Authorizer interface {
	Can(ctx context.Context, actor string, capability Capability) bool
}

// Static is a fixed actor -> capability map, used in tests and single-issuer
// deployments configured at startup.
type Static struct {
	grants map[string]map[Capability]bool
}

// NewStatic builds a Static authorizer from an actor -> capabilities table.
func NewStatic(grants map[string][]Capability) *Static {
	s := &Static{grants: make(map[string]map[Capability]bool, len(grants))}
	for actor, caps := range grants {
		m := make(map[Capability]bool, len(caps))
		for _, c := range caps {
			m[c] = true
		}
		s.grants[actor] = m
	}
	return s
}

func (s *Static) Can(_ context.Context, actor string, capability Capability) bool {
	return s.grants[actor][capability]
}

// AllowAll grants everything; test helper.
type AllowAll struct{}

func (AllowAll) Can(context.Context, string, Capability) bool { return true }
