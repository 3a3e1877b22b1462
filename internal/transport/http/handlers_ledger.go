package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"meridian/internal/authz"
	"meridian/internal/transport/http/shared"
	dErrors "meridian/pkg/domain-errors"
)

// LedgerService defines the interface for token ledger operations.
type LedgerService interface {
	BalanceOf(ctx context.Context, account string) (uint64, error)
	TotalSupply(ctx context.Context) (uint64, error)
	Transfer(ctx context.Context, from, to string, amount uint64) error
	Issue(ctx context.Context, to string, amount uint64) error
	Redeem(ctx context.Context, from string, amount uint64) error
}

func (h *Handler) registerLedger(r chi.Router) {
	r.Get("/ledger/balances/{account}", h.handleBalance)
	r.Get("/ledger/supply", h.handleSupply)
	r.With(authz.Authenticate(h.auth, h.logger)).
		Post("/ledger/transfers", h.handleTransfer)
	r.With(authz.RequireCapability(h.auth, authz.CapLedgerIssue, h.logger)).
		Post("/ledger/issues", h.handleIssue)
	r.With(authz.RequireCapability(h.auth, authz.CapLedgerRedeem, h.logger)).
		Post("/ledger/redemptions", h.handleRedeem)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	balance, err := h.ledger.BalanceOf(r.Context(), account)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"balance": balance,
	})
}

func (h *Handler) handleSupply(w http.ResponseWriter, r *http.Request) {
	supply, err := h.ledger.TotalSupply(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]uint64{"supply": supply})
}

type transferRequest struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// handleTransfer moves tokens out of the authenticated caller's account; the
// sender is always the token subject, never a request field.
func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.ledger.Transfer(ctx, authz.GetActor(ctx), req.To, req.Amount); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type issueRequest struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.ledger.Issue(r.Context(), req.Account, req.Amount); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.ledger.Redeem(r.Context(), req.Account, req.Amount); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
