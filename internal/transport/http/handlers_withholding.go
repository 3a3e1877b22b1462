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

// WithholdingService defines the interface for withholding-rate operations.
type WithholdingService interface {
	Set(ctx context.Context, actor string, accounts []string, ratesBps []uint32) error
	Rate(ctx context.Context, account string) (uint32, error)
}

type setWithholdingRequest struct {
	Accounts []string `json:"accounts"`
	RatesBps []uint32 `json:"rates_bps"`
}

func (h *Handler) registerWithholding(r chi.Router) {
	r.With(authz.RequireCapability(h.auth, authz.CapWithholdingSet, h.logger)).
		Put("/withholding", h.handleSetWithholding)
	r.Get("/withholding/{account}", h.handleGetWithholding)
}

func (h *Handler) handleSetWithholding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req setWithholdingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.withholding.Set(ctx, authz.GetActor(ctx), req.Accounts, req.RatesBps); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetWithholding(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	bps, err := h.withholding.Rate(r.Context(), account)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"account":  account,
		"rate_bps": bps,
	})
}
