// Package handler exposes the checkpoint endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"meridian/internal/authz"
	"meridian/internal/checkpoint"
	"meridian/internal/transport/http/shared"
	dErrors "meridian/pkg/domain-errors"
)

// Service defines the interface for checkpoint operations.
type Service interface {
	Create(ctx context.Context, actor string) (checkpoint.Checkpoint, error)
	Latest(ctx context.Context) (uint64, error)
	BalanceOfAt(ctx context.Context, account string, id uint64) (uint64, error)
	TotalSupplyAt(ctx context.Context, id uint64) (uint64, error)
}

type Handler struct {
	service Service
	auth    *authz.JWTAuthorizer
	logger  *slog.Logger
}

func New(service Service, auth *authz.JWTAuthorizer, logger *slog.Logger) *Handler {
	return &Handler{service: service, auth: auth, logger: logger}
}

// Register registers the checkpoint routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.With(authz.RequireCapability(h.auth, authz.CapCheckpointCreate, h.logger)).
		Post("/checkpoints", h.handleCreate)
	r.Get("/checkpoints/latest", h.handleLatest)
	r.Get("/checkpoints/{id}/balances/{account}", h.handleBalanceOfAt)
	r.Get("/checkpoints/{id}/supply", h.handleTotalSupplyAt)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cp, err := h.service.Create(ctx, authz.GetActor(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to create checkpoint", "error", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, cp)
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := h.service.Latest(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]uint64{"latest": latest})
}

func (h *Handler) handleBalanceOfAt(w http.ResponseWriter, r *http.Request) {
	id, err := checkpointID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	account := chi.URLParam(r, "account")
	balance, err := h.service.BalanceOfAt(r.Context(), account, id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"checkpoint_id": id,
		"account":       account,
		"balance":       balance,
	})
}

func (h *Handler) handleTotalSupplyAt(w http.ResponseWriter, r *http.Request) {
	id, err := checkpointID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	supply, err := h.service.TotalSupplyAt(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"checkpoint_id": id,
		"supply":        supply,
	})
}

func checkpointID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeBadRequest, "checkpoint id must be a positive integer")
	}
	return id, nil
}
