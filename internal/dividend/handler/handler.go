// Package handler exposes the dividend endpoints: operator routes gated by
// capability, self-serve claim routes gated by authentication only.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"meridian/internal/authz"
	"meridian/internal/dividend/models"
	"meridian/internal/dividend/service"
	"meridian/internal/platform/middleware"
	"meridian/internal/transport/http/shared"
	dErrors "meridian/pkg/domain-errors"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service defines the interface for dividend operations.
type Service interface {
	Create(ctx context.Context, actor string, p service.CreateParams) (*models.Dividend, error)
	UpdateDates(ctx context.Context, actor string, index uint64, maturity, expiry time.Time) (*models.Dividend, error)
	Get(ctx context.Context, index uint64) (*models.Dividend, error)
	List(ctx context.Context) ([]*models.Dividend, error)
	Calculate(ctx context.Context, index uint64, account string) (gross, withheld uint64, err error)
	Pull(ctx context.Context, caller string, index uint64) (service.Payment, error)
	Push(ctx context.Context, actor string, index uint64, start, end int) (*service.BatchResult, error)
	PushToAddresses(ctx context.Context, actor string, index uint64, accounts []string) (*service.BatchResult, error)
	Reclaim(ctx context.Context, actor string, index uint64) (uint64, error)
	WithdrawWithholding(ctx context.Context, actor string, index uint64) (uint64, error)
}

type Handler struct {
	service Service
	auth    *authz.JWTAuthorizer
	logger  *slog.Logger
}

func New(service Service, auth *authz.JWTAuthorizer, logger *slog.Logger) *Handler {
	return &Handler{service: service, auth: auth, logger: logger}
}

// Register registers the dividend routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.With(authz.RequireCapability(h.auth, authz.CapDividendCreate, h.logger)).
		Post("/dividends", h.handleCreate)
	r.Get("/dividends", h.handleList)
	r.Get("/dividends/{index}", h.handleGet)
	r.With(authz.RequireCapability(h.auth, authz.CapDividendUpdate, h.logger)).
		Put("/dividends/{index}/dates", h.handleUpdateDates)
	r.With(authz.Authenticate(h.auth, h.logger)).
		Get("/dividends/{index}/entitlement", h.handleEntitlement)
	r.With(authz.Authenticate(h.auth, h.logger)).
		Post("/dividends/{index}/claims", h.handlePull)
	r.With(authz.RequireCapability(h.auth, authz.CapDividendPush, h.logger)).
		Post("/dividends/{index}/push", h.handlePush)
	r.With(authz.RequireCapability(h.auth, authz.CapDividendReclaim, h.logger)).
		Post("/dividends/{index}/reclaim", h.handleReclaim)
	r.With(authz.RequireCapability(h.auth, authz.CapWithholdingWithdraw, h.logger)).
		Post("/dividends/{index}/withholding/withdraw", h.handleWithdraw)
}

type createRequest struct {
	Currency     string    `json:"currency"`
	Name         string    `json:"name"`
	TotalAmount  uint64    `json:"total_amount"`
	Maturity     time.Time `json:"maturity"`
	Expiry       time.Time `json:"expiry"`
	Treasury     string    `json:"treasury"`
	Payer        string    `json:"payer"`
	CheckpointID uint64    `json:"checkpoint_id,omitempty"`
	Exclusions   []string  `json:"exclusions,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	d, err := h.service.Create(ctx, authz.GetActor(ctx), service.CreateParams{
		Currency:     req.Currency,
		Name:         req.Name,
		TotalAmount:  req.TotalAmount,
		Maturity:     req.Maturity,
		Expiry:       req.Expiry,
		Treasury:     req.Treasury,
		Payer:        req.Payer,
		CheckpointID: req.CheckpointID,
		Exclusions:   req.Exclusions,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "failed to create dividend",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, d)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	dividends, err := h.service.List(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"dividends": dividends})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	index, err := dividendIndex(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	d, err := h.service.Get(r.Context(), index)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, d)
}

type updateDatesRequest struct {
	Maturity time.Time `json:"maturity"`
	Expiry   time.Time `json:"expiry"`
}

func (h *Handler) handleUpdateDates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	index, err := dividendIndex(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req updateDatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	d, err := h.service.UpdateDates(ctx, authz.GetActor(ctx), index, req.Maturity, req.Expiry)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, d)
}

// handleEntitlement previews the caller's (or an explicit account's) payment
// split without settling anything.
func (h *Handler) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	index, err := dividendIndex(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	account := r.URL.Query().Get("account")
	if account == "" {
		account = authz.GetActor(ctx)
	}
	gross, withheld, err := h.service.Calculate(ctx, index, account)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"dividend_index": index,
		"account":        account,
		"gross":          gross,
		"withheld":       withheld,
		"net":            gross - withheld,
	})
}

func (h *Handler) handlePull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	index, err := dividendIndex(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	payment, err := h.service.Pull(ctx, authz.GetActor(ctx), index)
	if err != nil {
		h.logger.WarnContext(ctx, "pull claim failed",
			"request_id", middleware.GetRequestID(ctx),
			"dividend_index", index,
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, payment)
}

type pushRequest struct {
	Start     *int     `json:"start,omitempty"`
	End       *int     `json:"end,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
}

func (h *Handler) handlePush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	index, err := dividendIndex(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	actor := authz.GetActor(ctx)

	var result *service.BatchResult
	switch {
	case len(req.Addresses) > 0:
		result, err = h.service.PushToAddresses(ctx, actor, index, req.Addresses)
	case req.Start != nil && req.End != nil:
		result, err = h.service.Push(ctx, actor, index, *req.Start, *req.End)
	default:
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "either addresses or a start/end range is required"))
		return
	}
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleReclaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	index, err := dividendIndex(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	swept, err := h.service.Reclaim(ctx, authz.GetActor(ctx), index)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]uint64{"reclaimed": swept})
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	index, err := dividendIndex(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	withdrawn, err := h.service.WithdrawWithholding(ctx, authz.GetActor(ctx), index)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]uint64{"withdrawn": withdrawn})
}

func dividendIndex(r *http.Request) (uint64, error) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeBadRequest, "dividend index must be a positive integer")
	}
	return index, nil
}
