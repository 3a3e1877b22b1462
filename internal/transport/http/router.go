// Package httptransport assembles the public router. Module handlers
// register their own routes; this package adds the platform middleware chain,
// health, and metrics endpoints, plus the withholding and ledger routes it
// hosts directly.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meridian/internal/authz"
	"meridian/internal/platform/metrics"
	"meridian/internal/platform/middleware"
)

// Registrar is anything that can attach routes to the router; the checkpoint
// and dividend handlers implement it.
type Registrar interface {
	Register(r chi.Router)
}

type Handler struct {
	withholding WithholdingService
	ledger      LedgerService
	auth        *authz.JWTAuthorizer
	logger      *slog.Logger
}

func NewHandler(withholding WithholdingService, ledger LedgerService, auth *authz.JWTAuthorizer, logger *slog.Logger) *Handler {
	return &Handler{withholding: withholding, ledger: ledger, auth: auth, logger: logger}
}

// NewRouter wires the middleware chain and every module's routes.
func NewRouter(h *Handler, m *metrics.Metrics, registrars ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)
	r.Use(middleware.Latency(m))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	h.registerWithholding(r)
	h.registerLedger(r)
	for _, registrar := range registrars {
		registrar.Register(r)
	}
	return r
}
