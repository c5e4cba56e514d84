package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultHealthCheckTimeout = 5 * time.Second

// StoreProbe reports the health of the counter/cache store.
type StoreProbe interface {
	Name() string
	Ping(ctx context.Context) error
}

// HealthHandler handles the service banner and health check endpoints.
type HealthHandler struct {
	service string
	mode    string
	store   StoreProbe
	timeout time.Duration
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(service, mode string, store StoreProbe) *HealthHandler {
	return &HealthHandler{
		service: service,
		mode:    mode,
		store:   store,
		timeout: defaultHealthCheckTimeout,
	}
}

// RegisterRoutes registers the banner and health routes.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Home)
	r.Get("/health", h.Health)
}

// Home returns the service banner.
func (h *HealthHandler) Home(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"service": h.service,
		"status":  "operational",
		"mode":    h.mode,
	})
}

// Health reports whether the primary store answers. A failing store is
// reported as degraded with 200, since requests are still served from the
// in-process fallback.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := map[string]string{
		"status": "ok",
		"store":  h.store.Name(),
	}
	if err := h.store.Ping(ctx); err != nil {
		slog.Warn("Health check: store unreachable", "store", h.store.Name(), "error", err)
		status["status"] = "degraded"
		status["store_error"] = err.Error()
	}
	JSON(w, http.StatusOK, status)
}
