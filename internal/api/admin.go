package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yieldera/advisor/internal/quota"
)

const maxAdminBodySize = 64 << 10

// QuotaAdmin is the admin surface of the quota controller.
type QuotaAdmin interface {
	RequireAdmin(role string) error
	Grant(ctx context.Context, userID string, n int) (quota.Grant, error)
	UsageStats(ctx context.Context) (quota.Stats, error)
}

// AdminHandler serves the quota administration endpoints.
type AdminHandler struct {
	quota QuotaAdmin
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(q QuotaAdmin) *AdminHandler {
	return &AdminHandler{quota: q}
}

// RegisterRoutes registers the admin routes.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Post("/grant-quota", h.GrantQuota)
		r.Get("/usage-stats", h.UsageStats)
	})
}

type grantRequest struct {
	AdminRole          string `json:"admin_role"`
	TargetUserID       string `json:"target_user_id"`
	AdditionalMessages *int   `json:"additional_messages"`
}

type grantResponse struct {
	Status        string    `json:"status"`
	UserID        string    `json:"user_id"`
	BonusMessages int       `json:"bonus_messages"`
	GrantedAt     time.Time `json:"granted_at"`
}

// GrantQuota sets a user's bonus allowance. Parameters come from a JSON body
// or, when there is none, from the query string.
func (h *AdminHandler) GrantQuota(w http.ResponseWriter, r *http.Request) {
	req, err := readGrantRequest(w, r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.quota.RequireAdmin(req.AdminRole); err != nil {
		slog.Warn("Rejected admin request", "path", r.URL.Path, "role", req.AdminRole)
		Error(w, http.StatusForbidden, "Unauthorized. Admin access required.")
		return
	}
	if strings.TrimSpace(req.TargetUserID) == "" {
		Error(w, http.StatusBadRequest, "target_user_id is required")
		return
	}
	if req.AdditionalMessages == nil {
		Error(w, http.StatusBadRequest, "additional_messages is required")
		return
	}

	grant, err := h.quota.Grant(r.Context(), req.TargetUserID, *req.AdditionalMessages)
	if err != nil {
		if errors.Is(err, quota.ErrInvalidGrant) {
			Error(w, http.StatusBadRequest, "Invalid quota amount (1-100)")
			return
		}
		slog.Error("Failed to grant quota", "target_user_id", req.TargetUserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to grant quota")
		return
	}

	JSON(w, http.StatusOK, grantResponse{
		Status:        "granted",
		UserID:        grant.UserID,
		BonusMessages: grant.BonusMessages,
		GrantedAt:     grant.GrantedAt,
	})
}

func readGrantRequest(w http.ResponseWriter, r *http.Request) (grantRequest, error) {
	var req grantRequest
	if r.Body != nil && r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodySize)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return req, errors.New("invalid request body")
		}
	}

	q := r.URL.Query()
	if req.AdminRole == "" {
		req.AdminRole = q.Get("admin_role")
	}
	if req.TargetUserID == "" {
		req.TargetUserID = q.Get("target_user_id")
	}
	if req.AdditionalMessages == nil && q.Has("additional_messages") {
		n, err := strconv.Atoi(q.Get("additional_messages"))
		if err != nil {
			return req, errors.New("additional_messages must be an integer")
		}
		req.AdditionalMessages = &n
	}
	return req, nil
}

// UsageStats reports today's users at their limit.
func (h *AdminHandler) UsageStats(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("admin_role")
	if err := h.quota.RequireAdmin(role); err != nil {
		slog.Warn("Rejected admin request", "path", r.URL.Path, "role", role)
		Error(w, http.StatusForbidden, "Unauthorized. Admin access required.")
		return
	}

	stats, err := h.quota.UsageStats(r.Context())
	if err != nil {
		slog.Error("Failed to collect usage stats", "error", err)
		Error(w, http.StatusInternalServerError, "failed to collect usage stats")
		return
	}
	JSON(w, http.StatusOK, stats)
}
