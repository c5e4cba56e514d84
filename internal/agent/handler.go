package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/yieldera/advisor/internal/api"
	"github.com/yieldera/advisor/internal/quota"
)

const (
	defaultMaxRequestBodySize = 1 << 20 // 1MB

	minMessageLength = 2
	maxMessageLength = 1000
)

// Chatter answers chat requests.
type Chatter interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResult, error)
}

// Handler serves the chat endpoint.
type Handler struct {
	chat        Chatter
	maxBodySize int64
}

// NewHandler creates a chat Handler.
func NewHandler(chat Chatter) *Handler {
	return &Handler{chat: chat, maxBodySize: defaultMaxRequestBodySize}
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.HandleChat)
}

type quotaErrorResponse struct {
	Error     string `json:"error"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// HandleChat answers one chat message as JSON.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateChat(req); msg != "" {
		api.Error(w, http.StatusBadRequest, msg)
		return
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	slog.Info("Chat request",
		"request_id", reqID,
		"user_id", req.Context.UserID,
		"role", req.Context.NormalizedRole(),
		"message_length", utf8.RuneCountInString(req.Message),
		"history", len(req.History),
	)

	result, err := h.chat.Chat(r.Context(), req)
	if err != nil {
		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			api.JSON(w, http.StatusTooManyRequests, quotaErrorResponse{
				Error:     exceeded.Error(),
				Limit:     exceeded.Limit,
				Remaining: 0,
			})
			return
		}
		slog.Error("Chat request failed", "request_id", reqID, "user_id", req.Context.UserID, "error", err)
		api.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	api.JSON(w, http.StatusOK, result)
}

func validateChat(req ChatRequest) string {
	n := utf8.RuneCountInString(req.Message)
	switch {
	case n < minMessageLength:
		return "message must be at least 2 characters"
	case n > maxMessageLength:
		return "message must be at most 1000 characters"
	case strings.TrimSpace(req.Context.UserID) == "":
		return "context.user_id is required"
	}
	return ""
}
