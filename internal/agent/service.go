// Package agent plans and runs a tool-calling conversation turn and serves
// the chat endpoint.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yieldera/advisor/internal/domain"
	"github.com/yieldera/advisor/internal/llm"
	"github.com/yieldera/advisor/internal/quota"
)

// ChatRequest is one inbound chat message.
type ChatRequest struct {
	Message        string                     `json:"message"`
	Context        domain.ConversationContext `json:"context"`
	ConversationID string                     `json:"conversation_id,omitempty"`
	History        []domain.HistoryMessage    `json:"history,omitempty"`
}

// ChatResult is the answer to a ChatRequest.
type ChatResult struct {
	Response       string      `json:"response"`
	Plan           domain.Plan `json:"plan"`
	Usage          quota.Usage `json:"usage"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Steps          int         `json:"steps"`
	ToolsUsed      []string    `json:"tools_used"`
	Tokens         llm.Usage   `json:"tokens"`
}

// Admitter consumes a unit of a caller's allowance.
type Admitter interface {
	Admit(ctx context.Context, userID, role string) (quota.Usage, error)
}

// PlanMaker produces the plan for a message. It must not fail.
type PlanMaker interface {
	Plan(ctx context.Context, uc domain.ConversationContext, message string) domain.Plan
}

// Runner runs the agent loop.
type Runner interface {
	Run(ctx context.Context, turn Turn) (*Outcome, error)
}

// Service wires admission, planning and the agent loop.
type Service struct {
	quota   Admitter
	planner PlanMaker
	loop    Runner
	logger  *slog.Logger
}

// NewService creates a chat Service.
func NewService(q Admitter, planner PlanMaker, loop Runner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{quota: q, planner: planner, loop: loop, logger: logger}
}

// Chat admits, plans and answers one message. Quota errors are returned
// unchanged; provider failures become ApologyText.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	uc := req.Context
	uc.Role = uc.NormalizedRole()

	usage, err := s.quota.Admit(ctx, uc.UserID, uc.Role)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	plan := s.planner.Plan(ctx, uc, req.Message)

	convID := req.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}
	result := &ChatResult{
		Plan:           plan,
		Usage:          usage,
		ConversationID: convID,
		ToolsUsed:      []string{},
	}

	out, err := s.loop.Run(ctx, Turn{
		Context: uc,
		Plan:    plan,
		History: req.History,
		Message: req.Message,
	})
	if out != nil {
		result.Steps = out.Steps
		result.ToolsUsed = out.ToolsUsed
		result.Tokens = out.Usage
		result.Response = out.Text
	}
	if err != nil {
		if !errors.Is(err, ErrProvider) {
			return nil, err
		}
		s.logger.Error("Agent turn failed", "user_id", uc.UserID, "conversation_id", convID, "error", err)
		result.Response = ApologyText
	}

	s.logger.Info("Chat turn completed",
		"user_id", uc.UserID,
		"conversation_id", convID,
		"steps", result.Steps,
		"tools_used", result.ToolsUsed,
		"duration", time.Since(start),
	)
	return result, nil
}
