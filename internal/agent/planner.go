package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/yieldera/advisor/internal/audit"
	"github.com/yieldera/advisor/internal/domain"
	"github.com/yieldera/advisor/internal/llm"
)

var errNoPlan = errors.New("planner did not call " + submitPlanTool)

var planTool = llm.Tool{
	Name:        submitPlanTool,
	Description: "Submit the execution plan",
	Parameters: &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"goal": {Type: "string", Description: "What needs to be achieved"},
			"required_info": {
				Type:        "array",
				Items:       &llm.Schema{Type: "string"},
				Description: "Information needed (e.g. 'Field Location', 'Weather Forecast')",
			},
			"tools_needed": {
				Type:        "array",
				Items:       &llm.Schema{Type: "string"},
				Description: "Tools to use (e.g. 'get_fields', 'get_weather')",
			},
		},
		Required: []string{"goal", "required_info", "tools_needed"},
	},
}

// PlannerConfig configures a Planner.
type PlannerConfig struct {
	Model   string
	Tools   []string
	Timeout time.Duration
	Audit   audit.Sink
	Logger  *slog.Logger
}

// Planner asks the model for a structured plan before the agent loop runs.
type Planner struct {
	client  llm.Client
	model   string
	tools   []string
	timeout time.Duration
	audit   audit.Sink
	logger  *slog.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(client llm.Client, cfg PlannerConfig) *Planner {
	p := &Planner{
		client:  client,
		model:   cfg.Model,
		tools:   cfg.Tools,
		timeout: cfg.Timeout,
		audit:   cfg.Audit,
		logger:  cfg.Logger,
	}
	if p.audit == nil {
		p.audit = audit.Nop{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Plan returns the model's plan, or the fallback plan on any failure.
// It never returns an error.
func (p *Planner) Plan(ctx context.Context, uc domain.ConversationContext, message string) domain.Plan {
	plan, err := p.request(ctx, uc, message)
	if err != nil {
		p.logger.Warn("Planning failed, using fallback plan", "user_id", uc.UserID, "error", err)
		p.audit.Log(audit.New(uc.UserID, audit.PlanFallback, map[string]any{"error": err.Error()}))
		return domain.FallbackPlan()
	}
	p.audit.Log(audit.New(uc.UserID, audit.PlanCreated, map[string]any{
		"goal":         plan.Goal,
		"tools_needed": plan.ToolsNeeded,
	}))
	return plan
}

func (p *Planner) request(ctx context.Context, uc domain.ConversationContext, message string) (domain.Plan, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	resp, err := p.client.Chat(ctx, llm.Request{
		Model: p.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: plannerPrompt(uc, p.tools)},
			{Role: llm.RoleUser, Content: message},
		},
		Tools:      []llm.Tool{planTool},
		ToolChoice: llm.ForceTool(submitPlanTool),
	})
	if err != nil {
		return domain.Plan{}, fmt.Errorf("request plan: %w", err)
	}
	for _, call := range resp.Message.ToolCalls {
		if call.Name == submitPlanTool {
			return decodePlan(call.Arguments)
		}
	}
	return domain.Plan{}, errNoPlan
}

func decodePlan(raw json.RawMessage) (domain.Plan, error) {
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return domain.Plan{}, fmt.Errorf("decode plan arguments: %w", err)
	}
	var plan domain.Plan
	if err := mapstructure.Decode(args, &plan); err != nil {
		return domain.Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	if plan.Goal == "" {
		return domain.Plan{}, errors.New("decode plan: goal is empty")
	}
	return plan.Normalize(), nil
}
