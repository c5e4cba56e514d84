package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yieldera/advisor/internal/audit"
	"github.com/yieldera/advisor/internal/domain"
	"github.com/yieldera/advisor/internal/llm"
	"github.com/yieldera/advisor/internal/tools"
)

// MaxSteps bounds the number of model calls in one turn.
const MaxSteps = 5

// State is a phase of the agent loop.
type State string

// Loop states.
const (
	StateReasoning      State = "REASONING"
	StateExecutingTools State = "EXECUTING_TOOLS"
	StateDone           State = "DONE"
	StateAborted        State = "ABORTED"
	StateFailed         State = "FAILED"
)

// ErrProvider matches every *ProviderError.
var ErrProvider = errors.New("completion provider failed")

// ProviderError reports a failed model call.
type ProviderError struct {
	Step int
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("model call %d: %v", e.Step, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrProvider) match.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// ToolRunner executes tool calls on behalf of the loop.
type ToolRunner interface {
	Schemas() []llm.Tool
	Dispatch(ctx context.Context, uc domain.ConversationContext, call llm.ToolCall) tools.Result
}

// Turn is the input of one loop run.
type Turn struct {
	Context domain.ConversationContext
	Plan    domain.Plan
	History []domain.HistoryMessage
	Message string
}

// Outcome is the result of one loop run.
type Outcome struct {
	Text       string
	State      State
	Steps      int // completed tool cycles
	ModelCalls int
	ToolsUsed  []string
	Usage      llm.Usage
}

// LoopConfig configures a Loop.
type LoopConfig struct {
	Model           string
	ProviderTimeout time.Duration
	MaxSteps        int
	Audit           audit.Sink
	Logger          *slog.Logger
	Now             func() time.Time
}

// Loop drives the reasoning / tool execution cycle for a single request.
// It holds no per-request state and is safe for concurrent use.
type Loop struct {
	client   llm.Client
	tools    ToolRunner
	model    string
	timeout  time.Duration
	maxSteps int
	audit    audit.Sink
	logger   *slog.Logger
	now      func() time.Time
}

// NewLoop creates a Loop.
func NewLoop(client llm.Client, runner ToolRunner, cfg LoopConfig) *Loop {
	l := &Loop{
		client:   client,
		tools:    runner,
		model:    cfg.Model,
		timeout:  cfg.ProviderTimeout,
		maxSteps: cfg.MaxSteps,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if l.maxSteps <= 0 {
		l.maxSteps = MaxSteps
	}
	if l.audit == nil {
		l.audit = audit.Nop{}
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Run executes one turn. A provider failure returns a *ProviderError along
// with the partial outcome; hitting the step bound is not an error.
func (l *Loop) Run(ctx context.Context, turn Turn) (*Outcome, error) {
	uc := turn.Context
	transcript, err := l.transcript(turn)
	if err != nil {
		return &Outcome{State: StateFailed}, err
	}
	schemas := l.tools.Schemas()

	l.audit.Log(audit.New(uc.UserID, audit.StartTurn, map[string]any{"query": turn.Message}))

	out := &Outcome{State: StateReasoning, ToolsUsed: []string{}}
	for out.ModelCalls < l.maxSteps {
		out.ModelCalls++
		resp, err := l.ask(ctx, transcript, schemas)
		if err != nil {
			out.State = StateFailed
			l.logger.Error("Model call failed", "user_id", uc.UserID, "step", out.ModelCalls, "error", err)
			l.audit.Log(audit.New(uc.UserID, audit.ProviderError, map[string]any{
				"step":  out.ModelCalls,
				"error": err.Error(),
			}))
			return out, &ProviderError{Step: out.ModelCalls, Err: err}
		}
		out.Usage.PromptTokens += resp.Usage.PromptTokens
		out.Usage.CompletionTokens += resp.Usage.CompletionTokens

		reply := resp.Message
		if len(reply.ToolCalls) == 0 {
			out.State = StateDone
			out.Text = reply.Content
			l.audit.Log(audit.Decision(uc.UserID, turn.Message, reply.Content, out.ToolsUsed))
			return out, nil
		}

		out.State = StateExecutingTools
		reply.Role = llm.RoleAssistant
		transcript = append(transcript, reply)
		for _, call := range reply.ToolCalls {
			transcript = append(transcript, l.execute(ctx, uc, call, out.ModelCalls))
			out.ToolsUsed = append(out.ToolsUsed, call.Name)
		}
		out.Steps++
		out.State = StateReasoning
	}

	out.State = StateAborted
	out.Text = StepLimitText
	l.logger.Warn("Step limit reached", "user_id", uc.UserID, "steps", out.Steps)
	l.audit.Log(audit.New(uc.UserID, audit.StepLimit, map[string]any{
		"query": turn.Message,
		"steps": out.Steps,
		"tools": out.ToolsUsed,
	}))
	return out, nil
}

func (l *Loop) ask(ctx context.Context, transcript []llm.Message, schemas []llm.Tool) (*llm.Response, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	return l.client.Chat(ctx, llm.Request{
		Model:      l.model,
		Messages:   transcript,
		Tools:      schemas,
		ToolChoice: llm.Auto,
	})
}

// execute runs one call and returns its correlated tool message. It always
// produces a message, whatever the dispatcher returned.
func (l *Loop) execute(ctx context.Context, uc domain.ConversationContext, call llm.ToolCall, step int) llm.Message {
	res := l.tools.Dispatch(ctx, uc, call)
	if res.OK() {
		l.audit.Log(audit.New(uc.UserID, audit.ToolExecution, map[string]any{
			"tool":    call.Name,
			"call_id": call.ID,
			"args":    auditArgs(call.Arguments),
			"step":    step,
		}))
	} else {
		l.audit.Log(audit.New(uc.UserID, audit.ToolError, map[string]any{
			"tool":    call.Name,
			"call_id": call.ID,
			"kind":    string(res.Kind),
			"error":   res.Err,
			"step":    step,
		}))
	}
	return llm.Message{
		Role:       llm.RoleTool,
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    res.Content(),
	}
}

func auditArgs(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// transcript builds the system message, the replayed history and the new
// user message. History roles other than user and assistant are dropped.
func (l *Loop) transcript(turn Turn) ([]llm.Message, error) {
	system, err := systemPrompt(l.now(), turn.Context, turn.Plan)
	if err != nil {
		return nil, err
	}
	history := domain.TrimHistory(turn.History)
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, h := range history {
		switch llm.Role(h.Role) {
		case llm.RoleUser, llm.RoleAssistant:
			msgs = append(msgs, llm.Message{Role: llm.Role(h.Role), Content: h.Content})
		default:
			l.logger.Debug("Dropping history message with unsupported role", "role", h.Role)
		}
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: turn.Message})
	return msgs, nil
}
