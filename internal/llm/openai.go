package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultMaxAttempts   = 3
	defaultBackoff       = time.Second
)

// OpenAIConfig configures an OpenAI-compatible client.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	HTTPClient  *http.Client
	MaxAttempts int
	Backoff     time.Duration
	Logger      *slog.Logger
}

// OpenAIClient talks to any /chat/completions endpoint with tool support.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	http        *http.Client
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

// NewOpenAI creates an OpenAI-compatible client.
func NewOpenAI(cfg OpenAIConfig) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		http:        cfg.HTTPClient,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		logger:      cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = defaultOpenAIBaseURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 120 * time.Second}
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.backoff <= 0 {
		c.backoff = defaultBackoff
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIFunction struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIRequest struct {
	Model      string          `json:"model"`
	Messages   []openAIMessage `json:"messages"`
	Tools      []openAITool    `json:"tools,omitempty"`
	ToolChoice any             `json:"tool_choice,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func toOpenAIRequest(req Request) openAIRequest {
	out := openAIRequest{Model: req.Model, Messages: make([]openAIMessage, 0, len(req.Messages))}
	for _, m := range req.Messages {
		content := m.Content
		om := openAIMessage{
			Role:       string(m.Role),
			Content:    &content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		if m.Role == RoleAssistant && len(m.ToolCalls) > 0 {
			if content == "" {
				om.Content = nil
			}
			for _, tc := range m.ToolCalls {
				args := string(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				om.ToolCalls = append(om.ToolCalls, openAIToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: openAIFunctionCall{Name: tc.Name, Arguments: args},
				})
			}
		}
		out.Messages = append(out.Messages, om)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openAITool{
			Type:     "function",
			Function: openAIFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	if len(req.Tools) > 0 {
		if req.ToolChoice.Force != "" {
			out.ToolChoice = map[string]any{
				"type":     "function",
				"function": map[string]string{"name": req.ToolChoice.Force},
			}
		} else {
			out.ToolChoice = "auto"
		}
	}
	return out
}

// Chat implements Client. 429 and 5xx responses and transport errors are
// retried with exponential backoff.
func (c *OpenAIClient) Chat(ctx context.Context, req Request) (*Response, error) {
	if c.apiKey == "" {
		return nil, errors.New("openai: API key not set")
	}
	raw, err := json.Marshal(toOpenAIRequest(req))
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}

	var (
		body    []byte
		lastErr error
		backoff = c.backoff
	)
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			c.logger.Warn("Retrying completion request", "attempt", attempt, "max_attempts", c.maxAttempts, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("openai: %w", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		body, lastErr = c.do(ctx, raw)
		if lastErr == nil {
			break
		}
		var apiErr *APIError
		if errors.As(lastErr, &apiErr) && !apiErr.Retryable() {
			return nil, lastErr
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("openai: %w", ctx.Err())
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: request failed after %d attempts: %w", c.maxAttempts, lastErr)
	}

	var out openAIResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("openai: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	msg := out.Choices[0].Message
	resp := &Response{
		Model: out.Model,
		Usage: Usage{PromptTokens: out.Usage.PromptTokens, CompletionTokens: out.Usage.CompletionTokens},
		Message: Message{
			Role: RoleAssistant,
		},
	}
	if msg.Content != nil {
		resp.Message.Content = *msg.Content
	}
	for _, tc := range msg.ToolCalls {
		resp.Message.ToolCalls = append(resp.Message.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: normalizeArguments(tc.Function.Arguments),
		})
	}
	return resp, nil
}

func (c *OpenAIClient) do(ctx context.Context, raw []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "openai", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return body, nil
}
