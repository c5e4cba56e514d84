// Package llm defines the completion provider contract used by the planner
// and the agent loop, with OpenAI-compatible and Gemini implementations.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Role is a transcript message role.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one transcript entry.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// Schema is the JSON-schema subset used for tool parameters.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Default     any                `json:"default,omitempty"`
}

// Tool describes a callable function offered to the model.
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  *Schema `json:"parameters"`
}

// ToolChoice controls whether and which tool the model must call.
// The zero value lets the model decide.
type ToolChoice struct {
	// Force names a tool the model must call.
	Force string
}

// Auto lets the model decide whether to call tools.
var Auto = ToolChoice{}

// ForceTool requires the model to call name.
func ForceTool(name string) ToolChoice {
	return ToolChoice{Force: name}
}

// Request is a single completion round-trip.
type Request struct {
	Model      string
	Messages   []Message
	Tools      []Tool
	ToolChoice ToolChoice
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Response is the assistant turn produced by the provider.
type Response struct {
	Message Message
	Usage   Usage
	Model   string
}

// Client is a completion provider.
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}

// ErrEmptyResponse is returned when the provider answers without a candidate.
var ErrEmptyResponse = errors.New("llm: provider returned no choices")

// APIError is a non-success HTTP status from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the status is worth retrying.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// normalizeArguments returns raw as JSON, encoding it as a JSON string when
// it is not valid JSON so downstream decoding reports it as malformed.
func normalizeArguments(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(raw)
	return quoted
}
