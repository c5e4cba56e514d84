package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// generator is the subset of genai.Models used by GeminiClient.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// syntheticCallPrefix marks call ids minted locally; they are not sent back.
const syntheticCallPrefix = "call_"

// GeminiClient implements Client on the Gemini API.
type GeminiClient struct {
	models generator
	newID  func() string
}

// NewGemini creates a Gemini client authenticated with apiKey.
func NewGemini(ctx context.Context, apiKey string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return newGeminiClient(client.Models), nil
}

func newGeminiClient(models generator) *GeminiClient {
	return &GeminiClient{
		models: models,
		newID:  func() string { return syntheticCallPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:24] },
	}
}

// Chat implements Client. A function call without a Gemini id receives a
// synthesized one.
func (c *GeminiClient) Chat(ctx context.Context, req Request) (*Response, error) {
	system, contents, err := toGeminiContents(req.Messages)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(system)}}
	}
	if len(req.Tools) > 0 {
		config.Tools = toGeminiTools(req.Tools)
		if req.ToolChoice.Force != "" {
			config.ToolConfig = &genai.ToolConfig{
				FunctionCallingConfig: &genai.FunctionCallingConfig{
					Mode:                 genai.FunctionCallingConfigModeAny,
					AllowedFunctionNames: []string{req.ToolChoice.Force},
				},
			}
		}
	}

	resp, err := c.models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		var apiErrPtr *genai.APIError
		if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
			return nil, &APIError{Provider: "gemini", StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message}
		}
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &APIError{Provider: "gemini", StatusCode: apiErr.Code, Message: apiErr.Message}
		}
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	return c.fromGeminiResponse(resp, req.Model)
}

// toGeminiContents splits system messages into a single instruction and
// converts the rest. Consecutive tool results are merged into one turn.
func toGeminiContents(messages []Message) (string, []*genai.Content, error) {
	var (
		system   []string
		contents []*genai.Content
	)
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{genai.NewPartFromText(m.Content)},
			})
		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &args); err != nil {
						args = map[string]any{"raw": string(tc.Arguments)}
					}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: geminiCallID(tc.ID), Name: tc.Name, Args: args}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case RoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       geminiCallID(m.ToolCallID),
				Name:     m.Name,
				Response: toolResponse(m.Content),
			}}
			if n := len(contents); n > 0 && isFunctionResponseTurn(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{part}})
		default:
			return "", nil, fmt.Errorf("gemini: unsupported message role %q", m.Role)
		}
	}
	return strings.Join(system, "\n\n"), contents, nil
}

func isFunctionResponseTurn(c *genai.Content) bool {
	return len(c.Parts) > 0 && c.Parts[0].FunctionResponse != nil
}

// geminiCallID returns the id to echo back to Gemini, or "" for a synthesized
// one.
func geminiCallID(id string) string {
	if strings.HasPrefix(id, syntheticCallPrefix) {
		return ""
	}
	return id
}

// toolResponse wraps a tool message body in the object Gemini requires.
func toolResponse(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil && obj != nil {
		return obj
	}
	var v any
	if err := json.Unmarshal([]byte(content), &v); err == nil {
		return map[string]any{"result": v}
	}
	return map[string]any{"content": content}
}

func toGeminiTools(tools []Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		fd := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
		if t.Parameters != nil && len(t.Parameters.Properties) > 0 {
			fd.Parameters = toGeminiSchema(t.Parameters)
		}
		decls = append(decls, fd)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func toGeminiSchema(s *Schema) *genai.Schema {
	out := &genai.Schema{
		Type:        toGeminiType(s.Type),
		Description: s.Description,
		Required:    s.Required,
	}
	if len(s.Enum) > 0 {
		out.Enum = s.Enum
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGeminiSchema(prop)
		}
	}
	if s.Items != nil {
		out.Items = toGeminiSchema(s.Items)
	}
	return out
}

func toGeminiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

func (c *GeminiClient) fromGeminiResponse(resp *genai.GenerateContentResponse, model string) (*Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, errors.New("gemini: response blocked by safety filters")
	}

	out := &Response{Model: model, Message: Message{Role: RoleAssistant}}
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil || part.FunctionCall.Args == nil {
				args = []byte(`{}`)
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = c.newID()
			}
			out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{
				ID:        id,
				Name:      part.FunctionCall.Name,
				Arguments: args,
			})
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}
	out.Message.Content = text.String()

	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{PromptTokens: int(u.PromptTokenCount), CompletionTokens: int(u.CandidatesTokenCount)}
	}
	return out, nil
}
