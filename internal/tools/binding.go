package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/yieldera/advisor/internal/domain"
	"github.com/yieldera/advisor/internal/llm"
)

// validator is implemented by argument structs with constraints beyond types.
type validator interface {
	Validate() error
}

type handler interface {
	definition() llm.Tool
	timeout() time.Duration
	invoke(ctx context.Context, uc domain.ConversationContext, raw json.RawMessage) (any, error)
}

// runFunc executes a tool with its decoded arguments.
type runFunc[A any] func(ctx context.Context, uc domain.ConversationContext, args A) (any, error)

type binding[A any] struct {
	tool    llm.Tool
	limit   time.Duration
	execute runFunc[A]
}

func bind[A any](name Name, description string, params *llm.Schema, timeout time.Duration, run runFunc[A]) handler {
	return &binding[A]{
		tool:    llm.Tool{Name: string(name), Description: description, Parameters: params},
		limit:   timeout,
		execute: run,
	}
}

func (b *binding[A]) definition() llm.Tool { return b.tool }
func (b *binding[A]) timeout() time.Duration { return b.limit }

func (b *binding[A]) invoke(ctx context.Context, uc domain.ConversationContext, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[A](raw)
	if err != nil {
		return nil, err
	}
	if v, ok := any(args).(validator); ok {
		if err := v.Validate(); err != nil {
			if te, ok := err.(*Error); ok {
				return nil, te
			}
			return nil, invalidArgs("%s", err.Error())
		}
	}
	return b.execute(ctx, uc, args)
}

// decodeArgs turns the model's JSON argument object into A. Numbers given as
// strings are accepted.
func decodeArgs[A any](raw json.RawMessage) (A, error) {
	var args A

	fields := map[string]any{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return args, invalidArgs("arguments must be a JSON object: %v", err)
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &args,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return args, err
	}
	if err := dec.Decode(fields); err != nil {
		return args, invalidArgs("invalid arguments: %v", err)
	}
	return args, nil
}
