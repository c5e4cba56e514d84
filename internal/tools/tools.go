// Package tools implements the closed set of data tools the assistant may
// call. Every tool name is bound at construction to exactly one handler with
// a typed argument struct, and the schema offered to the model is generated
// from the same table.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/yieldera/advisor/internal/audit"
	"github.com/yieldera/advisor/internal/cache"
	"github.com/yieldera/advisor/internal/domain"
	"github.com/yieldera/advisor/internal/llm"
)

// Name identifies a tool.
type Name string

// Tool names. This is the complete set; anything else is an unknown tool.
const (
	GetFields            Name = "get_fields"
	GetWeather           Name = "get_weather"
	GetVegetationHealth  Name = "get_vegetation_health"
	GetHistoricalWeather Name = "get_historical_weather"
	GetAlerts            Name = "get_alerts"
	CreateAlert          Name = "create_alert"
	GetInsuranceQuote    Name = "get_insurance_quote"
)

// ErrorKind classifies a failed invocation.
type ErrorKind string

// Error kinds.
const (
	KindUnknownTool      ErrorKind = "unknown_tool"
	KindInvalidArguments ErrorKind = "invalid_arguments"
	KindNotFound         ErrorKind = "not_found"
	KindUpstream         ErrorKind = "upstream"
	KindTimeout          ErrorKind = "timeout"
	KindPanic            ErrorKind = "panic"
	KindExecution        ErrorKind = "execution"
)

// Error is returned by handlers to control the kind reported to the model.
type Error struct {
	Kind    ErrorKind
	Message string
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

func invalidArgs(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArguments, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func upstreamErr(message string, err error) *Error {
	e := &Error{Kind: KindUpstream, Message: message}
	if err != nil {
		e.Details = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			e.Kind = KindTimeout
		}
	}
	return e
}

// Result is the outcome of one invocation: either a value or an error with
// its kind. It is always produced, whatever the handler did.
type Result struct {
	Value   any
	Err     string
	Kind    ErrorKind
	Details string
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool { return r.Kind == "" }

// MarshalJSON encodes the value, or {"error", "kind"} for failures.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.OK() {
		return json.Marshal(r.Value)
	}
	out := struct {
		Error   string    `json:"error"`
		Kind    ErrorKind `json:"kind"`
		Details string    `json:"details,omitempty"`
	}{r.Err, r.Kind, r.Details}
	return json.Marshal(out)
}

// Content renders the result as the body of a tool transcript message.
func (r Result) Content() string {
	b, err := json.Marshal(r)
	if err != nil {
		b, _ = json.Marshal(Result{Err: "result could not be encoded: " + err.Error(), Kind: KindExecution})
	}
	return string(b)
}

func failure(kind ErrorKind, message string) Result {
	return Result{Err: message, Kind: kind}
}

func resultFromError(err error) Result {
	var te *Error
	if errors.As(err, &te) {
		return Result{Err: te.Message, Kind: te.Kind, Details: te.Details}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failure(KindTimeout, err.Error())
	}
	return failure(KindExecution, err.Error())
}

// Config holds upstream endpoints and shared collaborators for the handlers.
type Config struct {
	InternalAPIKey string
	BridgeURL      string
	AlertsURL      string
	NDVIURL        string
	NDVIToken      string
	FrostURL       string
	IndexURL       string
	OpenMeteoURL   string

	// Timeout bounds each invocation unless the tool declares its own.
	Timeout     time.Duration
	ForecastTTL time.Duration

	HTTPClient *http.Client
	Cache      *cache.Cache
	Audit      audit.Sink
	Logger     *slog.Logger
	Now        func() time.Time
}

// Dispatcher routes tool calls to their handlers.
type Dispatcher struct {
	handlers map[Name]handler
	order    []Name
	timeout  time.Duration
	logger   *slog.Logger
}

// New builds the dispatcher with every tool bound.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ForecastTTL <= 0 {
		cfg.ForecastTTL = 4 * time.Hour
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	gazetteer, err := LoadGazetteer()
	if err != nil {
		return nil, err
	}

	tk := &toolkit{
		cfg:       cfg,
		http:      &upstream{client: cfg.HTTPClient},
		gazetteer: gazetteer,
	}

	d := &Dispatcher{
		handlers: make(map[Name]handler),
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
	for _, h := range tk.bindings() {
		name := h.definition().Name
		if _, dup := d.handlers[Name(name)]; dup {
			return nil, fmt.Errorf("tool %s bound twice", name)
		}
		d.handlers[Name(name)] = h
		d.order = append(d.order, Name(name))
	}
	return d, nil
}

// Names returns the bound tool names in registration order.
func (d *Dispatcher) Names() []Name {
	return append([]Name(nil), d.order...)
}

// Schemas returns the tool definitions offered to the model.
func (d *Dispatcher) Schemas() []llm.Tool {
	out := make([]llm.Tool, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.handlers[name].definition())
	}
	return out
}

// Dispatch runs one call. It never panics and always returns a Result.
func (d *Dispatcher) Dispatch(ctx context.Context, uc domain.ConversationContext, call llm.ToolCall) (res Result) {
	h, ok := d.handlers[Name(call.Name)]
	if !ok {
		return failure(KindUnknownTool, fmt.Sprintf("Unknown tool: %s", call.Name))
	}

	timeout := h.timeout()
	if timeout <= 0 {
		timeout = d.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Tool handler panicked", "tool", call.Name, "call_id", call.ID, "panic", r, "stack", string(debug.Stack()))
			res = failure(KindPanic, fmt.Sprintf("tool %s failed unexpectedly: %v", call.Name, r))
		}
	}()

	start := time.Now()
	value, err := h.invoke(ctx, uc, call.Arguments)
	if err != nil {
		d.logger.Warn("Tool invocation failed", "tool", call.Name, "call_id", call.ID, "duration", time.Since(start), "error", err)
		return resultFromError(err)
	}
	d.logger.Debug("Tool invocation succeeded", "tool", call.Name, "call_id", call.ID, "duration", time.Since(start))
	return Result{Value: value}
}

// toolkit carries the collaborators shared by every handler.
type toolkit struct {
	cfg       Config
	http      *upstream
	gazetteer *Gazetteer
}

func (tk *toolkit) bindings() []handler {
	return []handler{
		bind(GetFields, "Get the user's fields, crops, and locations.",
			&llm.Schema{Type: "object", Properties: map[string]*llm.Schema{}}, 0, tk.getFields),
		bind(GetWeather, "Get weather forecast for a specific location.",
			weatherSchema, 0, tk.getWeather),
		bind(GetVegetationHealth, "Get historical vegetation health (NDVI) for a specific field and date.",
			vegetationSchema, 0, tk.getVegetationHealth),
		bind(GetHistoricalWeather, "Get HISTORICAL weather data (past temperatures) using dual consensus module (OpenMeteo + NASA POWER). IMPORTANT: Use field_id when asking about a specific field - this ensures accurate coordinates.",
			historicalSchema, 0, tk.getHistoricalWeather),
		bind(GetAlerts, "Get active alerts from the REAL alerts system (NOT portfolio data). Use this when user asks about alerts, warnings, notifications, or configured monitoring rules.",
			alertsSchema, 0, tk.getAlerts),
		bind(CreateAlert, "Create a new weather/field alert with email notifications. Parse natural language like 'alert me when temp > 40 for field X' into structured parameters.",
			createAlertSchema, 0, tk.createAlert),
		bind(GetInsuranceQuote, "Generate crop insurance quotes. Supports 3 methods: field-based ('quote field P60'), coordinates ('quote lat -17.82, lon 30.99'), or region ('quote Mazowe'). Returns premium, sum insured, and AI risk analysis.",
			insuranceSchema, insuranceTimeout, tk.getInsuranceQuote),
	}
}
