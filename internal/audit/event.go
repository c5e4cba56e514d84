// Package audit records append-only structured events describing what the
// assistant did on behalf of a user.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// ServiceName is stamped on every event.
const ServiceName = "yieldera-ai-backend"

// SystemUser is the user id for events not tied to a caller.
const SystemUser = "system"

// EventType names an audit event.
type EventType string

// Event types.
const (
	StartTurn     EventType = "START_TURN"
	ToolExecution EventType = "TOOL_EXECUTION"
	ToolError     EventType = "TOOL_ERROR"
	AIDecision    EventType = "AI_DECISION"
	CacheHit      EventType = "CACHE_HIT"
	APICall       EventType = "API_CALL"
	PlanCreated   EventType = "PLAN_CREATED"
	PlanFallback  EventType = "PLAN_FALLBACK"
	ProviderError EventType = "PROVIDER_ERROR"
	StepLimit     EventType = "STEP_LIMIT"
	QuotaExceeded EventType = "QUOTA_EXCEEDED"
	QuotaGranted  EventType = "QUOTA_GRANTED"
)

// Event is one audit record.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id"`
	EventType EventType      `json:"event_type"`
	Details   map[string]any `json:"details"`
	Metadata  map[string]any `json:"metadata"`
	Service   string         `json:"service"`
}

// Sink accepts audit events. Log must not block the caller on I/O.
type Sink interface {
	Log(event Event)
}

// New builds an event for userID.
func New(userID string, eventType EventType, details map[string]any) Event {
	return Event{UserID: userID, EventType: eventType, Details: details}
}

// Decision builds the AI_DECISION event emitted for a final answer.
func Decision(userID, query, recommendation string, factors []string) Event {
	if factors == nil {
		factors = []string{}
	}
	return New(userID, AIDecision, map[string]any{
		"query":               query,
		"recommendation":      recommendation,
		"influencing_factors": factors,
	})
}

// Normalize fills the fields a caller may leave blank. It is idempotent.
func Normalize(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.UserID == "" {
		e.UserID = SystemUser
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	if e.Service == "" {
		e.Service = ServiceName
	}
	return e
}

// Multi fans an event out to several sinks.
type Multi []Sink

// Log implements Sink.
func (m Multi) Log(event Event) {
	event = Normalize(event)
	for _, s := range m {
		if s != nil {
			s.Log(event)
		}
	}
}

// Nop discards events.
type Nop struct{}

// Log implements Sink.
func (Nop) Log(Event) {}
