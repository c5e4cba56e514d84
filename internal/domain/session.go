package domain

// MaxHistoryMessages bounds how many caller-supplied history messages are
// replayed into a conversation.
const MaxHistoryMessages = 10

// Plan is the structured intent produced once per request before the agent
// loop starts. It is embedded verbatim into the system instruction.
type Plan struct {
	Goal         string   `json:"goal" mapstructure:"goal"`
	RequiredInfo []string `json:"required_info" mapstructure:"required_info"`
	ToolsNeeded  []string `json:"tools_needed" mapstructure:"tools_needed"`
}

// FallbackPlan is used whenever planning fails.
func FallbackPlan() Plan {
	return Plan{Goal: "Answer directly", RequiredInfo: []string{}, ToolsNeeded: []string{}}
}

// Normalize replaces nil slices so the plan always serializes as arrays.
func (p Plan) Normalize() Plan {
	if p.RequiredInfo == nil {
		p.RequiredInfo = []string{}
	}
	if p.ToolsNeeded == nil {
		p.ToolsNeeded = []string{}
	}
	return p
}

// HistoryMessage is a prior conversation turn supplied by the caller.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TrimHistory keeps only the most recent MaxHistoryMessages entries.
func TrimHistory(history []HistoryMessage) []HistoryMessage {
	if len(history) <= MaxHistoryMessages {
		return history
	}
	return history[len(history)-MaxHistoryMessages:]
}
