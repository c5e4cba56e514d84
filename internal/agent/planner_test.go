package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yieldera/advisor/internal/audit"
	"github.com/yieldera/advisor/internal/audit/audittest"
	"github.com/yieldera/advisor/internal/domain"
	"github.com/yieldera/advisor/internal/llm"
)

func TestPlannerForcesSubmitPlan(t *testing.T) {
	t.Parallel()
	rec := &audittest.Recorder{}
	client := script(calls(call("p", submitPlanTool,
		`{"goal":"Check frost risk","required_info":["Field Location"],"tools_needed":["get_fields","get_weather"]}`)))
	planner := NewPlanner(client, PlannerConfig{
		Model: "planner-model",
		Tools: []string{"get_fields", "get_weather"},
		Audit: rec,
	})

	plan := planner.Plan(context.Background(), testUser, "Will it frost on Field Alpha?")
	assert.Equal(t, domain.Plan{
		Goal:         "Check frost risk",
		RequiredInfo: []string{"Field Location"},
		ToolsNeeded:  []string{"get_fields", "get_weather"},
	}, plan)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "planner-model", reqs[0].Model)
	assert.Equal(t, llm.ForceTool(submitPlanTool), reqs[0].ToolChoice)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, submitPlanTool, reqs[0].Tools[0].Name)
	assert.Contains(t, reqs[0].Messages[0].Content, "- get_weather")
	assert.Contains(t, reqs[0].Messages[0].Content, "User Role: farmer")
	assert.Equal(t, []audit.EventType{audit.PlanCreated}, rec.Types())
}

func TestPlannerFallsBack(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		reply scriptedReply
	}{
		{name: "transport error", reply: failWith(errors.New("connection reset"))},
		{name: "no tool call", reply: text(`{"goal":"x"}`)},
		{name: "malformed arguments", reply: calls(call("p", submitPlanTool, `"not an object"`))},
		{name: "wrong types", reply: calls(call("p", submitPlanTool, `{"goal":"x","tools_needed":"get_fields"}`))},
		{name: "empty goal", reply: calls(call("p", submitPlanTool, `{"required_info":[],"tools_needed":[]}`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := &audittest.Recorder{}
			planner := NewPlanner(script(tt.reply), PlannerConfig{Audit: rec})

			plan := planner.Plan(context.Background(), testUser, "hello there")
			assert.Equal(t, domain.FallbackPlan(), plan)
			assert.Equal(t, []audit.EventType{audit.PlanFallback}, rec.Types())
		})
	}
}

func TestPlannerNormalizesMissingLists(t *testing.T) {
	t.Parallel()
	planner := NewPlanner(script(calls(call("p", submitPlanTool, `{"goal":"Say hi"}`))), PlannerConfig{})

	plan := planner.Plan(context.Background(), testUser, "hi!")
	assert.Equal(t, "Say hi", plan.Goal)
	assert.NotNil(t, plan.RequiredInfo)
	assert.NotNil(t, plan.ToolsNeeded)
}
