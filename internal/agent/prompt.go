package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yieldera/advisor/internal/domain"
)

const (
	// StepLimitText is returned when the loop runs out of model calls.
	StepLimitText = "I needed to perform too many steps to answer this. Please try narrowing down your request."
	// ApologyText replaces the answer when the completion provider fails.
	ApologyText = "I apologize, but my connection to the Risk Engine was interrupted. Please try again in a moment."
)

const submitPlanTool = "submit_plan"

func plannerPrompt(uc domain.ConversationContext, tools []string) string {
	var b strings.Builder
	b.WriteString("You are the Strategic Planner for Yieldera AI.\n")
	fmt.Fprintf(&b, "User Role: %s\n\n", uc.NormalizedRole())
	b.WriteString("Your job is to break down the user's request into a concrete plan.\n")
	b.WriteString("Available Tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	fmt.Fprintf(&b, "\nCall %s with the plan. Output JSON.", submitPlanTool)
	return b.String()
}

// systemPrompt renders the agent instructions. The plan is embedded as JSON.
func systemPrompt(now time.Time, uc domain.ConversationContext, plan domain.Plan) (string, error) {
	planJSON, err := json.Marshal(plan.Normalize())
	if err != nil {
		return "", fmt.Errorf("encode plan: %w", err)
	}
	month := now.Format("January 2006")

	var b strings.Builder
	b.WriteString("You are the Yieldera AI Risk Analyst, a Senior Agricultural Consultant.\n")
	fmt.Fprintf(&b, "Your goal is to provide expert, data-driven advice to the user (%s, Role: %s).\n\n",
		uc.UserName, uc.NormalizedRole())
	fmt.Fprintf(&b, "Today is %s.\n", now.Format("2006-01-02"))
	fmt.Fprintf(&b, "PLAN: %s\n\n", planJSON)

	b.WriteString("### NEVER MAKE UP DATA\n")
	b.WriteString("1. Only provide information that comes from your tools.\n")
	b.WriteString("2. If you don't have access to specific data, say \"I don't have access to that data\". Do not invent numbers.\n")
	fmt.Fprintf(&b, "3. Dates before %s need get_historical_weather (past data). Dates after it need get_weather (forecast). Never call past data \"forecasted\".\n", month)
	b.WriteString("4. NDVI for a past date requires the user to give that date.\n\n")

	b.WriteString("### CONTEXT AWARENESS\n")
	b.WriteString("1. Track the intent of the previous question.\n")
	b.WriteString("2. A follow-up like \"what about field X?\" asks for the same data for field X.\n")
	b.WriteString("3. Provide that data, not a description of the field.\n\n")

	b.WriteString("### DATA INSTRUCTIONS\n")
	b.WriteString("1. To work with a named field, call get_fields first to find its ID, then pass the ID to other tools.\n")
	b.WriteString("2. Vegetation checks need a field ID and a date.\n")
	b.WriteString("3. Use get_alerts for alert questions, not portfolio data.\n")
	b.WriteString("4. Prefer field_id for get_historical_weather when the user names a field.\n")
	b.WriteString("5. For insurance quotes reply with the PDF download URL on its own line as a plain URL, then only the Sum Insured, Premium and Rate. Keep it brief.\n\n")

	b.WriteString("### STYLE\n")
	b.WriteString("Speak like a colleague and be direct. If data is missing, say so. If data exists, quote it.\n")
	return b.String(), nil
}
