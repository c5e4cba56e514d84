package domain

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestHasRoleIgnoresCase(t *testing.T) {
	t.Parallel()

	ctx := ConversationContext{UserID: "1", Role: "  ADMIN "}
	if !ctx.HasRole("admin", "administrator") {
		t.Fatal("expected ADMIN to match admin")
	}
	if (ConversationContext{Role: "farmer"}).HasRole("admin") {
		t.Fatal("farmer must not match admin")
	}
	if got := (ConversationContext{}).NormalizedRole(); got != DefaultRole {
		t.Fatalf("expected default role, got %q", got)
	}
}

func TestTrimHistoryKeepsMostRecent(t *testing.T) {
	t.Parallel()

	var history []HistoryMessage
	for i := 0; i < 14; i++ {
		history = append(history, HistoryMessage{Role: "user", Content: fmt.Sprintf("m%d", i)})
	}
	got := TrimHistory(history)
	if len(got) != MaxHistoryMessages {
		t.Fatalf("expected %d messages, got %d", MaxHistoryMessages, len(got))
	}
	if got[0].Content != "m4" || got[len(got)-1].Content != "m13" {
		t.Fatalf("unexpected window: first=%s last=%s", got[0].Content, got[len(got)-1].Content)
	}
	if short := TrimHistory(history[:3]); len(short) != 3 {
		t.Fatalf("short history should be untouched, got %d", len(short))
	}
}

func TestFallbackPlanSerializesEmptyArrays(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(FallbackPlan())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"goal":"Answer directly","required_info":[],"tools_needed":[]}`
	if string(raw) != want {
		t.Fatalf("got %s, want %s", raw, want)
	}
	if p := (Plan{Goal: "x"}).Normalize(); p.RequiredInfo == nil || p.ToolsNeeded == nil {
		t.Fatal("Normalize should replace nil slices")
	}
}
