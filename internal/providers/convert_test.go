package providers

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/switchyard-ai/switchyard/pkg/models"
)

func TestConvertOpenAIMessages(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "grep", Input: json.RawMessage(`{"pattern":"x"}`)},
			},
		},
		{Role: models.RoleTool, ToolCallID: "call_1", Content: "3 matches"},
	}

	out := convertOpenAIMessages("be terse", msgs)
	if len(out) != 4 {
		t.Fatalf("got %d messages, want 4 (system + 3)", len(out))
	}
	if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "be terse" {
		t.Errorf("system message = %+v", out[0])
	}
	if out[2].Role != openai.ChatMessageRoleAssistant || len(out[2].ToolCalls) != 1 {
		t.Errorf("assistant tool call lost: %+v", out[2])
	}
	if out[2].ToolCalls[0].Function.Name != "grep" {
		t.Errorf("tool name = %q", out[2].ToolCalls[0].Function.Name)
	}
	if out[3].Role != openai.ChatMessageRoleTool || out[3].ToolCallID != "call_1" {
		t.Errorf("tool result message = %+v", out[3])
	}
}

func TestConvertAnthropicMessages(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "dropped here, carried via params"},
		{Role: models.RoleUser, Content: "hi"},
		{
			Role:    models.RoleAssistant,
			Content: "let me check",
			ToolCalls: []models.ToolCall{
				{ID: "t1", Name: "ls", Input: json.RawMessage(`{}`)},
			},
		},
		{Role: models.RoleTool, ToolCallID: "t1", Content: "a.txt"},
	}

	out, err := convertAnthropicMessages(msgs)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	// System dropped, three remaining.
	if len(out) != 3 {
		t.Fatalf("got %d messages, want 3", len(out))
	}

	if _, err := convertAnthropicMessages([]models.Message{{
		Role:      models.RoleAssistant,
		ToolCalls: []models.ToolCall{{ID: "t", Name: "x", Input: json.RawMessage(`{broken`)}},
	}}); err == nil {
		t.Error("invalid tool input should fail conversion")
	}
}
