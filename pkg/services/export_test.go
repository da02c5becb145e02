package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aria-agents/aria/pkg/models"
)

func TestRenderMarkdown(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)
	sess := &models.ChatSession{
		ID:           "11111111-1111-1111-1111-111111111111",
		AgentID:      "analyst",
		Type:         models.SessionTypeInteractive,
		Title:        "Quarterly review",
		Status:       models.SessionStatusActive,
		MessageCount: 3,
		TotalTokens:  420,
	}
	msgs := []*models.ChatMessage{
		{Role: models.RoleUser, Content: "What changed?", CreatedAt: created},
		{
			Role:      models.RoleAssistant,
			CreatedAt: created.Add(time.Second),
			ToolCalls: []models.ToolCall{{ID: "call_1", Name: "calc.add", Arguments: `{"a":2,"b":2}`}},
		},
		{
			Role:        models.RoleTool,
			CreatedAt:   created.Add(2 * time.Second),
			ToolResults: []models.ToolResult{{CallID: "call_1", Name: "calc.add", Content: "4", DurationMs: 12}},
		},
	}

	out := string(renderMarkdown(sess, msgs))

	assert.Contains(t, out, "# Quarterly review")
	assert.Contains(t, out, "- Agent: analyst")
	assert.Contains(t, out, "## user (2026-03-14 09:26:53.589793)")
	assert.Contains(t, out, "What changed?")
	assert.Contains(t, out, "> tool call `calc.add` (call_1)")
	assert.Contains(t, out, "> tool result `calc.add` (12ms): 4")
}

func TestRenderMarkdownUntitledSessionFallsBackToID(t *testing.T) {
	sess := &models.ChatSession{ID: "22222222-2222-2222-2222-222222222222"}
	out := string(renderMarkdown(sess, nil))
	assert.Contains(t, out, "# 22222222-2222-2222-2222-222222222222")
}
