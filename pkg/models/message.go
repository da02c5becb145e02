package models

import "time"

// MessageRole identifies the author of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ToolCall is the LLM's structured request to run a skill tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`      // canonical "skill.tool"
	Arguments string `json:"arguments"` // raw JSON object
}

// ToolResult records the outcome of one executed tool call.
type ToolResult struct {
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
	DurationMs int64  `json:"duration_ms"`
}

// ChatMessage is one row of a session's append-only log. Tool messages must
// reference a prior assistant message whose ToolCalls contains their call id;
// the session store rejects appends that violate this.
type ChatMessage struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id"`
	Role         MessageRole    `json:"role"`
	Content      string         `json:"content"`
	Thinking     string         `json:"thinking,omitempty"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults  []ToolResult   `json:"tool_results,omitempty"`
	Model        string         `json:"model,omitempty"`
	TokensInput  int            `json:"tokens_input"`
	TokensOutput int            `json:"tokens_output"`
	Cost         float64        `json:"cost"`
	LatencyMs    int64          `json:"latency_ms"`
	Embedding    []float32      `json:"-"`
	AgentID      string         `json:"agent_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
