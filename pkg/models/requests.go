package models

// CreateSessionRequest contains fields for creating a chat session.
type CreateSessionRequest struct {
	AgentID  string         `json:"agent_id"`
	Type     SessionType    `json:"session_type"`
	Title    string         `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AppendMessageRequest contains fields for appending one message row.
type AppendMessageRequest struct {
	SessionID    string
	Role         MessageRole
	Content      string
	Thinking     string
	ToolCalls    []ToolCall
	ToolResults  []ToolResult
	Model        string
	TokensInput  int
	TokensOutput int
	Cost         float64
	LatencyMs    int64
	AgentID      string
	Metadata     map[string]any
}

// SendMessageRequest is the HTTP body for posting a user message to a session.
type SendMessageRequest struct {
	Content        string `json:"content"`
	EnableTools    bool   `json:"enable_tools"`
	EnableThinking bool   `json:"enable_thinking"`
}

// DiscussRequest contains the inputs of a roundtable discussion.
type DiscussRequest struct {
	Topic               string   `json:"topic"`
	AgentIDs            []string `json:"agent_ids"`
	Rounds              int      `json:"rounds"`
	SynthesizerID       string   `json:"synthesizer_id"`
	AgentTimeoutSeconds int      `json:"agent_timeout"`
	TotalTimeoutSeconds int      `json:"total_timeout"`
}

// SyncResult reports what a catalog sync changed.
type SyncResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// ExpertScore is a recency-weighted skill score for one candidate.
type ExpertScore struct {
	Candidate string  `json:"candidate"`
	Score     float64 `json:"score"`
	Samples   int     `json:"samples"`
}
