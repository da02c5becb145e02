package models

import "time"

// SessionType distinguishes interactive user chats from synthetic sessions.
type SessionType string

const (
	SessionTypeInteractive SessionType = "interactive"
	SessionTypeCron        SessionType = "cron"
	SessionTypeSkillExec   SessionType = "skill_exec"
	SessionTypeRoundtable  SessionType = "roundtable"
	SessionTypeSwarm       SessionType = "swarm"
)

// SessionStatus is the lifecycle state of a chat session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusError     SessionStatus = "error"
	SessionStatusArchived  SessionStatus = "archived"
)

// Terminal reports whether the status allows no further turns.
func (s SessionStatus) Terminal() bool {
	return s != SessionStatusActive
}

// ChatSession is an append-only conversation between a user (or a synthetic
// originator) and a single agent. MessageCount, TotalTokens and TotalCost are
// maintained by the session store on every append.
type ChatSession struct {
	ID                   string         `json:"id"`
	AgentID              string         `json:"agent_id"`
	Type                 SessionType    `json:"session_type"`
	Title                string         `json:"title"`
	SystemPromptSnapshot string         `json:"system_prompt_snapshot,omitempty"`
	ModelSnapshot        string         `json:"model_snapshot,omitempty"`
	Status               SessionStatus  `json:"status"`
	MessageCount         int            `json:"message_count"`
	TotalTokens          int            `json:"total_tokens"`
	TotalCost            float64        `json:"total_cost"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	EndedAt              *time.Time     `json:"ended_at,omitempty"`
}
