// Package models contains the domain types shared across services, engines,
// and the API layer.
package models

import "time"

// AgentType classifies an agent's role in the hierarchy.
type AgentType string

const (
	AgentTypeOrchestrator AgentType = "orchestrator"
	AgentTypeAgent        AgentType = "agent"
	AgentTypeSubAgent     AgentType = "sub_agent"
)

// AgentStatus is the runtime status of an agent.
type AgentStatus string

const (
	AgentStatusIdle     AgentStatus = "idle"
	AgentStatusBusy     AgentStatus = "busy"
	AgentStatusDisabled AgentStatus = "disabled"
)

// RateLimit bounds how many requests an agent may serve per window.
type RateLimit struct {
	Requests      int `json:"requests" yaml:"requests"`
	WindowSeconds int `json:"window_seconds" yaml:"window_seconds"`
}

// Agent is the runtime-mutable configuration for one logical actor.
// Rows live in aria_engine.agents and mirror the agents manifest; operator
// edits flip AppManaged so catalog syncs leave them alone.
type Agent struct {
	ID                  string      `json:"agent_id"`
	DisplayName         string      `json:"display_name"`
	Type                AgentType   `json:"agent_type"`
	ParentAgentID       *string     `json:"parent_agent_id,omitempty"`
	Model               string      `json:"model"`
	FallbackModel       *string     `json:"fallback_model,omitempty"`
	SystemPrompt        string      `json:"system_prompt"`
	Temperature         float64     `json:"temperature"`
	MaxTokens           int         `json:"max_tokens"`
	FocusType           string      `json:"focus_type"`
	Skills              []string    `json:"skills"`
	Capabilities        []string    `json:"capabilities"`
	Enabled             bool        `json:"enabled"`
	TimeoutSeconds      int         `json:"timeout_seconds"`
	RateLimit           RateLimit   `json:"rate_limit"`
	AppManaged          bool        `json:"app_managed"`
	Status              AgentStatus `json:"status"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	PheromoneScore      float64     `json:"pheromone_score"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}
