package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aria-agents/aria/pkg/models"
)

// AgentYAML is one agent block from the agents markdown manifest.
type AgentYAML struct {
	ID           string           `yaml:"id"`
	Name         string           `yaml:"name"`
	Type         string           `yaml:"type"`
	Focus        string           `yaml:"focus"`
	Model        string           `yaml:"model"`
	Fallback     string           `yaml:"fallback,omitempty"`
	Parent       string           `yaml:"parent,omitempty"`
	SystemPrompt string           `yaml:"system_prompt"`
	Temperature  *float64         `yaml:"temperature,omitempty"`
	MaxTokens    int              `yaml:"max_tokens,omitempty"`
	Skills       []string         `yaml:"skills,omitempty"`
	Capabilities []string         `yaml:"capabilities,omitempty"`
	Timeout      int              `yaml:"timeout,omitempty"` // seconds
	RateLimit    models.RateLimit `yaml:"rate_limit,omitempty"`
	Enabled      *bool            `yaml:"enabled,omitempty"`
}

// LoadAgentsManifest parses the agents manifest: a markdown document whose
// fenced ```yaml blocks each declare one agent. Prose between blocks is
// operator documentation and is ignored.
func LoadAgentsManifest(path string) ([]AgentYAML, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("failed to read agents manifest: %w", err)
	}

	blocks := extractYAMLBlocks(string(ExpandEnv(raw)))
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: %s: no yaml blocks found", ErrSourceParse, path)
	}

	agents := make([]AgentYAML, 0, len(blocks))
	seen := make(map[string]bool, len(blocks))
	for i, block := range blocks {
		var a AgentYAML
		if err := yaml.Unmarshal([]byte(block), &a); err != nil {
			return nil, fmt.Errorf("%w: %s: block %d: %v", ErrSourceParse, path, i+1, err)
		}
		if a.ID == "" {
			return nil, fmt.Errorf("%w: %s: block %d: missing id", ErrSourceParse, path, i+1)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("%w: agent %q", ErrDuplicateID, a.ID)
		}
		seen[a.ID] = true
		agents = append(agents, a)
	}
	return agents, nil
}

// extractYAMLBlocks returns the body of every ```yaml fenced block.
func extractYAMLBlocks(doc string) []string {
	var blocks []string
	rest := doc
	for {
		start := strings.Index(rest, "```yaml")
		if start < 0 {
			break
		}
		rest = rest[start+len("```yaml"):]
		end := strings.Index(rest, "```")
		if end < 0 {
			break
		}
		block := strings.TrimSpace(rest[:end])
		if block != "" {
			blocks = append(blocks, block)
		}
		rest = rest[end+3:]
	}
	return blocks
}

// Declared converts manifest entries into domain Agent records. Defaults:
// type "agent", temperature 0.7, timeout 120 s, enabled true.
func DeclaredAgents(entries []AgentYAML) []models.Agent {
	out := make([]models.Agent, 0, len(entries))
	for _, a := range entries {
		agentType := models.AgentType(a.Type)
		switch agentType {
		case models.AgentTypeOrchestrator, models.AgentTypeAgent, models.AgentTypeSubAgent:
		default:
			agentType = models.AgentTypeAgent
		}
		temp := 0.7
		if a.Temperature != nil {
			temp = *a.Temperature
		}
		timeout := a.Timeout
		if timeout == 0 {
			timeout = 120
		}
		enabled := true
		if a.Enabled != nil {
			enabled = *a.Enabled
		}
		agent := models.Agent{
			ID:             a.ID,
			DisplayName:    a.Name,
			Type:           agentType,
			Model:          a.Model,
			SystemPrompt:   a.SystemPrompt,
			Temperature:    temp,
			MaxTokens:      a.MaxTokens,
			FocusType:      a.Focus,
			Skills:         a.Skills,
			Capabilities:   a.Capabilities,
			Enabled:        enabled,
			TimeoutSeconds: timeout,
			RateLimit:      a.RateLimit,
			Status:         models.AgentStatusIdle,
			PheromoneScore: 0.5,
		}
		if a.Fallback != "" {
			fb := a.Fallback
			agent.FallbackModel = &fb
		}
		if a.Parent != "" {
			p := a.Parent
			agent.ParentAgentID = &p
		}
		out = append(out, agent)
	}
	return out
}
