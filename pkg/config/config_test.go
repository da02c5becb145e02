package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aria-agents/aria/pkg/models"
)

const testModelsYAML = `
schema_version: 1
models:
  kimi:
    name: Kimi K2
    provider: moonshot
    tier: free
    tool_calling: true
    context_window: 131072
    max_tokens: 8192
    cost_input: 0.14
    cost_output: 2.49
    proxy_model_string: openrouter/moonshotai/kimi-k2
    sort_order: 10
  qwen:
    name: Qwen Coder
    provider: alibaba
    tier: premium
    tool_calling: true
    context_window: 32768
    max_tokens: 4096
    cost_input: 0.5
    cost_output: 1.5
    proxy_model_string: openrouter/qwen/qwen3-coder
    enabled: false
    sort_order: 20
routing:
  default: kimi
`

const testAgentsMD = "# Agents\n\n## aria\n\nPrimary orchestrator.\n\n" +
	"```yaml\n" +
	`id: aria
name: Aria
type: orchestrator
focus: general
model: kimi
fallback: qwen
system_prompt: You are Aria.
skills: [calc, clock]
capabilities: [chat]
timeout: 60
rate_limit:
  requests: 30
  window_seconds: 60
` + "```\n\n## analyst\n\n```yaml\n" +
	`id: analyst
name: Analyst
type: agent
focus: analysis
model: kimi
system_prompt: You analyze things.
skills: [calc]
timeout: 45
` + "```\n"

const testJobsYAML = `
jobs:
  - name: Health Check
    agent: aria
    session: isolated
    text: Run the health check.
    every: 15m
    max_duration_seconds: 120
  - name: Morning Digest
    agent: analyst
    session: persistent
    text: Summarize the night.
    cron: "0 0 8 * * *"
    max_duration_seconds: 300
`

func writeCatalogDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ModelsFileName), []byte(testModelsYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, AgentsFileName), []byte(testAgentsMD), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, JobsFileName), []byte(testJobsYAML), 0o644))
	return dir
}

func TestInitialize(t *testing.T) {
	c, err := Initialize(context.Background(), writeCatalogDir(t))
	require.NoError(t, err)

	require.Len(t, c.Models, 2)
	kimi := c.Models[0]
	assert.Equal(t, "kimi", kimi.ID)
	assert.Equal(t, models.TierFree, kimi.Tier)
	assert.True(t, kimi.Enabled, "enabled defaults to true")
	assert.False(t, c.Models[1].Enabled, "explicit enabled:false is preserved")

	require.Len(t, c.Agents, 2)
	aria := c.Agents[0]
	assert.Equal(t, "aria", aria.ID)
	assert.Equal(t, models.AgentTypeOrchestrator, aria.Type)
	require.NotNil(t, aria.FallbackModel)
	assert.Equal(t, "qwen", *aria.FallbackModel)
	assert.Equal(t, 30, aria.RateLimit.Requests)
	assert.Equal(t, 0.7, aria.Temperature, "temperature defaults to 0.7")

	require.Len(t, c.Jobs, 2)
	assert.Equal(t, "health_check", c.Jobs[0].ID)
	assert.Equal(t, 15*time.Minute, c.Jobs[0].Every)
	assert.Equal(t, models.SessionModePersistent, c.Jobs[1].SessionMode)
	assert.Equal(t, "0 0 8 * * *", c.Jobs[1].Cron)
}

func TestInitializeMissingSource(t *testing.T) {
	dir := writeCatalogDir(t)
	require.NoError(t, os.Remove(filepath.Join(dir, ModelsFileName)))

	_, err := Initialize(context.Background(), dir)
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestInitializeBadYAML(t *testing.T) {
	dir := writeCatalogDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ModelsFileName), []byte("models: ["), 0o644))

	_, err := Initialize(context.Background(), dir)
	assert.ErrorIs(t, err, ErrSourceParse)
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("TEST_PROXY_MODEL", "proxy/model-x")
	dir := writeCatalogDir(t)
	content := `
schema_version: 1
models:
  x:
    name: X
    provider: test
    proxy_model_string: "{{.TEST_PROXY_MODEL}}"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ModelsFileName), []byte(content), 0o644))

	f, err := LoadModelsFile(filepath.Join(dir, ModelsFileName))
	require.NoError(t, err)
	assert.Equal(t, "proxy/model-x", f.Models["x"].ProxyModelString)
}

func TestValidateRejectsUnknownModel(t *testing.T) {
	c := &Catalog{
		Models: []models.Model{{ID: "kimi", ProxyModelString: "p"}},
		Agents: []models.Agent{{ID: "a", Model: "missing", TimeoutSeconds: 30, Temperature: 0.7}},
	}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model")
}

func TestValidateRejectsParentCycle(t *testing.T) {
	p1, p2 := "b", "a"
	c := &Catalog{
		Models: []models.Model{{ID: "m", ProxyModelString: "p"}},
		Agents: []models.Agent{
			{ID: "a", Model: "m", TimeoutSeconds: 30, Temperature: 0.7, ParentAgentID: &p1},
			{ID: "b", Model: "m", TimeoutSeconds: 30, Temperature: 0.7, ParentAgentID: &p2},
		},
	}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidateRejectsSubAgentWithoutParent(t *testing.T) {
	c := &Catalog{
		Models: []models.Model{{ID: "m", ProxyModelString: "p"}},
		Agents: []models.Agent{
			{ID: "s", Type: models.AgentTypeSubAgent, Model: "m", TimeoutSeconds: 30, Temperature: 0.7},
		},
	}
	assert.Error(t, c.Validate())
}

func TestValidateRejectsDualSchedule(t *testing.T) {
	c := &Catalog{
		Models: []models.Model{{ID: "m", ProxyModelString: "p"}},
		Agents: []models.Agent{{ID: "a", Model: "m", TimeoutSeconds: 30, Temperature: 0.7}},
		Jobs: []models.ScheduledJob{{
			ID: "j", AgentID: "a", Cron: "0 * * * * *", Every: time.Minute,
			MaxDurationSeconds: 60,
		}},
	}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of cron or every")
}

func TestValidateRejectsBudgetInversion(t *testing.T) {
	c := &Catalog{
		Models: []models.Model{{ID: "m", ProxyModelString: "p"}},
		Agents: []models.Agent{{ID: "a", Model: "m", TimeoutSeconds: 600, Temperature: 0.7}},
		Jobs: []models.ScheduledJob{{
			ID: "j", AgentID: "a", Every: time.Minute, MaxDurationSeconds: 60,
		}},
	}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds job budget")
}

func TestExtractYAMLBlocks(t *testing.T) {
	doc := "intro\n```yaml\na: 1\n```\nmiddle\n```go\ncode\n```\n```yaml\nb: 2\n```"
	blocks := extractYAMLBlocks(doc)
	require.Len(t, blocks, 2)
	assert.Equal(t, "a: 1", blocks[0])
	assert.Equal(t, "b: 2", blocks[1])
}
