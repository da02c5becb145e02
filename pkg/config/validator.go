package config

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/aria-agents/aria/pkg/models"
)

// cronParser accepts 6-field expressions with a seconds field ("s m h d M w").
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate cross-checks the loaded catalog: model references, agent parent
// links, schedule exclusivity and nested timeout budgets. Returns the first
// error found; startup treats any error as fatal (exit code 1).
func (c *Catalog) Validate() error {
	modelIDs := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if modelIDs[m.ID] {
			return fmt.Errorf("%w: model %q", ErrDuplicateID, m.ID)
		}
		modelIDs[m.ID] = true
		if m.ProxyModelString == "" {
			return newValidationError("model", m.ID, "proxy_model_string", ErrValidationFailed)
		}
	}

	agentByID := make(map[string]*models.Agent, len(c.Agents))
	for i := range c.Agents {
		a := &c.Agents[i]
		if _, dup := agentByID[a.ID]; dup {
			return fmt.Errorf("%w: agent %q", ErrDuplicateID, a.ID)
		}
		agentByID[a.ID] = a

		if !modelIDs[a.Model] {
			return newValidationError("agent", a.ID, "model", fmt.Errorf("unknown model %q", a.Model))
		}
		if a.FallbackModel != nil && !modelIDs[*a.FallbackModel] {
			return newValidationError("agent", a.ID, "fallback", fmt.Errorf("unknown model %q", *a.FallbackModel))
		}
		if a.Type == models.AgentTypeSubAgent && a.ParentAgentID == nil {
			return newValidationError("agent", a.ID, "parent", fmt.Errorf("sub_agent requires a parent"))
		}
		if a.Temperature < 0 || a.Temperature > 2 {
			return newValidationError("agent", a.ID, "temperature", fmt.Errorf("must be in [0,2], got %v", a.Temperature))
		}
		if a.TimeoutSeconds <= 0 {
			return newValidationError("agent", a.ID, "timeout", fmt.Errorf("must be > 0"))
		}
	}

	// Parent links must resolve and must not form cycles.
	for _, a := range c.Agents {
		if a.ParentAgentID == nil {
			continue
		}
		if _, ok := agentByID[*a.ParentAgentID]; !ok {
			return newValidationError("agent", a.ID, "parent", fmt.Errorf("unknown agent %q", *a.ParentAgentID))
		}
		if err := checkParentCycle(a.ID, agentByID); err != nil {
			return err
		}
	}

	jobIDs := make(map[string]bool, len(c.Jobs))
	for _, j := range c.Jobs {
		if jobIDs[j.ID] {
			return fmt.Errorf("%w: job %q", ErrDuplicateID, j.ID)
		}
		jobIDs[j.ID] = true

		hasCron := j.Cron != ""
		hasEvery := j.Every > 0
		if hasCron == hasEvery {
			return newValidationError("job", j.ID, "schedule",
				fmt.Errorf("exactly one of cron or every must be set"))
		}
		if hasCron {
			if _, err := cronParser.Parse(j.Cron); err != nil {
				return newValidationError("job", j.ID, "cron", fmt.Errorf("invalid expression %q: %w", j.Cron, err))
			}
		}

		agent, ok := agentByID[j.AgentID]
		if !ok {
			return newValidationError("job", j.ID, "agent", fmt.Errorf("unknown agent %q", j.AgentID))
		}
		// Timeout budgets nest: the agent's per-call budget must fit inside
		// the job's run budget.
		if agent.TimeoutSeconds > j.MaxDurationSeconds {
			return newValidationError("job", j.ID, "max_duration_seconds",
				fmt.Errorf("agent %q timeout %ds exceeds job budget %ds",
					agent.ID, agent.TimeoutSeconds, j.MaxDurationSeconds))
		}
	}

	return nil
}

// checkParentCycle walks the parent chain from start; revisiting a node
// means the manifest declares a cycle.
func checkParentCycle(start string, agents map[string]*models.Agent) error {
	seen := map[string]bool{}
	cur := start
	for {
		seen[cur] = true
		a, ok := agents[cur]
		if !ok || a.ParentAgentID == nil {
			return nil
		}
		next := *a.ParentAgentID
		if seen[next] {
			return newValidationError("agent", start, "parent", fmt.Errorf("cycle through %q", next))
		}
		cur = next
	}
}
