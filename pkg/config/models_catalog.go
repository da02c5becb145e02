package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/aria-agents/aria/pkg/models"
)

// ModelsFile is the canonical models.yaml structure.
type ModelsFile struct {
	SchemaVersion int                       `yaml:"schema_version"`
	Models        map[string]ModelYAML      `yaml:"models"`
	Routing       RoutingYAML               `yaml:"routing"`
	Criteria      map[string]CriterionYAML  `yaml:"criteria"`
}

// ModelYAML is one model entry in models.yaml. The map key is the model id.
type ModelYAML struct {
	Name             string  `yaml:"name"`
	Provider         string  `yaml:"provider"`
	Tier             string  `yaml:"tier"`
	Reasoning        bool    `yaml:"reasoning"`
	Vision           bool    `yaml:"vision"`
	ToolCalling      bool    `yaml:"tool_calling"`
	ContextWindow    int     `yaml:"context_window"`
	MaxTokens        int     `yaml:"max_tokens"`
	CostInput        float64 `yaml:"cost_input"`
	CostOutput       float64 `yaml:"cost_output"`
	ProxyModelString string  `yaml:"proxy_model_string"`
	Enabled          *bool   `yaml:"enabled"`
	SortOrder        int     `yaml:"sort_order"`
}

// RoutingYAML names the default model plus per-purpose overrides.
type RoutingYAML struct {
	Default   string            `yaml:"default"`
	Overrides map[string]string `yaml:"overrides,omitempty"`
}

// CriterionYAML is a routing criterion (kept for the dashboard; the core
// does not interpret criteria beyond pass-through).
type CriterionYAML struct {
	Description string   `yaml:"description,omitempty"`
	Prefer      []string `yaml:"prefer,omitempty"`
}

// LoadModelsFile parses models.yaml from path, expanding env vars first.
func LoadModelsFile(path string) (*ModelsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("failed to read models catalog: %w", err)
	}

	var f ModelsFile
	if err := yaml.Unmarshal(ExpandEnv(raw), &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceParse, path, err)
	}
	if f.SchemaVersion < 1 {
		return nil, fmt.Errorf("%w: %s: schema_version must be >= 1", ErrSourceParse, path)
	}
	return &f, nil
}

// Declared converts the file into domain Model records, sorted by id for
// deterministic sync order.
func (f *ModelsFile) Declared() []models.Model {
	ids := make([]string, 0, len(f.Models))
	for id := range f.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]models.Model, 0, len(ids))
	for _, id := range ids {
		m := f.Models[id]
		enabled := true
		if m.Enabled != nil {
			enabled = *m.Enabled
		}
		tier := models.ModelTier(m.Tier)
		switch tier {
		case models.TierFree, models.TierPremium, models.TierLocal:
		default:
			tier = models.TierUnknown
		}
		out = append(out, models.Model{
			ID:               id,
			Name:             m.Name,
			Provider:         m.Provider,
			Tier:             tier,
			Reasoning:        m.Reasoning,
			Vision:           m.Vision,
			ToolCalling:      m.ToolCalling,
			ContextWindow:    m.ContextWindow,
			MaxTokens:        m.MaxTokens,
			CostInput:        m.CostInput,
			CostOutput:       m.CostOutput,
			ProxyModelString: m.ProxyModelString,
			Enabled:          enabled,
			SortOrder:        m.SortOrder,
		})
	}
	return out
}
