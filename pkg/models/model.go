package models

// ModelTier groups models by cost/capability class.
type ModelTier string

const (
	TierFree    ModelTier = "free"
	TierPremium ModelTier = "premium"
	TierLocal   ModelTier = "local"
	TierUnknown ModelTier = "unknown"
)

// Model is a selectable LLM target. ProxyModelString is the opaque label
// forwarded to the OpenAI-compatible proxy; everything else is routing and
// display metadata.
type Model struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Provider         string    `json:"provider"`
	Tier             ModelTier `json:"tier"`
	Reasoning        bool      `json:"reasoning"`
	Vision           bool      `json:"vision"`
	ToolCalling      bool      `json:"tool_calling"`
	ContextWindow    int       `json:"context_window"`
	MaxTokens        int       `json:"max_tokens"`
	CostInput        float64   `json:"cost_input"`  // USD per 1M input tokens
	CostOutput       float64   `json:"cost_output"` // USD per 1M output tokens
	ProxyModelString string    `json:"proxy_model_string"`
	Enabled          bool      `json:"enabled"`
	SortOrder        int       `json:"sort_order"`
	AppManaged       bool      `json:"app_managed"`
}

// Cost computes the dollar cost of a call given token counts.
func (m *Model) Cost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)*m.CostInput/1e6 + float64(tokensOut)*m.CostOutput/1e6
}
