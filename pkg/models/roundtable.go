package models

// RoundtableTurn is one agent contribution within a discussion.
type RoundtableTurn struct {
	AgentID    string `json:"agent_id"`
	Round      int    `json:"round_number"`
	Position   int    `json:"position"`
	Content    string `json:"content"`
	DurationMs int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	Failed     bool   `json:"failed,omitempty"`
}

// RoundtableStatus tracks async discussion progress.
type RoundtableStatus string

const (
	RoundtableQueued    RoundtableStatus = "queued"
	RoundtableRunning   RoundtableStatus = "running"
	RoundtableCompleted RoundtableStatus = "completed"
	RoundtableFailed    RoundtableStatus = "failed"
	RoundtableTimeout   RoundtableStatus = "timeout"
)

// RoundtableRecord is the full result of a multi-agent discussion. SessionID
// doubles as the id of the parent chat session holding the turn transcript.
type RoundtableRecord struct {
	SessionID       string           `json:"session_id"`
	Topic           string           `json:"topic"`
	Participants    []string         `json:"participants"`
	Rounds          int              `json:"rounds"`
	TurnCount       int              `json:"turn_count"`
	Synthesis       string           `json:"synthesis"`
	SynthesizerID   string           `json:"synthesizer_id"`
	TotalDurationMs int64            `json:"total_duration_ms"`
	Partial         bool             `json:"partial"`
	Status          RoundtableStatus `json:"status"`
	Turns           []RoundtableTurn `json:"turns"`
}
