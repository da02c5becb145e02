package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aria-agents/aria/pkg/models"
)

// JobsFile is the cron_jobs.yaml structure.
type JobsFile struct {
	Jobs []JobYAML `yaml:"jobs"`
}

// JobYAML declares one scheduled job. Exactly one of Every or Cron must be
// set; the validator rejects jobs declaring both or neither.
type JobYAML struct {
	Name               string `yaml:"name"`
	Agent              string `yaml:"agent"`
	Session            string `yaml:"session"` // isolated | persistent
	Text               string `yaml:"text"`
	Every              string `yaml:"every,omitempty"` // duration, e.g. "15m"
	Cron               string `yaml:"cron,omitempty"`  // 6-field "s m h d M w"
	MaxDurationSeconds int    `yaml:"max_duration_seconds,omitempty"`
	RetryCount         int    `yaml:"retry_count,omitempty"`
	Enabled            *bool  `yaml:"enabled,omitempty"`
}

// LoadJobsFile parses cron_jobs.yaml from path.
func LoadJobsFile(path string) (*JobsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("failed to read jobs catalog: %w", err)
	}

	var f JobsFile
	if err := yaml.Unmarshal(ExpandEnv(raw), &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceParse, path, err)
	}
	return &f, nil
}

// Declared converts the file into domain ScheduledJob records. The job id is
// the name lowercased with spaces collapsed to underscores.
func (f *JobsFile) Declared() ([]models.ScheduledJob, error) {
	out := make([]models.ScheduledJob, 0, len(f.Jobs))
	seen := make(map[string]bool, len(f.Jobs))
	for _, j := range f.Jobs {
		id := jobID(j.Name)
		if seen[id] {
			return nil, fmt.Errorf("%w: job %q", ErrDuplicateID, id)
		}
		seen[id] = true

		var every time.Duration
		if j.Every != "" {
			d, err := time.ParseDuration(j.Every)
			if err != nil {
				return nil, newValidationError("job", id, "every", fmt.Errorf("invalid duration %q: %w", j.Every, err))
			}
			every = d
		}

		mode := models.SessionMode(j.Session)
		if mode == "" {
			mode = models.SessionModeIsolated
		}
		enabled := true
		if j.Enabled != nil {
			enabled = *j.Enabled
		}
		maxDur := j.MaxDurationSeconds
		if maxDur == 0 {
			maxDur = 300
		}

		out = append(out, models.ScheduledJob{
			ID:                 id,
			Name:               j.Name,
			Cron:               j.Cron,
			Every:              every,
			AgentID:            j.Agent,
			PayloadType:        "prompt",
			Payload:            j.Text,
			SessionMode:        mode,
			MaxDurationSeconds: maxDur,
			RetryCount:         j.RetryCount,
			Enabled:            enabled,
		})
	}
	return out, nil
}

func jobID(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "_"))
}
