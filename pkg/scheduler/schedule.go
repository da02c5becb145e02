package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrNoSchedule rejects jobs declaring neither a cron expression nor an
// interval. Declaring both is rejected earlier, at catalog load.
var ErrNoSchedule = errors.New("job declares no schedule")

// cronParser accepts 6-field expressions with a seconds column, with the
// seconds column optional for plain 5-field crontab lines.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule computes fire times for one job from either its interval or its
// cron expression.
type Schedule struct {
	every time.Duration
	cron  cron.Schedule
}

// ParseSchedule builds a Schedule from the job's declared fields.
func ParseSchedule(cronExpr string, every time.Duration) (Schedule, error) {
	if every > 0 {
		return Schedule{every: every}, nil
	}
	if cronExpr == "" {
		return Schedule{}, ErrNoSchedule
	}
	parsed, err := cronParser.Parse(cronExpr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return Schedule{cron: parsed}, nil
}

// Next returns the first fire time strictly after from. Missed fires are
// never replayed; the next fire is always computed from the current clock.
func (s Schedule) Next(from time.Time) time.Time {
	if s.every > 0 {
		return from.Add(s.every)
	}
	return s.cron.Next(from)
}
