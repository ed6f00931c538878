// Package schedule runs recurring task launches from cron-style
// entries persisted on disk.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field (minute-based) expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Entry is one persisted recurring launch.
type Entry struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	CronSpec    string     `json:"cron_spec"`
	Prompt      string     `json:"prompt"`
	RepoURL     string     `json:"repo_url,omitempty"`
	RepoBranch  string     `json:"repo_branch,omitempty"`
	TimeoutSec  int        `json:"timeout_sec,omitempty"`
	CooldownSec int        `json:"cooldown_sec,omitempty"`
	MaxRuns     int        `json:"max_runs,omitempty"`
	RunCount    int        `json:"run_count"`
	Enabled     bool       `json:"enabled"`
	CreatedAt   time.Time  `json:"created_at"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
}

// Validate checks the fields a usable entry needs.
func (e *Entry) Validate() error {
	if e.Name == "" {
		return errors.New("schedule entry needs a name")
	}
	if e.Prompt == "" {
		return errors.New("schedule entry needs a prompt")
	}
	if _, err := e.Schedule(); err != nil {
		return err
	}
	return nil
}

// Schedule parses the entry's cron spec.
func (e *Entry) Schedule() (cron.Schedule, error) {
	sched, err := cronParser.Parse(e.CronSpec)
	if err != nil {
		return nil, fmt.Errorf("schedule entry %q: bad cron %q: %w", e.Name, e.CronSpec, err)
	}
	return sched, nil
}

// dueAt reports whether the schedule fires in the minute containing t.
func dueAt(sched cron.Schedule, t time.Time) bool {
	minute := t.Truncate(time.Minute)
	return sched.Next(minute.Add(-time.Minute)).Equal(minute)
}

// GenerateID creates a schedule identifier with a "sched_" prefix.
func GenerateID() string {
	u := uuid.New().String()
	return "sched_" + strings.ReplaceAll(u[:8], "-", "")
}
