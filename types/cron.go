package types

import (
	"time"

	"github.com/robfig/cron/v3"
)

// CronManager schedules the gateway's maintenance jobs.
type CronManager interface {
	LifecycleManager
	Add(jobName, spec string, job func()) error
	Jobs() []JobEntry
}

type JobEntry struct {
	ID           cron.EntryID  `json:"id"`
	Name         string        `json:"name"`
	Spec         string        `json:"spec"`
	AddedAt      time.Time     `json:"added_at"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	NextRun      time.Time     `json:"next_run,omitempty"`
	RunCount     int64         `json:"run_count"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}
