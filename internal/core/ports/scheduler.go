package ports

import (
	"context"
	"time"
)

type JobInfo struct {
	Name     string
	Interval time.Duration
	LastRun  time.Time
	NextRun  time.Time
	Runs     uint64
	Skipped  uint64
	Running  bool
}

// SchedulerService runs named jobs at a fixed interval. A run that is due while
// the previous run of the same job is still in progress is skipped.
type SchedulerService interface {
	Start()
	Stop()
	ScheduleEvery(name string, every time.Duration, fn func(ctx context.Context)) error
	Jobs() []JobInfo
}
