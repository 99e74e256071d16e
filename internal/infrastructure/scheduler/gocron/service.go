package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/go-co-op/gocron"
	log "github.com/sirupsen/logrus"
)

type job struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	handle   *gocron.Job

	running sync.Mutex
	mu      sync.Mutex
	lastRun time.Time
	runs    uint64
	skipped uint64
	busy    bool
}

type service struct {
	scheduler *gocron.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	jobs    map[string]*job
	started bool
}

func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	return &service{
		scheduler: svc,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*job),
	}
}

func (s *service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Nothing to do if already started
	if s.started {
		return
	}
	s.scheduler.StartAsync()
	s.started = true
}

// Stop cancels the context passed to running jobs and waits for them to
// return. The context goes first: gocron's Stop blocks until running jobs
// finish.
func (s *service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()
	s.scheduler.Stop()
	s.wg.Wait()
}

func (s *service) ScheduleEvery(name string, every time.Duration, fn func(ctx context.Context)) error {
	if every <= 0 {
		return fmt.Errorf("invalid interval %s for job %s", every, name)
	}
	if fn == nil {
		return fmt.Errorf("missing function for job %s", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already scheduled", name)
	}

	j := &job{name: name, interval: every, fn: fn}
	handle, err := s.scheduler.Every(every).Tag(name).Do(s.run, j)
	if err != nil {
		return err
	}
	j.handle = handle
	s.jobs[name] = j
	return nil
}

func (s *service) Jobs() []ports.JobInfo {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	sort.Slice(jobs, func(i, k int) bool { return jobs[i].name < jobs[k].name })

	infos := make([]ports.JobInfo, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		info := ports.JobInfo{
			Name:     j.name,
			Interval: j.interval,
			LastRun:  j.lastRun,
			Runs:     j.runs,
			Skipped:  j.skipped,
			Running:  j.busy,
		}
		j.mu.Unlock()
		if j.handle != nil {
			info.NextRun = j.handle.NextRun()
		}
		infos = append(infos, info)
	}
	return infos
}

// run executes one tick of j, or skips it if the previous tick is still
// in progress.
func (s *service) run(j *job) {
	if s.ctx.Err() != nil {
		return
	}
	if !j.running.TryLock() {
		j.mu.Lock()
		j.skipped++
		j.mu.Unlock()
		log.WithField("job", j.name).Debug("previous run still in progress, skipping")
		return
	}
	defer j.running.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()

	j.mu.Lock()
	j.busy = true
	j.lastRun = time.Now()
	j.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.WithField("job", j.name).Errorf("job panicked: %v", r)
		}
		j.mu.Lock()
		j.busy = false
		j.runs++
		j.mu.Unlock()
	}()

	j.fn(s.ctx)
}
