package agent

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// JobInfo describes a registered scheduled job. Surfaced on the control
// API's status route.
type JobInfo struct {
	ID       string    `json:"id"`       // unique job ID (gocron UUID)
	Name     string    `json:"name"`     // human-readable name (e.g. "stats-report")
	Schedule string    `json:"schedule"` // interval description
	LastRun  time.Time `json:"last_run"` // zero if never run
	NextRun  time.Time `json:"next_run"` // zero if not scheduled
}

// Scheduler is the shared job scheduler for the agent. Periodic work
// (stats reporting, future maintenance tasks) registers here rather than
// spinning its own tickers.
type Scheduler struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	jobs      map[string]gocron.Job // name → job
	schedules map[string]string     // name → schedule description
	logger    *slog.Logger
}

// NewScheduler creates a stopped scheduler; call Start to begin running
// jobs.
func NewScheduler(logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		jobs:      make(map[string]gocron.Job),
		schedules: make(map[string]string),
		logger:    logger,
	}, nil
}

// AddIntervalJob registers a named fixed-interval job. The name must be
// unique.
func (s *Scheduler) AddIntervalJob(name string, interval time.Duration, taskFn any, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scheduled job already exists: %s", name)
	}

	j, err := s.scheduler.NewJob(gocron.DurationJob(interval), gocron.NewTask(taskFn, args...), gocron.WithName(name))
	if err != nil {
		return fmt.Errorf("create scheduled job %s: %w", name, err)
	}

	s.jobs[name] = j
	s.schedules[name] = interval.String()
	s.logger.Info("scheduled job added", "name", name, "schedule", interval.String())
	return nil
}

// ListJobs returns info about all registered jobs.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		info := JobInfo{
			ID:       j.ID().String(),
			Name:     name,
			Schedule: s.schedules[name],
		}
		if lr, err := j.LastRun(); err == nil {
			info.LastRun = lr
		}
		if nr, err := j.NextRun(); err == nil {
			info.NextRun = nr
		}
		infos = append(infos, info)
	}
	return infos
}

// Start begins executing all registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop shuts down the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
