// Package scheduler runs named engagement jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/TobiSchelling/socialshares/internal/logging"
)

// DefaultJobTimeout bounds one scheduled run.
const DefaultJobTimeout = 30 * time.Minute

// Job is one scheduled task.
type Job func(ctx context.Context) error

// Scheduler manages periodic jobs.
type Scheduler struct {
	cron     *cron.Cron
	timezone *time.Location
	timeout  time.Duration
	log      logging.Logger

	mu   sync.Mutex
	jobs map[string]entry
	base context.Context
}

type entry struct {
	id       cron.EntryID
	schedule string
}

// JobInfo describes a scheduled job.
type JobInfo struct {
	Name     string
	Schedule string
	NextRun  time.Time
	LastRun  time.Time
}

// New creates a scheduler in the given IANA timezone. An empty timezone
// means UTC.
func New(timezone string, logger logging.Logger) (*Scheduler, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &Scheduler{
		// A run that is still going when its next tick fires is skipped.
		cron:     cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		timezone: loc,
		timeout:  DefaultJobTimeout,
		log:      logger,
		jobs:     make(map[string]entry),
		base:     context.Background(),
	}, nil
}

// SetTimeout overrides the per-run timeout.
func (s *Scheduler) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// AddJob registers job under name with a standard five-field cron schedule,
// e.g. "0 8,20 * * *".
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already scheduled", name)
	}

	id, err := s.cron.AddFunc(schedule, func() { s.execute(name, job) })
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = entry{id: id, schedule: schedule}
	s.log.WithFields(logging.Fields{"job": name, "schedule": schedule}).Info("job added")
	return nil
}

// RemoveJob unschedules a job. Unknown names are ignored.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.jobs[name]; ok {
		s.cron.Remove(e.id)
		delete(s.jobs, name)
		s.log.WithField("job", name).Info("job removed")
	}
}

// Start runs scheduled jobs until ctx is cancelled or Stop is called.
// Cancelling ctx also cancels jobs in flight.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.log.WithField("timezone", s.timezone.String()).Info("starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	s.log.Info("stopping scheduler")
	return s.cron.Stop()
}

// RunNow executes job immediately under the same timeout and logging as a
// scheduled run.
func (s *Scheduler) RunNow(name string, job Job) error {
	return s.run(name, job)
}

// ListJobs returns the scheduled jobs sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		ce := s.cron.Entry(e.id)
		infos = append(infos, JobInfo{
			Name:     name,
			Schedule: e.schedule,
			NextRun:  ce.Next,
			LastRun:  ce.Prev,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (s *Scheduler) execute(name string, job Job) {
	_ = s.run(name, job)
}

func (s *Scheduler) run(name string, job Job) error {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, s.timeout)
	defer cancel()

	logger := s.log.WithField("job", name)
	logger.Info("starting job")
	start := time.Now()

	if err := job(ctx); err != nil {
		logger.WithError(err).Error("job failed")
		return err
	}
	logger.WithField("duration", time.Since(start).Round(time.Millisecond).String()).Info("job completed")
	return nil
}
