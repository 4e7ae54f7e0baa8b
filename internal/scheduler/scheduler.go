// Package scheduler drives the task runner on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/TobiSchelling/nscreview/internal/tasks"
)

// DefaultSpec runs every minute.
const DefaultSpec = "* * * * *"

// Job is the unit of work the scheduler runs.
type Job interface {
	RunAll(ctx context.Context) *tasks.Result
}

// Scheduler runs a Job on a cron spec. Overlapping runs are skipped.
type Scheduler struct {
	cron    *cron.Cron
	job     Job
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	runs    int
	lastRun time.Time
	ctx     context.Context
}

// New creates a scheduler for spec. timeout bounds each run; zero means no
// limit beyond the context passed to Start.
func New(spec string, job Job, timeout time.Duration, log zerolog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	cl := cronLogger{log: log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		job:     job,
		timeout: timeout,
		log:     log,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits
// for a running job to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info().Time("next", s.Next()).Msg("scheduler started")
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
	return nil
}

// Next returns the next scheduled run time.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// LastRun returns when the most recent run finished.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Runs returns how many runs have completed.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res := s.job.RunAll(ctx)
	failed := 0
	for _, t := range res.Tasks {
		if t.Err != nil {
			failed++
		}
	}

	s.mu.Lock()
	s.runs++
	s.lastRun = time.Now()
	s.mu.Unlock()

	s.log.Debug().Int("count", len(res.Tasks)).Int("failed", failed).Msg("scheduled run finished")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
