// Package scheduler dispatches the core's periodic jobs — warm-up,
// subscription rotation, labelling, training — on plain time.Ticker loops in the idiom the teacher uses for its own
// snapshot/retention/archive loops, rather than pulling in an external cron
// library the example pack never uses.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is one schedulable unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs a set of jobs on independent tickers, each guarded by a
// single-flight lock so a slow run never overlaps its own successor.
type Scheduler struct {
	jobs []Job
	log  zerolog.Logger

	mu      sync.Mutex
	running map[string]bool
}

// New builds a Scheduler over the given jobs.
func New(jobs []Job, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		jobs:    jobs,
		log:     log.With().Str("component", "scheduler").Logger(),
		running: make(map[string]bool),
	}
}

// Run starts every job's loop and blocks until ctx is cancelled or all
// loops exit.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runJobLoop(ctx, job)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) runJobLoop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, job)
		}
	}
}

// fire runs a job exactly once if it isn't already in flight; single-flight
// per job name means a slow run silently skips this tick's trigger rather
// than queueing — the next scheduled tick after completion still fires
// normally, so there is no catch-up burst.
func (s *Scheduler) fire(ctx context.Context, job Job) {
	s.mu.Lock()
	if s.running[job.Name] {
		s.mu.Unlock()
		s.log.Warn().Str("job", job.Name).Msg("previous run still in flight, skipping this trigger")
		return
	}
	s.running[job.Name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[job.Name] = false
		s.mu.Unlock()
	}()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.log.Error().Err(err).Str("job", job.Name).Dur("elapsed", time.Since(start)).Msg("job run failed")
		return
	}
	s.log.Debug().Str("job", job.Name).Dur("elapsed", time.Since(start)).Msg("job run complete")
}
