// Package scheduler runs the background maintenance jobs: nightly
// calibration sweeps, drift checks, archive uploads, cache cleanup, and WAL
// checkpoints. Every execution is recorded in cache.db and announced on the
// event bus.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/arclab/arcq/internal/events"
)

// Job represents a scheduled job.
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs.
type Scheduler struct {
	cron    *cron.Cron
	history *HistoryRepository
	bus     *events.Bus
	log     zerolog.Logger

	mu   sync.RWMutex
	jobs map[string]Job
}

// New creates a new scheduler.
func New(history *HistoryRepository, bus *events.Bus, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		history: history,
		bus:     bus,
		log:     log.With().Str("component", "scheduler").Logger(),
		jobs:    make(map[string]Job),
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a cron schedule.
// Schedule examples:
//   - "0 0 3 * * *"   - 03:00 daily
//   - "@hourly"       - Every hour
//   - "@every 30s"    - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	s.mu.Lock()
	s.jobs[job.Name()] = job
	s.mu.Unlock()

	_, err := s.cron.AddFunc(schedule, func() {
		s.execute(job)
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// JobNames lists registered jobs.
func (s *Scheduler) JobNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// RunNow executes a registered job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}

	s.log.Info().Str("job", name).Msg("Running job immediately")
	return s.execute(job)
}

// execute runs a job and records the outcome.
func (s *Scheduler) execute(job Job) error {
	started := time.Now()
	s.log.Debug().Str("job", job.Name()).Msg("Running job")

	err := job.Run()
	finished := time.Now()

	status := "completed"
	errMsg := ""
	if err != nil {
		status = "failed"
		errMsg = err.Error()
		s.log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
	} else {
		s.log.Debug().
			Str("job", job.Name()).
			Dur("duration", finished.Sub(started)).
			Msg("Job completed")
	}

	if s.history != nil {
		if recErr := s.history.Record(job.Name(), status, errMsg, started, finished); recErr != nil {
			s.log.Warn().Err(recErr).Str("job", job.Name()).Msg("Failed to record job history")
		}
	}
	if s.bus != nil {
		s.bus.EmitTyped("scheduler", &events.JobCompletedData{
			JobName:   job.Name(),
			Status:    status,
			Error:     errMsg,
			Timestamp: finished,
		})
	}
	return err
}
