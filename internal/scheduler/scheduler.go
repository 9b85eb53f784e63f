// Package scheduler runs the daily batch cadence: price and calendar
// sync after the US close, macro sync, the EOD decision pipeline, and
// weekly backup maintenance. Schedules use six-field cron specs with a
// seconds column.
package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a unit of scheduled work.
type Job interface {
	Run() error
	Name() string
}

// RegisteredJob describes one scheduled job for the health endpoint.
type RegisteredJob struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	LastRun  time.Time `json:"last_run,omitempty"`
	LastErr  string    `json:"last_error,omitempty"`
}

// Scheduler manages background jobs on cron schedules.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu   sync.Mutex
	jobs []*jobState
}

type jobState struct {
	job      Job
	schedule string
	lastRun  time.Time
	lastErr  error
}

// New creates a scheduler. Specs are parsed with a seconds field.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins executing registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job under a cron schedule, e.g. "0 10 22 * * 1-5"
// for 22:10 UTC on weekdays.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	state := &jobState{job: job, schedule: schedule}

	_, err := s.cron.AddFunc(schedule, func() {
		s.execute(state)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, state)
	s.mu.Unlock()

	s.log.Info().
		Str("job", job.Name()).
		Str("schedule", schedule).
		Msg("Job registered")
	return nil
}

// RunNow executes a job immediately, outside its schedule. Used by the
// manual trigger endpoints.
func (s *Scheduler) RunNow(job Job) error {
	s.mu.Lock()
	var state *jobState
	for _, js := range s.jobs {
		if js.job == job {
			state = js
			break
		}
	}
	s.mu.Unlock()

	if state == nil {
		state = &jobState{job: job, schedule: "manual"}
	}
	s.log.Info().Str("job", job.Name()).Msg("Running job on demand")
	return s.execute(state)
}

// Registered reports the scheduled jobs with their last outcome.
func (s *Scheduler) Registered() []RegisteredJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RegisteredJob, 0, len(s.jobs))
	for _, js := range s.jobs {
		rj := RegisteredJob{
			Name:     js.job.Name(),
			Schedule: js.schedule,
			LastRun:  js.lastRun,
		}
		if js.lastErr != nil {
			rj.LastErr = js.lastErr.Error()
		}
		out = append(out, rj)
	}
	return out
}

func (s *Scheduler) execute(state *jobState) error {
	name := state.job.Name()
	s.log.Debug().Str("job", name).Msg("Running job")

	started := time.Now()
	err := state.job.Run()

	s.mu.Lock()
	state.lastRun = started.UTC()
	state.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Str("job", name).Msg("Job failed")
		return err
	}
	s.log.Debug().Str("job", name).Dur("duration", time.Since(started)).Msg("Job completed")
	return nil
}
