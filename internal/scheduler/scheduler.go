package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/prite36/growth-chamber-control/internal/dispatch"
	"github.com/prite36/growth-chamber-control/internal/lifecycle"
)

// Sweeper runs one lifecycle sweep.
type Sweeper interface {
	RunOnce(ctx context.Context) (lifecycle.Report, error)
}

// Ticker dispatches the current step of every registered chamber.
type Ticker interface {
	Tick(ctx context.Context) ([]dispatch.Result, error)
}

// Config holds the job intervals. A zero interval disables the job.
type Config struct {
	MonitorInterval  time.Duration
	DispatchInterval time.Duration
}

type Option func(*Scheduler)

// WithSweepReporter is called with the report of every sweep.
func WithSweepReporter(fn func(lifecycle.Report)) Option {
	return func(s *Scheduler) { s.onSweep = fn }
}

// Scheduler runs the lifecycle monitor and the dispatcher on fixed intervals.
type Scheduler struct {
	scheduler *gocron.Scheduler
	cfg       Config
	monitor   Sweeper
	ticker    Ticker
	onSweep   func(lifecycle.Report)
	log       zerolog.Logger
	ctx       context.Context
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(loc *time.Location, cfg Config, monitor Sweeper, ticker Ticker, log zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		scheduler: gocron.NewScheduler(loc),
		cfg:       cfg,
		monitor:   monitor,
		ticker:    ticker,
		log:       log.With().Str("component", "scheduler").Logger(),
		ctx:       context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start registers the jobs and begins executing them. Jobs overlapping a
// still running instance of themselves are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	if s.cfg.MonitorInterval > 0 && s.monitor != nil {
		s.log.Info().Dur("interval", s.cfg.MonitorInterval).Msg("scheduling lifecycle sweep")
		if _, err := s.scheduler.Every(s.cfg.MonitorInterval).Tag("monitor").SingletonMode().Do(s.runSweepJob); err != nil {
			return fmt.Errorf("failed to schedule lifecycle sweep: %w", err)
		}
	}
	if s.cfg.DispatchInterval > 0 && s.ticker != nil {
		s.log.Info().Dur("interval", s.cfg.DispatchInterval).Msg("scheduling dispatch")
		if _, err := s.scheduler.Every(s.cfg.DispatchInterval).Tag("dispatch").SingletonMode().Do(s.runDispatchJob); err != nil {
			return fmt.Errorf("failed to schedule dispatch: %w", err)
		}
	}
	s.scheduler.StartAsync()
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.log.Info().Msg("stopping scheduler")
	s.scheduler.Stop()
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return s.scheduler.Len()
}

func (s *Scheduler) runSweepJob() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.MonitorInterval)
	defer cancel()
	s.RunSweep(ctx)
}

func (s *Scheduler) runDispatchJob() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DispatchInterval)
	defer cancel()
	s.RunDispatch(ctx)
}

// RunSweep runs one lifecycle sweep and logs its outcome.
// It can also be called directly for debugging purposes.
func (s *Scheduler) RunSweep(ctx context.Context) (lifecycle.Report, error) {
	report, err := s.monitor.RunOnce(ctx)
	if s.onSweep != nil {
		s.onSweep(report)
	}
	ev := s.log.Info()
	if err != nil {
		ev = s.log.Error().Err(err)
	}
	ev.Int("applied", len(report.Applied)).
		Int("lost", len(report.Lost)).
		Int("healed", len(report.Healed)).
		Int("failed", len(report.Failures)).
		Msg("lifecycle sweep finished")
	return report, err
}

// RunDispatch runs one dispatch tick and logs its outcome.
func (s *Scheduler) RunDispatch(ctx context.Context) ([]dispatch.Result, error) {
	results, err := s.ticker.Tick(ctx)
	applied, failed := 0, 0
	for _, r := range results {
		applied += len(r.Applied)
		failed += len(r.Failed)
	}
	if err != nil {
		s.log.Error().Err(err).Int("chambers", len(results)).Msg("dispatch tick finished with errors")
		return results, err
	}
	s.log.Debug().Int("chambers", len(results)).Int("applied", applied).Int("failed", failed).Msg("dispatch tick finished")
	return results, nil
}
