package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Store is the persistence the monitor writes through. Status writes must be
// conditional on the expected prior status so that concurrent sweeps from
// several processes cannot regress a schedule.
type Store interface {
	// ListSweepable returns every schedule in status ready or active.
	ListSweepable(ctx context.Context) ([]Schedule, error)
	// CompareAndSetStatus moves a schedule from one status to another and
	// reports false when the stored status was no longer from.
	CompareAndSetStatus(ctx context.Context, id string, from, to Status) (bool, error)
	// SetExecutionStatus mirrors a status into the schedule's execution record.
	SetExecutionStatus(ctx context.Context, id string, status Status) error
	// ListExecutionDrift returns schedules whose execution record status
	// differs from the schedule status.
	ListExecutionDrift(ctx context.Context) ([]Drift, error)
}

// Drift is a schedule whose execution record lags behind its status.
type Drift struct {
	ScheduleID   string
	Status       Status
	RecordStatus Status
}

// Observer is told about every transition this process applied.
type Observer interface {
	ScheduleTransitioned(ctx context.Context, t Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, t Transition)

func (f ObserverFunc) ScheduleTransitioned(ctx context.Context, t Transition) { f(ctx, t) }

// TransitionError records a transition that did not fully persist.
// StatusWritten is true when only the execution record write failed; the
// next sweep re-derives the mismatch and mirrors it again.
type TransitionError struct {
	Transition
	StatusWritten bool
	Err           error
}

func (e *TransitionError) Error() string {
	if e.StatusWritten {
		return fmt.Sprintf("schedule %s %s->%s: status written, execution record not: %v", e.ScheduleID, e.From, e.To, e.Err)
	}
	return fmt.Sprintf("schedule %s %s->%s: %v", e.ScheduleID, e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// Report summarises one sweep.
type Report struct {
	Now      int64              `json:"now"`
	Applied  []Transition       `json:"applied"`
	Lost     []Transition       `json:"lost,omitempty"` // another writer changed the status first
	Healed   []Drift            `json:"healed,omitempty"`
	Failures []*TransitionError `json:"-"`
}

// Err joins the partial failures of the sweep, or returns nil.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Monitor advances schedule statuses on each sweep.
type Monitor struct {
	store     Store
	log       zerolog.Logger
	clock     func() time.Time
	observers []Observer

	// serialises local runs; other processes are handled by compare-and-set
	mu sync.Mutex
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) { m.clock = clock }
}

// WithObserver registers an observer for applied transitions.
func WithObserver(o Observer) Option {
	return func(m *Monitor) { m.observers = append(m.observers, o) }
}

// NewMonitor creates a monitor over store.
func NewMonitor(store Store, log zerolog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		store: store,
		log:   log.With().Str("component", "lifecycle").Logger(),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunOnce sweeps at the current time.
func (m *Monitor) RunOnce(ctx context.Context) (Report, error) {
	return m.RunAt(ctx, m.clock())
}

// RunAt sweeps as if the wall clock read now. The returned error is non-nil
// when the schedules could not be listed or when some writes failed; in the
// latter case the report still lists what was applied.
func (m *Monitor) RunAt(ctx context.Context, now time.Time) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := Report{Now: now.Unix()}

	schedules, err := m.store.ListSweepable(ctx)
	if err != nil {
		return report, fmt.Errorf("list sweepable schedules: %w", err)
	}

	for _, t := range Sweep(report.Now, schedules) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		m.apply(ctx, t, &report)
	}

	if err := m.heal(ctx, &report); err != nil {
		return report, err
	}

	if len(report.Applied) > 0 || len(report.Failures) > 0 {
		m.log.Info().
			Int64("now", report.Now).
			Int("applied", len(report.Applied)).
			Int("lost", len(report.Lost)).
			Int("healed", len(report.Healed)).
			Int("failures", len(report.Failures)).
			Msg("sweep finished")
	}
	return report, report.Err()
}

func (m *Monitor) apply(ctx context.Context, t Transition, report *Report) {
	ok, err := m.store.CompareAndSetStatus(ctx, t.ScheduleID, t.From, t.To)
	if err != nil {
		m.log.Error().Err(err).Str("schedule", t.ScheduleID).Msg("status write failed")
		report.Failures = append(report.Failures, &TransitionError{Transition: t, Err: err})
		return
	}
	if !ok {
		m.log.Debug().Str("schedule", t.ScheduleID).Str("to", string(t.To)).Msg("status changed concurrently, skipping")
		report.Lost = append(report.Lost, t)
		return
	}

	report.Applied = append(report.Applied, t)
	m.log.Info().Str("schedule", t.ScheduleID).Str("from", string(t.From)).Str("to", string(t.To)).Msg("schedule transitioned")

	if err := m.store.SetExecutionStatus(ctx, t.ScheduleID, t.To); err != nil {
		m.log.Warn().Err(err).Str("schedule", t.ScheduleID).Msg("execution record not updated, next sweep will reconcile")
		report.Failures = append(report.Failures, &TransitionError{Transition: t, StatusWritten: true, Err: err})
	}

	for _, o := range m.observers {
		o.ScheduleTransitioned(ctx, t)
	}
}

func (m *Monitor) heal(ctx context.Context, report *Report) error {
	drifts, err := m.store.ListExecutionDrift(ctx)
	if err != nil {
		return fmt.Errorf("list execution drift: %w", err)
	}
	failed := make(map[string]bool, len(report.Failures))
	for _, f := range report.Failures {
		failed[f.ScheduleID] = true
	}
	for _, d := range drifts {
		if failed[d.ScheduleID] {
			continue
		}
		if err := m.store.SetExecutionStatus(ctx, d.ScheduleID, d.Status); err != nil {
			report.Failures = append(report.Failures, &TransitionError{
				Transition:    Transition{ScheduleID: d.ScheduleID, From: d.RecordStatus, To: d.Status},
				StatusWritten: true,
				Err:           err,
			})
			continue
		}
		report.Healed = append(report.Healed, d)
	}
	return nil
}
