package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/prite36/growth-chamber-control/internal/sector"
)

// Actuator applies commands to one physical controller.
type Actuator interface {
	Name() string
	// Family is the controller family matched against a schedule's control
	// modes.
	Family() string
	Controls(k sector.Kind) bool
	Apply(ctx context.Context, cmd Command) error
}

// History records each attempt to apply a command.
type History interface {
	ActuationStarted(ctx context.Context, chamberID, scheduleID, actuator, stepKey string) (uint, error)
	ActuationFinished(ctx context.Context, id uint, applyErr error) error
}

// StepObserver is told when a chamber moves to a different step.
type StepObserver interface {
	StepChanged(ctx context.Context, res Resolution)
}

// Result is the outcome of dispatching one chamber.
type Result struct {
	ChamberID string            `json:"chamber_id"`
	StepKey   string            `json:"step,omitempty"`
	Active    bool              `json:"is_active"`
	Changed   bool              `json:"changed"`
	Skipped   string            `json:"skipped,omitempty"`
	Applied   []string          `json:"applied,omitempty"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// Dispatcher resolves the current step of every registered chamber and pushes
// it to the chamber's actuators.
type Dispatcher struct {
	source    Source
	log       zerolog.Logger
	clock     func() time.Time
	history   History
	observers []StepObserver
	limit     int

	mu        sync.Mutex
	actuators map[string][]Actuator
	// lastKey holds the schedule ID and step key last dispatched per chamber.
	lastKey map[string]string
}

type Option func(*Dispatcher)

func WithClock(clock func() time.Time) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

func WithHistory(h History) Option {
	return func(d *Dispatcher) { d.history = h }
}

func WithStepObserver(o StepObserver) Option {
	return func(d *Dispatcher) { d.observers = append(d.observers, o) }
}

// WithConcurrency bounds how many chambers are dispatched at once.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) { d.limit = n }
}

func New(source Source, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		source:    source,
		log:       log.With().Str("component", "dispatch").Logger(),
		clock:     time.Now,
		limit:     4,
		actuators: map[string][]Actuator{},
		lastKey:   map[string]string{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register attaches actuators to a chamber. A chamber registered without
// actuators is still resolved so step changes reach observers.
func (d *Dispatcher) Register(chamberID string, actuators ...Actuator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actuators[chamberID] = append(d.actuators[chamberID], actuators...)
}

// Chambers lists the registered chamber IDs in order.
func (d *Dispatcher) Chambers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.actuators))
	for id := range d.actuators {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Tick dispatches every registered chamber at the current time. One chamber
// failing does not stop the others; the errors are joined.
func (d *Dispatcher) Tick(ctx context.Context) ([]Result, error) {
	now := d.clock().Unix()
	chambers := d.Chambers()
	results := make([]Result, len(chambers))
	errs := make([]error, len(chambers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.limit)
	for i, id := range chambers {
		i, id := i, id
		g.Go(func() error {
			results[i], errs[i] = d.DispatchAt(gctx, id, now)
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// Dispatch resolves and applies one chamber at the current time.
func (d *Dispatcher) Dispatch(ctx context.Context, chamberID string) (Result, error) {
	return d.DispatchAt(ctx, chamberID, d.clock().Unix())
}

// DispatchAt resolves the chamber's step at now and applies it. Setpoints are
// re-sent on every call; watering and pin directives only when the step
// differs from the one last dispatched for the chamber.
func (d *Dispatcher) DispatchAt(ctx context.Context, chamberID string, now int64) (Result, error) {
	result := Result{ChamberID: chamberID}

	res, err := d.source.CurrentStep(ctx, chamberID, now)
	if err != nil {
		d.log.Warn().Err(err).Str("chamber", chamberID).Msg("could not resolve current step")
		return result, fmt.Errorf("chamber %s: %w", chamberID, err)
	}

	key := res.Current.Key()
	result.Active = res.Current.Active
	result.StepKey = key

	// Step keys restart at 0/0/0 for every schedule, so a schedule taking
	// over a chamber counts as a step change.
	edge := res.ScheduleID + "/" + key
	d.mu.Lock()
	changed := d.lastKey[chamberID] != edge
	d.lastKey[chamberID] = edge
	actuators := append([]Actuator(nil), d.actuators[chamberID]...)
	d.mu.Unlock()
	result.Changed = changed

	if changed {
		d.log.Info().Str("chamber", chamberID).Str("schedule", res.ScheduleID).Str("step", key).Msg("step changed")
		for _, o := range d.observers {
			o.StepChanged(ctx, res)
		}
	}

	if !res.Current.Active {
		result.Skipped = "inactive"
		return result, nil
	}
	if !res.AutoMode {
		result.Skipped = "manual"
		return result, nil
	}

	cmd, err := BuildCommand(res, changed)
	if err != nil {
		return result, fmt.Errorf("chamber %s: build command: %w", chamberID, err)
	}

	var errs []error
	for _, a := range actuators {
		sub := cmd.Only(func(k sector.Kind) bool {
			if !a.Controls(k) {
				return false
			}
			family, ok := res.ControlModes[k]
			return !ok || family == a.Family()
		})
		if sub.Empty() {
			continue
		}
		if err := d.apply(ctx, a, res, sub); err != nil {
			if result.Failed == nil {
				result.Failed = map[string]string{}
			}
			result.Failed[a.Name()] = err.Error()
			errs = append(errs, fmt.Errorf("chamber %s actuator %s: %w", chamberID, a.Name(), err))
			continue
		}
		result.Applied = append(result.Applied, a.Name())
	}
	return result, errors.Join(errs...)
}

func (d *Dispatcher) apply(ctx context.Context, a Actuator, res Resolution, cmd Command) error {
	var histID uint
	if d.history != nil {
		id, err := d.history.ActuationStarted(ctx, res.ChamberID, res.ScheduleID, a.Name(), cmd.StepKey)
		if err != nil {
			d.log.Warn().Err(err).Str("actuator", a.Name()).Msg("failed to record actuation start")
		}
		histID = id
	}

	applyErr := a.Apply(ctx, cmd)
	if applyErr != nil {
		d.log.Error().Err(applyErr).Str("chamber", res.ChamberID).Str("actuator", a.Name()).Msg("actuation failed")
	} else {
		d.log.Debug().Str("chamber", res.ChamberID).Str("actuator", a.Name()).Str("step", cmd.StepKey).Msg("command applied")
	}

	if d.history != nil && histID != 0 {
		if err := d.history.ActuationFinished(ctx, histID, applyErr); err != nil {
			d.log.Warn().Err(err).Str("actuator", a.Name()).Msg("failed to record actuation result")
		}
	}
	return applyErr
}
