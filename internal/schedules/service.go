// Package schedules owns the write path of schedules: every accepted change
// is compiled against the referenced scenarios and installed together with its
// program in one write.
package schedules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/prite36/growth-chamber-control/internal/lifecycle"
	"github.com/prite36/growth-chamber-control/internal/models"
	"github.com/prite36/growth-chamber-control/internal/program"
	"github.com/prite36/growth-chamber-control/internal/store"
)

var (
	// ErrInvalid wraps input and compile errors.
	ErrInvalid = errors.New("invalid schedule")
	// ErrNotEditable is returned when the schedule's status forbids the change.
	ErrNotEditable = errors.New("schedule not editable in its current status")
)

// Store is the persistence the service needs.
type Store interface {
	GetChamber(ctx context.Context, id string) (*models.Chamber, error)
	LoadScenarios(ctx context.Context, ids []string) (program.Scenarios, error)
	CreateSchedule(ctx context.Context, sch *models.Schedule, exec *models.ScheduleExecution) error
	ReplaceSchedule(ctx context.Context, sch *models.Schedule, expected lifecycle.Status, exec *models.ScheduleExecution) error
	GetSchedule(ctx context.Context, id string) (*models.Schedule, error)
	GetExecution(ctx context.Context, scheduleID string) (*models.ScheduleExecution, error)
	ListSchedules(ctx context.Context, chamberID string) ([]models.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
	CancelSchedule(ctx context.Context, id string, from lifecycle.Status) (bool, error)
	ScheduleInWindow(ctx context.Context, chamberID string, now int64) (*models.Schedule, error)
}

// Input is a schedule definition as submitted by a client.
type Input struct {
	Name              string              `json:"name"`
	Description       string              `json:"description"`
	ChamberID         string              `json:"chamber_id"`
	TimeStart         *int64              `json:"time_start"`
	TimeEnd           *int64              `json:"time_end,omitempty"`
	Scenarios         []string            `json:"scenarios"`
	ScheduleScenarios []program.Placement `json:"schedule_scenarios"`
	AutoMode          *bool               `json:"auto,omitempty"`
	ControlModes      models.ControlModes `json:"control_modes,omitempty"`
}

// Service implements schedule CRUD and the per-chamber step lookup.
type Service struct {
	store   Store
	log     zerolog.Logger
	timeout time.Duration
}

func New(s Store, log zerolog.Logger, storeTimeout time.Duration) *Service {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Service{
		store:   s,
		log:     log.With().Str("component", "schedules").Logger(),
		timeout: storeTimeout,
	}
}

// Create stores a new schedule. Without a chamber or a start time it is kept
// as a draft; otherwise it is compiled and stored as ready.
func (s *Service) Create(ctx context.Context, in Input) (*models.Schedule, error) {
	sch, exec, err := s.build(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateSchedule(ctx, sch, exec); err != nil {
		return nil, err
	}
	s.log.Info().Str("schedule", sch.ID).Str("status", string(sch.Status)).Msg("schedule created")
	return sch, nil
}

// Update replaces the definition of a draft or ready schedule and recompiles
// it. Running and finished schedules are immutable.
func (s *Service) Update(ctx context.Context, id string, in Input) (*models.Schedule, error) {
	current, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != lifecycle.StatusDraft && current.Status != lifecycle.StatusReady {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotEditable, id, current.Status)
	}

	sch, exec, err := s.build(ctx, in)
	if err != nil {
		return nil, err
	}
	sch.ID = id
	sch.CreatedAt = current.CreatedAt
	if err := s.store.ReplaceSchedule(ctx, sch, current.Status, exec); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: %s changed status concurrently", ErrNotEditable, id)
		}
		return nil, err
	}
	s.log.Info().Str("schedule", id).Str("status", string(sch.Status)).Msg("schedule updated")
	return sch, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Schedule, error) {
	return s.store.GetSchedule(ctx, id)
}

func (s *Service) List(ctx context.Context, chamberID string) ([]models.Schedule, error) {
	return s.store.ListSchedules(ctx, chamberID)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("schedule", id).Msg("schedule deleted")
	return nil
}

// Cancel moves a non-terminal schedule to cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Schedule, error) {
	sch, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if !lifecycle.CanTransition(sch.Status, lifecycle.StatusCancelled) {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotEditable, id, sch.Status)
	}
	ok, err := s.store.CancelSchedule(ctx, id, sch.Status)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s changed status concurrently", ErrNotEditable, id)
	}
	s.log.Info().Str("schedule", id).Str("from", string(sch.Status)).Msg("schedule cancelled")
	sch.Status = lifecycle.StatusCancelled
	return sch, nil
}

// Program returns the compiled program of a schedule, or nil for a draft.
func (s *Service) Program(ctx context.Context, id string) (*program.Program, error) {
	sch, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	return sch.Program.Data(), nil
}

func (s *Service) build(ctx context.Context, in Input) (*models.Schedule, *models.ScheduleExecution, error) {
	if len(in.ScheduleScenarios) > 0 && len(in.Scenarios) == 0 {
		return nil, nil, fmt.Errorf("%w: schedule_scenarios given without scenarios", ErrInvalid)
	}
	for k, family := range in.ControlModes {
		if family != models.FamilyESPHome && family != models.FamilyClimate {
			return nil, nil, fmt.Errorf("%w: unknown controller family %q for %s", ErrInvalid, family, k)
		}
	}
	sch := &models.Schedule{
		Name:              in.Name,
		Description:       in.Description,
		ChamberID:         in.ChamberID,
		Status:            lifecycle.StatusDraft,
		TimeStart:         in.TimeStart,
		Scenarios:         datatypes.NewJSONType(in.Scenarios),
		ScheduleScenarios: datatypes.NewJSONType(in.ScheduleScenarios),
	}
	if in.ChamberID == "" || in.TimeStart == nil {
		return sch, nil, nil
	}

	chamber, err := s.store.GetChamber(ctx, in.ChamberID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: unknown chamber %s", ErrInvalid, in.ChamberID)
		}
		return nil, nil, err
	}
	lookup, err := s.store.LoadScenarios(ctx, in.Scenarios)
	if err != nil {
		return nil, nil, err
	}

	def := sch.Definition()
	if in.TimeEnd != nil {
		def.TimeEnd = *in.TimeEnd
	}
	p, err := program.Compile(def, lookup, program.WithSectors(chamber.Layout()))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	fp, err := p.Fingerprint()
	if err != nil {
		return nil, nil, err
	}

	sch.Status = lifecycle.StatusReady
	sch.TimeEnd = &p.TimeEnd
	sch.Program = datatypes.NewJSONType(p)
	sch.Fingerprint = fp

	exec := &models.ScheduleExecution{
		ChamberID:    in.ChamberID,
		Status:       lifecycle.StatusReady,
		AutoMode:     in.AutoMode == nil || *in.AutoMode,
		ControlModes: datatypes.NewJSONType(controlModes(in.ControlModes)),
		TimeStart:    p.TimeStart,
		TimeEnd:      p.TimeEnd,
	}
	return sch, exec, nil
}

func controlModes(override models.ControlModes) models.ControlModes {
	modes := models.DefaultControlModes()
	for k, v := range override {
		modes[k] = v
	}
	return modes
}
