package store

import (
	"context"

	"github.com/prite36/growth-chamber-control/internal/lifecycle"
	"github.com/prite36/growth-chamber-control/internal/models"
)

var _ lifecycle.Store = (*Store)(nil)

func (s *Store) ListSweepable(ctx context.Context) ([]lifecycle.Schedule, error) {
	var rows []models.Schedule
	err := s.db.WithContext(ctx).
		Select("id", "status", "time_start", "time_end").
		Where("status IN ?", []lifecycle.Status{lifecycle.StatusReady, lifecycle.StatusActive}).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrap(err, "list sweepable")
	}
	out := make([]lifecycle.Schedule, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Sweepable())
	}
	return out, nil
}

// CompareAndSetStatus updates the status only when it still reads from.
func (s *Store) CompareAndSetStatus(ctx context.Context, id string, from, to lifecycle.Status) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Schedule{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, wrap(res.Error, "set status "+id)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) SetExecutionStatus(ctx context.Context, id string, status lifecycle.Status) error {
	res := s.db.WithContext(ctx).
		Model(&models.ScheduleExecution{}).
		Where("schedule_id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return wrap(res.Error, "set execution status "+id)
	}
	if res.RowsAffected == 0 {
		return wrap(ErrNotFound, "set execution status "+id)
	}
	return nil
}

// ListExecutionDrift joins schedules with their execution records and returns
// the pairs whose statuses disagree. Drafts have no record and never drift.
func (s *Store) ListExecutionDrift(ctx context.Context) ([]lifecycle.Drift, error) {
	var rows []struct {
		ID           string
		Status       lifecycle.Status
		RecordStatus lifecycle.Status
	}
	err := s.db.WithContext(ctx).
		Table("schedules").
		Select("schedules.id AS id, schedules.status AS status, schedule_executions.status AS record_status").
		Joins("JOIN schedule_executions ON schedule_executions.schedule_id = schedules.id").
		Where("schedules.status <> schedule_executions.status").
		Order("schedules.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrap(err, "list execution drift")
	}
	out := make([]lifecycle.Drift, len(rows))
	for i, r := range rows {
		out[i] = lifecycle.Drift{ScheduleID: r.ID, Status: r.Status, RecordStatus: r.RecordStatus}
	}
	return out, nil
}

// CancelSchedule moves a non-terminal schedule to cancelled and mirrors the
// execution record in the same transaction. It reports false when the status
// was no longer from.
func (s *Store) CancelSchedule(ctx context.Context, id string, from lifecycle.Status) (bool, error) {
	ok, err := s.CompareAndSetStatus(ctx, id, from, lifecycle.StatusCancelled)
	if err != nil || !ok {
		return ok, err
	}
	// a draft has no execution record; a missing row is not an error here
	err = s.db.WithContext(ctx).
		Model(&models.ScheduleExecution{}).
		Where("schedule_id = ?", id).
		Update("status", lifecycle.StatusCancelled).Error
	if err != nil {
		s.log.Warn().Err(err).Str("schedule", id).Msg("execution record not cancelled, monitor will reconcile")
	}
	return true, nil
}
