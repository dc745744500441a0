package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/prite36/growth-chamber-control/internal/lifecycle"
	"github.com/prite36/growth-chamber-control/internal/models"
)

// CreateSchedule inserts a schedule and, when exec is non-nil, its execution
// record in one transaction.
func (s *Store) CreateSchedule(ctx context.Context, sch *models.Schedule, exec *models.ScheduleExecution) error {
	if sch.ID == "" {
		sch.ID = "schedule-" + uuid.NewString()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sch).Error; err != nil {
			return err
		}
		if exec != nil {
			exec.ScheduleID = sch.ID
			return tx.Create(exec).Error
		}
		return nil
	})
	return wrap(err, "create schedule")
}

// ReplaceSchedule installs a new definition and compiled program for an
// existing schedule, provided its status is still expected. The execution
// record is upserted when exec is non-nil and removed otherwise.
func (s *Store) ReplaceSchedule(ctx context.Context, sch *models.Schedule, expected lifecycle.Status, exec *models.ScheduleExecution) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Schedule{}).
			Where("id = ? AND status = ?", sch.ID, expected).
			Select("*").
			Omit("id", "created_at").
			Updates(sch)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&models.Schedule{}).Where("id = ?", sch.ID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return ErrNotFound
			}
			return ErrConflict
		}
		if exec == nil {
			return tx.Delete(&models.ScheduleExecution{}, "schedule_id = ?", sch.ID).Error
		}
		exec.ScheduleID = sch.ID
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(exec).Error
	})
	return wrap(err, "replace schedule "+sch.ID)
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	var sch models.Schedule
	if err := s.db.WithContext(ctx).First(&sch, "id = ?", id).Error; err != nil {
		return nil, wrap(err, "get schedule "+id)
	}
	return &sch, nil
}

func (s *Store) GetExecution(ctx context.Context, scheduleID string) (*models.ScheduleExecution, error) {
	var exec models.ScheduleExecution
	if err := s.db.WithContext(ctx).First(&exec, "schedule_id = ?", scheduleID).Error; err != nil {
		return nil, wrap(err, "get execution "+scheduleID)
	}
	return &exec, nil
}

// ListSchedules returns all schedules, or only those of one chamber when
// chamberID is not empty.
func (s *Store) ListSchedules(ctx context.Context, chamberID string) ([]models.Schedule, error) {
	q := s.db.WithContext(ctx).Order("created_at ASC, id ASC")
	if chamberID != "" {
		q = q.Where("chamber_id = ?", chamberID)
	}
	var out []models.Schedule
	if err := q.Find(&out).Error; err != nil {
		return nil, wrap(err, "list schedules")
	}
	return out, nil
}

// DeleteSchedule removes a schedule and its execution record.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.ScheduleExecution{}, "schedule_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Schedule{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	return wrap(err, "delete schedule "+id)
}

// ScheduleInWindow returns the chamber's ready or active schedule whose
// window contains now. Resolution is purely time based, so a ready schedule
// the monitor has not promoted yet still drives the chamber. When windows
// overlap the most recently started schedule wins.
func (s *Store) ScheduleInWindow(ctx context.Context, chamberID string, now int64) (*models.Schedule, error) {
	var sch models.Schedule
	err := s.db.WithContext(ctx).
		Where("chamber_id = ? AND status IN ? AND time_start <= ? AND time_end > ?",
			chamberID, []lifecycle.Status{lifecycle.StatusReady, lifecycle.StatusActive}, now, now).
		Order("time_start DESC, id ASC").
		First(&sch).Error
	if err != nil {
		return nil, wrap(err, "schedule in window for "+chamberID)
	}
	return &sch, nil
}
