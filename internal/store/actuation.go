package store

import (
	"context"
	"time"

	"github.com/prite36/growth-chamber-control/internal/models"
)

// RecordActuation stores the start of a dispatch and returns its row ID.
func (s *Store) RecordActuation(ctx context.Context, h *models.ActuationHistory) (uint, error) {
	if h.StartedAt.IsZero() {
		h.StartedAt = time.Now()
	}
	if h.Status == "" {
		h.Status = models.ActuationStarted
	}
	if err := s.db.WithContext(ctx).Create(h).Error; err != nil {
		return 0, wrap(err, "record actuation")
	}
	return h.ID, nil
}

// FinishActuation closes a history row with the outcome of the dispatch.
func (s *Store) FinishActuation(ctx context.Context, id uint, status models.ActuationStatus, notes string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&models.ActuationHistory{}).
		Where("id = ?", id).
		Updates(map[string]any{"ended_at": &now, "status": status, "notes": notes})
	if res.Error != nil {
		return wrap(res.Error, "finish actuation")
	}
	if res.RowsAffected == 0 {
		return wrap(ErrNotFound, "finish actuation")
	}
	return nil
}

// ListActuations returns the newest history rows of a chamber first.
func (s *Store) ListActuations(ctx context.Context, chamberID string, limit int) ([]models.ActuationHistory, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []models.ActuationHistory
	err := s.db.WithContext(ctx).
		Where("chamber_id = ?", chamberID).
		Order("started_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, wrap(err, "list actuations")
	}
	return out, nil
}

// ActuationStarted records the start of a dispatch to one controller.
func (s *Store) ActuationStarted(ctx context.Context, chamberID, scheduleID, actuator, stepKey string) (uint, error) {
	return s.RecordActuation(ctx, &models.ActuationHistory{
		ChamberID:  chamberID,
		ScheduleID: scheduleID,
		Controller: actuator,
		StepKey:    stepKey,
	})
}

// ActuationFinished closes a dispatch row as completed, or failed with the
// error text.
func (s *Store) ActuationFinished(ctx context.Context, id uint, applyErr error) error {
	if applyErr != nil {
		return s.FinishActuation(ctx, id, models.ActuationFailed, applyErr.Error())
	}
	return s.FinishActuation(ctx, id, models.ActuationCompleted, "")
}
