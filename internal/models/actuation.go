package models

import (
	"time"

	"gorm.io/gorm"
)

type ActuationStatus string

const (
	ActuationStarted   ActuationStatus = "started"
	ActuationCompleted ActuationStatus = "completed"
	ActuationFailed    ActuationStatus = "failed"
)

// ActuationHistory records one dispatch of a resolved step to a controller.
type ActuationHistory struct {
	gorm.Model
	ChamberID  string          `gorm:"type:varchar(64);index;not null"`
	ScheduleID string          `gorm:"type:varchar(64)"`
	Controller string          `gorm:"type:varchar(128);not null"`
	StepKey    string          `gorm:"type:varchar(64)"`
	StartedAt  time.Time       `gorm:"not null"`
	EndedAt    *time.Time
	Status     ActuationStatus `gorm:"type:varchar(20);not null"`
	Notes      string
}

func (ActuationHistory) TableName() string {
	return "actuation_history"
}
