package models

import (
	"github.com/prite36/growth-chamber-control/internal/lifecycle"
	"github.com/prite36/growth-chamber-control/internal/program"
	"github.com/prite36/growth-chamber-control/internal/sector"
	"gorm.io/datatypes"
)

// Schedule is the stored schedule definition together with its compiled
// program. Program and Fingerprint are written in the same statement as the
// definition so readers never observe a partially installed program.
type Schedule struct {
	ID                string                                  `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name              string                                  `gorm:"type:varchar(128)" json:"name"`
	Description       string                                  `json:"description"`
	ChamberID         string                                  `gorm:"type:varchar(64);index" json:"chamber_id"`
	Status            lifecycle.Status                        `gorm:"type:varchar(20);not null;index" json:"status"`
	TimeStart         *int64                                  `json:"time_start"`
	TimeEnd           *int64                                  `json:"time_end"`
	Scenarios         datatypes.JSONType[[]string]            `json:"scenarios"`
	ScheduleScenarios datatypes.JSONType[[]program.Placement] `json:"schedule_scenarios"`
	Program           datatypes.JSONType[*program.Program]    `json:"-"`
	Fingerprint       string                                  `gorm:"type:varchar(64)" json:"fingerprint,omitempty"`
	CreatedAt         int64                                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         int64                                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Schedule) TableName() string {
	return "schedules"
}

// Definition returns the compiler input held by the schedule.
func (s *Schedule) Definition() program.Definition {
	def := program.Definition{
		ChamberID:         s.ChamberID,
		Scenarios:         s.Scenarios.Data(),
		ScheduleScenarios: s.ScheduleScenarios.Data(),
	}
	if s.TimeStart != nil {
		def.TimeStart = *s.TimeStart
	}
	if s.TimeEnd != nil {
		def.TimeEnd = *s.TimeEnd
	}
	return def
}

// Sweepable projects the schedule for the lifecycle monitor.
func (s *Schedule) Sweepable() lifecycle.Schedule {
	out := lifecycle.Schedule{ID: s.ID, Status: s.Status}
	if s.TimeStart != nil {
		out.TimeStart = *s.TimeStart
	}
	if s.TimeEnd != nil {
		out.TimeEnd = *s.TimeEnd
	}
	return out
}

// ControlModes maps each controllable kind to the controller family that
// actuates it.
type ControlModes map[sector.Kind]string

// DefaultControlModes sends temperature to the climate family and everything
// else to ESPHome controllers.
func DefaultControlModes() ControlModes {
	return ControlModes{
		sector.Temperature: FamilyClimate,
		sector.Humidity:    FamilyESPHome,
		sector.CO2:         FamilyESPHome,
		sector.Light:       FamilyESPHome,
		sector.Watering:    FamilyESPHome,
	}
}

// ScheduleExecution is the execution record kept next to every non-draft
// schedule. The lifecycle monitor mirrors the schedule status into it.
type ScheduleExecution struct {
	ScheduleID   string                           `gorm:"primaryKey;type:varchar(64)" json:"schedule_id"`
	ChamberID    string                           `gorm:"type:varchar(64);index" json:"chamber_id"`
	Status       lifecycle.Status                 `gorm:"type:varchar(20);not null" json:"status"`
	AutoMode     bool                             `gorm:"not null" json:"auto"`
	ControlModes datatypes.JSONType[ControlModes] `json:"control_modes"`
	TimeStart    int64                            `json:"time_start"`
	TimeEnd      int64                            `json:"time_end"`
	UpdatedAt    int64                            `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ScheduleExecution) TableName() string {
	return "schedule_executions"
}
