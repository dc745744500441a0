package models

import (
	"github.com/prite36/growth-chamber-control/internal/program"
	"gorm.io/datatypes"
)

type Scenario struct {
	ID          string                             `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name        string                             `gorm:"type:varchar(128);not null" json:"name"`
	Description string                             `json:"description"`
	Steps       datatypes.JSONType[[]program.Step] `json:"steps"`
	CreatedAt   int64                              `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   int64                              `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Scenario) TableName() string {
	return "scenarios"
}

// Program converts the stored scenario into the compiler's value type.
func (s *Scenario) Program() program.Scenario {
	return program.Scenario{ID: s.ID, Name: s.Name, Steps: s.Steps.Data()}
}
