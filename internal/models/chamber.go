package models

import (
	"github.com/prite36/growth-chamber-control/internal/program"
	"github.com/prite36/growth-chamber-control/internal/sector"
	"gorm.io/datatypes"
)

// Controller families. ESPHome-style controllers keep a persistent MQTT
// session; climate controllers are driven by a remote poller.
const (
	FamilyESPHome = "esphome"
	FamilyClimate = "climate"
)

// Controller is a networked actuator attached to a chamber.
type Controller struct {
	Name     string        `json:"name" yaml:"name"`
	Family   string        `json:"family" yaml:"family"`
	DeviceID string        `json:"device_id" yaml:"device_id"`
	Kinds    []sector.Kind `json:"kinds" yaml:"kinds"`
}

// Controls reports whether the controller handles kind k.
func (c Controller) Controls(k sector.Kind) bool {
	for _, kk := range c.Kinds {
		if kk == k {
			return true
		}
	}
	return false
}

type Chamber struct {
	ID          string                            `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name        string                            `gorm:"type:varchar(128);uniqueIndex;not null" json:"name"`
	Sectors     datatypes.JSONType[sector.Config] `json:"sectors"`
	Controllers datatypes.JSONType[[]Controller]  `json:"controllers"`
	CreatedAt   int64                             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   int64                             `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Chamber) TableName() string {
	return "chambers"
}

// SectorIDs derives the positional sector-ID lists of the chamber.
func (c *Chamber) SectorIDs() (sector.IDs, error) {
	return sector.Derive(c.Sectors.Data())
}

// Layout is the sector layout the compiler checks step values against.
func (c *Chamber) Layout() program.Sectors {
	cfg := c.Sectors.Data()
	return program.Sectors{Light: cfg.Light.Count, Watering: cfg.Watering.Count}
}
