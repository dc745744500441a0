// Package dispatch hands resolved steps to actuator controllers.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/prite36/growth-chamber-control/internal/program"
	"github.com/prite36/growth-chamber-control/internal/sector"
)

// ErrSourceUnavailable marks a transient failure to fetch the program. It is
// distinct from an inactive resolution, which is not an error.
var ErrSourceUnavailable = errors.New("step source unavailable")

// Resolution is the step a chamber should be running at one instant, with
// everything a controller needs to address its sectors.
type Resolution struct {
	ChamberID    string                 `json:"chamber_id"`
	ChamberName  string                 `json:"chamber_name,omitempty"`
	ScheduleID   string                 `json:"schedule_id,omitempty"`
	ScheduleName string                 `json:"schedule_name,omitempty"`
	AutoMode     bool                   `json:"auto"`
	ControlModes map[sector.Kind]string `json:"control_modes,omitempty"`
	SectorIDs    sector.IDs             `json:"sector_ids"`
	Current      program.CurrentStep    `json:"current_step"`
}

// Source resolves the current step of a chamber.
type Source interface {
	CurrentStep(ctx context.Context, chamberID string, now int64) (Resolution, error)
}

type Setpoint struct {
	SectorID string `json:"sector_id"`
	Value    int    `json:"value"`
}

// Command is a resolved step translated into per-sector setpoints.
type Command struct {
	ChamberID  string                     `json:"chamber_id"`
	ScheduleID string                     `json:"schedule_id"`
	StepKey    string                     `json:"step"`
	Setpoints  map[sector.Kind][]Setpoint `json:"setpoints"`
	Utils      []program.PinDirective     `json:"utils,omitempty"`
}

// BuildCommand zips the step values against the chamber's sector IDs
// positionally. Watering durations and pin directives are one-shot actions and
// are only included when edge is true.
func BuildCommand(res Resolution, edge bool) (Command, error) {
	cmd := Command{
		ChamberID:  res.ChamberID,
		ScheduleID: res.ScheduleID,
		StepKey:    res.Current.Key(),
		Setpoints:  map[sector.Kind][]Setpoint{},
	}
	if !res.Current.Active {
		return cmd, nil
	}
	st := res.Current.Step

	scalar := func(k sector.Kind, v *int) {
		if v == nil {
			return
		}
		for _, id := range res.SectorIDs.For(k) {
			cmd.Setpoints[k] = append(cmd.Setpoints[k], Setpoint{SectorID: id, Value: *v})
		}
	}
	scalar(sector.Temperature, st.Temperature)
	scalar(sector.Humidity, st.Humidity)
	scalar(sector.CO2, st.CO2)

	if err := zip(cmd.Setpoints, sector.Light, st.LightSectors, res.SectorIDs.Light); err != nil {
		return Command{}, err
	}
	if edge {
		if err := zip(cmd.Setpoints, sector.Watering, st.WateringSectors, res.SectorIDs.Watering); err != nil {
			return Command{}, err
		}
		cmd.Utils = append(cmd.Utils, st.Utils...)
	}
	return cmd, nil
}

func zip(dst map[sector.Kind][]Setpoint, k sector.Kind, values []int, ids []string) error {
	if len(values) == 0 {
		return nil
	}
	if len(values) != len(ids) {
		return fmt.Errorf("%s: %d values for %d sectors", k, len(values), len(ids))
	}
	out := make([]Setpoint, len(values))
	for i, v := range values {
		out[i] = Setpoint{SectorID: ids[i], Value: v}
	}
	dst[k] = out
	return nil
}

// Only returns a copy of the command restricted to the kinds keep accepts.
// Pin directives are kept only when keep accepts sector.Watering, since they
// are issued by the same controllers that run the watering lines.
func (c Command) Only(keep func(sector.Kind) bool) Command {
	out := c
	out.Setpoints = make(map[sector.Kind][]Setpoint, len(c.Setpoints))
	for k, sp := range c.Setpoints {
		if keep(k) {
			out.Setpoints[k] = sp
		}
	}
	if !keep(sector.Watering) {
		out.Utils = nil
	}
	return out
}

// Empty reports whether the command carries nothing to apply.
func (c Command) Empty() bool {
	for _, sp := range c.Setpoints {
		if len(sp) > 0 {
			return false
		}
	}
	return len(c.Utils) == 0
}
