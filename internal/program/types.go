package program

import (
	"encoding/json"
	"fmt"
)

// SecondsPerDay is the length of one schedule day. Steps are addressed
// relative to the start of their day.
const SecondsPerDay int64 = 86400

// PinDirective is a raw pin-level actuation attached to a step.
type PinDirective struct {
	Pin      string `json:"pin"`
	State    bool   `json:"state"`
	Duration int    `json:"duration,omitempty"` // seconds, 0 means latched
}

// Step is one setpoint record, active from RelativeStartTime until the next
// step of the same day (or the end of the day).
type Step struct {
	RelativeStartTime int64          `json:"relative_start_time"`
	Temperature       *int           `json:"temperature,omitempty"`
	Humidity          *int           `json:"humidity,omitempty"`
	CO2               *int           `json:"co2_level,omitempty"`
	LightSectors      []int          `json:"light_sectors,omitempty"`
	WateringSectors   []int          `json:"watering_sectors,omitempty"`
	Utils             []PinDirective `json:"utils,omitempty"`
}

func (s Step) clone() Step {
	c := s
	c.Temperature = cloneInt(s.Temperature)
	c.Humidity = cloneInt(s.Humidity)
	c.CO2 = cloneInt(s.CO2)
	if s.LightSectors != nil {
		c.LightSectors = append([]int(nil), s.LightSectors...)
	}
	if s.WateringSectors != nil {
		c.WateringSectors = append([]int(nil), s.WateringSectors...)
	}
	if s.Utils != nil {
		c.Utils = append([]PinDirective(nil), s.Utils...)
	}
	return c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

// Scenario is a named, ordered list of steps.
type Scenario struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// Placement pairs an index into Definition.Scenarios with the number of days
// the scenario repeats. It is encoded as a two-element JSON array, e.g. [0, 3].
type Placement struct {
	ScenarioIndex int
	Days          int
}

func (p Placement) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.ScenarioIndex, p.Days})
}

func (p *Placement) UnmarshalJSON(b []byte) error {
	var pair []int
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("placement must be [scenario_index, days]: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("placement must have exactly 2 elements, got %d", len(pair))
	}
	p.ScenarioIndex, p.Days = pair[0], pair[1]
	return nil
}

// Definition is the declarative, repeat-day composition of scenarios that a
// user submits. TimeEnd is optional: when non-zero it must agree with the
// derived end.
type Definition struct {
	ChamberID         string      `json:"chamber_id"`
	TimeStart         int64       `json:"time_start"`
	TimeEnd           int64       `json:"time_end,omitempty"`
	Scenarios         []string    `json:"scenarios"`
	ScheduleScenarios []Placement `json:"schedule_scenarios"`
}

// Slot is one compiled placement: the resolved scenario steps, how many days
// they repeat, and the number of days that precede the slot.
type Slot struct {
	ScenarioID   string `json:"scenario_id"`
	ScenarioName string `json:"scenario_name"`
	Days         int    `json:"days"`
	DayOffset    int    `json:"day_offset"`
	Steps        []Step `json:"steps"`
}

func (s Slot) start() int64 { return int64(s.DayOffset) * SecondsPerDay }
func (s Slot) duration() int64 { return int64(s.Days) * SecondsPerDay }

// Program is the compiled, time-addressable form of a Definition. It is never
// mutated after Compile returns it.
type Program struct {
	ChamberID string `json:"chamber_id"`
	TimeStart int64  `json:"time_start"`
	TimeEnd   int64  `json:"time_end"`
	Slots     []Slot `json:"slots"`
}

// TotalDays is the sum of all slot day counts.
func (p *Program) TotalDays() int {
	n := 0
	for _, s := range p.Slots {
		n += s.Days
	}
	return n
}

// CurrentStep is the projection of the step active at a given instant.
// When Active is false every other field holds its zero value.
type CurrentStep struct {
	Active            bool   `json:"is_active"`
	SlotIndex         int    `json:"slot_index"`
	Day               int    `json:"day"`
	StepIndex         int    `json:"index"`
	ScenarioID        string `json:"scenario_id,omitempty"`
	ScenarioName      string `json:"scenario_name,omitempty"`
	RelativeStartTime int64  `json:"relative_start_time"`
	StartsAt          int64  `json:"time_start"`
	EndsAt            int64  `json:"time_end"`
	TimeRemaining     int64  `json:"time_remaining"`
	Step              Step   `json:"step"`
}

// Key identifies the resolved step position. Two resolutions with equal keys
// for the same program refer to the same step occurrence.
func (c CurrentStep) Key() string {
	if !c.Active {
		return ""
	}
	return fmt.Sprintf("%d/%d/%d", c.SlotIndex, c.Day, c.StepIndex)
}
