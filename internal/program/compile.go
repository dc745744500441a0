package program

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
)

// Lookup resolves scenario references for the compiler.
type Lookup interface {
	Scenario(ref string) (Scenario, bool)
}

// Scenarios is an in-memory Lookup keyed by scenario ID.
type Scenarios map[string]Scenario

func (m Scenarios) Scenario(ref string) (Scenario, bool) {
	s, ok := m[ref]
	return s, ok
}

// Sectors is a chamber's declared sector layout. A zero count disables the
// check for that kind.
type Sectors struct {
	Light    int
	Watering int
}

type options struct {
	sectors Sectors
}

// Option configures Compile.
type Option func(*options)

// WithSectors makes Compile reject steps whose non-empty light or watering
// lists do not have exactly one value per chamber sector.
func WithSectors(s Sectors) Option {
	return func(o *options) { o.sectors = s }
}

// Compile validates def against the scenarios returned by lookup and produces
// the program the resolver walks. Scenario steps are deep-copied so later
// edits to a scenario do not leak into an already compiled program.
func Compile(def Definition, lookup Lookup, opts ...Option) (*Program, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if len(def.ScheduleScenarios) == 0 {
		return nil, compileErr(ErrEmptyDefinition, -1, "schedule_scenarios is empty")
	}

	resolved := make(map[string]Scenario, len(def.Scenarios))
	slots := make([]Slot, 0, len(def.ScheduleScenarios))
	dayOffset := 0
	maxDays := (math.MaxInt64 - max(def.TimeStart, 0)) / SecondsPerDay

	for i, pl := range def.ScheduleScenarios {
		if pl.ScenarioIndex < 0 || pl.ScenarioIndex >= len(def.Scenarios) {
			return nil, compileErr(ErrUnknownScenario, i, "scenario index %d out of range [0,%d)", pl.ScenarioIndex, len(def.Scenarios))
		}
		if pl.Days <= 0 {
			return nil, compileErr(ErrNonPositiveRepeatCount, i, "days = %d", pl.Days)
		}
		if int64(pl.Days) > maxDays-int64(dayOffset) {
			return nil, compileErr(ErrTimeEndOverflow, i, "days = %d after %d preceding days", pl.Days, dayOffset)
		}

		ref := def.Scenarios[pl.ScenarioIndex]
		sc, ok := resolved[ref]
		if !ok {
			raw, found := lookup.Scenario(ref)
			if !found {
				return nil, compileErr(ErrUnknownScenario, i, "scenario %q not found", ref)
			}
			if err := validateSteps(raw, o.sectors, i); err != nil {
				return nil, err
			}
			sc = Scenario{ID: ref, Name: raw.Name, Steps: make([]Step, len(raw.Steps))}
			for j, st := range raw.Steps {
				sc.Steps[j] = st.clone()
			}
			resolved[ref] = sc
		}

		slots = append(slots, Slot{
			ScenarioID:   sc.ID,
			ScenarioName: sc.Name,
			Days:         pl.Days,
			DayOffset:    dayOffset,
			Steps:        sc.Steps,
		})
		dayOffset += pl.Days
	}

	timeEnd := def.TimeStart + SecondsPerDay*int64(dayOffset)
	if def.TimeEnd != 0 && def.TimeEnd != timeEnd {
		return nil, compileErr(ErrTimeEndMismatch, -1, "declared %d, derived %d", def.TimeEnd, timeEnd)
	}

	return &Program{
		ChamberID: def.ChamberID,
		TimeStart: def.TimeStart,
		TimeEnd:   timeEnd,
		Slots:     slots,
	}, nil
}

// TimeEnd derives the end of a definition without compiling it.
func TimeEnd(def Definition) int64 {
	days := 0
	for _, pl := range def.ScheduleScenarios {
		days += pl.Days
	}
	return def.TimeStart + SecondsPerDay*int64(days)
}

// ValidateScenario checks a scenario's steps on their own, without a chamber
// layout to check sector counts against.
func ValidateScenario(sc Scenario) error {
	return validateSteps(sc, Sectors{}, -1)
}

func validateSteps(sc Scenario, sectors Sectors, slot int) error {
	if len(sc.Steps) == 0 {
		return compileErr(ErrEmptyScenarioSteps, slot, "scenario %q", sc.ID)
	}
	prev := int64(-1)
	for j, st := range sc.Steps {
		t := st.RelativeStartTime
		if t < 0 || t >= SecondsPerDay {
			return compileErr(ErrStepOrder, slot, "scenario %q step %d: relative_start_time %d outside [0,%d)", sc.ID, j, t, SecondsPerDay)
		}
		if t <= prev {
			return compileErr(ErrStepOrder, slot, "scenario %q step %d: relative_start_time %d not after %d", sc.ID, j, t, prev)
		}
		prev = t

		if n := len(st.LightSectors); sectors.Light > 0 && n > 0 && n != sectors.Light {
			return compileErr(ErrSectorMismatch, slot, "scenario %q step %d: %d light values for %d sectors", sc.ID, j, n, sectors.Light)
		}
		if n := len(st.WateringSectors); sectors.Watering > 0 && n > 0 && n != sectors.Watering {
			return compileErr(ErrSectorMismatch, slot, "scenario %q step %d: %d watering values for %d sectors", sc.ID, j, n, sectors.Watering)
		}
	}
	return nil
}

// Fingerprint is a stable digest of the program's canonical JSON encoding.
// Compiling the same definition against unchanged scenarios always yields the
// same fingerprint.
func (p *Program) Fingerprint() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
