package program

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func intp(v int) *int { return &v }

// sampleLookup is the two-scenario fixture used across the package tests:
// A holds one all-day step, B switches at noon.
func sampleLookup() Scenarios {
	return Scenarios{
		"A": {ID: "A", Name: "Seedling", Steps: []Step{
			{RelativeStartTime: 0, Temperature: intp(20)},
		}},
		"B": {ID: "B", Name: "Growth", Steps: []Step{
			{RelativeStartTime: 0, Temperature: intp(22), LightSectors: []int{80, 70, 60}},
			{RelativeStartTime: 43200, Temperature: intp(24), WateringSectors: []int{30, 30, 20}},
		}},
	}
}

func sampleDefinition() Definition {
	return Definition{
		ChamberID: "chamber-1",
		TimeStart: 1000,
		Scenarios: []string{"A", "B"},
		ScheduleScenarios: []Placement{
			{ScenarioIndex: 0, Days: 1},
			{ScenarioIndex: 1, Days: 2},
		},
	}
}

func TestCompileDerivesOffsetsAndTimeEnd(t *testing.T) {
	p, err := Compile(sampleDefinition(), sampleLookup())
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}

	if p.TimeEnd != 260200 {
		t.Errorf("Expected time_end 260200, got %d", p.TimeEnd)
	}
	if p.TimeEnd-p.TimeStart != SecondsPerDay*int64(p.TotalDays()) {
		t.Errorf("time_end - time_start = %d, want %d", p.TimeEnd-p.TimeStart, SecondsPerDay*int64(p.TotalDays()))
	}
	if len(p.Slots) != 2 {
		t.Fatalf("Expected 2 slots, got %d", len(p.Slots))
	}
	if p.Slots[0].DayOffset != 0 || p.Slots[1].DayOffset != 1 {
		t.Errorf("Unexpected day offsets: %d, %d", p.Slots[0].DayOffset, p.Slots[1].DayOffset)
	}
	if p.Slots[1].ScenarioName != "Growth" {
		t.Errorf("Expected slot 1 scenario name Growth, got %q", p.Slots[1].ScenarioName)
	}
	if TimeEnd(sampleDefinition()) != p.TimeEnd {
		t.Errorf("TimeEnd() = %d, want %d", TimeEnd(sampleDefinition()), p.TimeEnd)
	}
}

func TestCompileIsIdempotent(t *testing.T) {
	lookup := sampleLookup()
	first, err := Compile(sampleDefinition(), lookup)
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	second, err := Compile(sampleDefinition(), lookup)
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Errorf("Expected byte-identical programs:\n%s\n%s", a, b)
	}

	fa, err := first.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint returned error: %v", err)
	}
	fb, _ := second.Fingerprint()
	if fa != fb {
		t.Errorf("Expected equal fingerprints, got %s and %s", fa, fb)
	}
}

func TestCompileDecouplesFromScenarioEdits(t *testing.T) {
	lookup := sampleLookup()
	p, err := Compile(sampleDefinition(), lookup)
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}

	*lookup["B"].Steps[0].Temperature = 99
	lookup["B"].Steps[0].LightSectors[0] = 1

	got := p.Slots[1].Steps[0]
	if *got.Temperature != 22 {
		t.Errorf("Expected compiled temperature 22, got %d", *got.Temperature)
	}
	if got.LightSectors[0] != 80 {
		t.Errorf("Expected compiled light value 80, got %d", got.LightSectors[0])
	}
}

func TestCompileErrors(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(d *Definition, l Scenarios)
		opts    []Option
		wantErr error
	}{
		{
			name:    "no placements",
			mutate:  func(d *Definition, l Scenarios) { d.ScheduleScenarios = nil },
			wantErr: ErrEmptyDefinition,
		},
		{
			name: "index out of range",
			mutate: func(d *Definition, l Scenarios) {
				d.ScheduleScenarios = append(d.ScheduleScenarios, Placement{ScenarioIndex: 2, Days: 1})
			},
			wantErr: ErrUnknownScenario,
		},
		{
			name:    "negative index",
			mutate:  func(d *Definition, l Scenarios) { d.ScheduleScenarios[0].ScenarioIndex = -1 },
			wantErr: ErrUnknownScenario,
		},
		{
			name:    "scenario missing from lookup",
			mutate:  func(d *Definition, l Scenarios) { delete(l, "B") },
			wantErr: ErrUnknownScenario,
		},
		{
			name: "empty scenario",
			mutate: func(d *Definition, l Scenarios) {
				l["A"] = Scenario{ID: "A", Name: "Empty"}
			},
			wantErr: ErrEmptyScenarioSteps,
		},
		{
			name:    "zero days",
			mutate:  func(d *Definition, l Scenarios) { d.ScheduleScenarios[1].Days = 0 },
			wantErr: ErrNonPositiveRepeatCount,
		},
		{
			name:    "negative days",
			mutate:  func(d *Definition, l Scenarios) { d.ScheduleScenarios[0].Days = -2 },
			wantErr: ErrNonPositiveRepeatCount,
		},
		{
			name:    "declared time_end disagrees",
			mutate:  func(d *Definition, l Scenarios) { d.TimeEnd = d.TimeStart + 3600*3 },
			wantErr: ErrTimeEndMismatch,
		},
		{
			name:    "days overflow time_end",
			mutate:  func(d *Definition, l Scenarios) { d.ScheduleScenarios[1].Days = 1 << 50 },
			wantErr: ErrTimeEndOverflow,
		},
		{
			name: "unordered steps",
			mutate: func(d *Definition, l Scenarios) {
				b := l["B"]
				b.Steps = []Step{b.Steps[1], b.Steps[0]}
				l["B"] = b
			},
			wantErr: ErrStepOrder,
		},
		{
			name: "duplicate start",
			mutate: func(d *Definition, l Scenarios) {
				l["A"] = Scenario{ID: "A", Steps: []Step{{RelativeStartTime: 10}, {RelativeStartTime: 10}}}
			},
			wantErr: ErrStepOrder,
		},
		{
			name: "start on day boundary",
			mutate: func(d *Definition, l Scenarios) {
				l["A"] = Scenario{ID: "A", Steps: []Step{{RelativeStartTime: SecondsPerDay}}}
			},
			wantErr: ErrStepOrder,
		},
		{
			name:    "light sectors disagree with chamber",
			mutate:  func(d *Definition, l Scenarios) {},
			opts:    []Option{WithSectors(Sectors{Light: 4})},
			wantErr: ErrSectorMismatch,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			def := sampleDefinition()
			lookup := sampleLookup()
			tc.mutate(&def, lookup)

			p, err := Compile(def, lookup, tc.opts...)
			if err == nil {
				t.Fatalf("Expected error %v, got program %+v", tc.wantErr, p)
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			}
			var ce *CompileError
			if !errors.As(err, &ce) {
				t.Errorf("Expected *CompileError, got %T", err)
			}
		})
	}
}

func TestCompileAcceptsMatchingDeclaredTimeEndAndSectors(t *testing.T) {
	def := sampleDefinition()
	def.TimeEnd = 260200
	if _, err := Compile(def, sampleLookup(), WithSectors(Sectors{Light: 3, Watering: 3})); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestPlacementJSON(t *testing.T) {
	var def Definition
	raw := `{"chamber_id":"c","time_start":5,"scenarios":["A"],"schedule_scenarios":[[0,4]]}`
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if len(def.ScheduleScenarios) != 1 || def.ScheduleScenarios[0] != (Placement{ScenarioIndex: 0, Days: 4}) {
		t.Errorf("Unexpected placements: %+v", def.ScheduleScenarios)
	}

	if err := json.Unmarshal([]byte(`{"schedule_scenarios":[[0]]}`), &def); err == nil {
		t.Error("Expected error for one-element placement")
	}
}

func TestValidateScenario(t *testing.T) {
	lookup := sampleLookup()
	if err := ValidateScenario(lookup["B"]); err != nil {
		t.Errorf("Expected valid scenario, got %v", err)
	}
	if err := ValidateScenario(Scenario{ID: "empty"}); !errors.Is(err, ErrEmptyScenarioSteps) {
		t.Errorf("Expected ErrEmptyScenarioSteps, got %v", err)
	}
	late := Scenario{ID: "late", Steps: []Step{{RelativeStartTime: SecondsPerDay}}}
	if err := ValidateScenario(late); !errors.Is(err, ErrStepOrder) {
		t.Errorf("Expected ErrStepOrder, got %v", err)
	}
}
