package schedules

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/prite36/growth-chamber-control/internal/dispatch"
	"github.com/prite36/growth-chamber-control/internal/lifecycle"
	"github.com/prite36/growth-chamber-control/internal/models"
	"github.com/prite36/growth-chamber-control/internal/program"
	"github.com/prite36/growth-chamber-control/internal/sector"
	"github.com/prite36/growth-chamber-control/internal/store"
)

func intp(v int) *int { return &v }

func int64p(v int64) *int64 { return &v }

type fixture struct {
	svc     *Service
	store   *store.Store
	sqlDB   *sql.DB
	chamber string
	a, b    string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	st := store.New(db, zerolog.Nop())
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}

	chamber := &models.Chamber{
		Name: "chamber A",
		Sectors: datatypes.NewJSONType(sector.Config{
			Light:    sector.Layout{Count: 3},
			Watering: sector.Layout{Count: 2, IDs: []string{"valve_a", "valve_b"}},
		}),
	}
	if err := st.CreateChamber(ctx, chamber); err != nil {
		t.Fatalf("CreateChamber returned error: %v", err)
	}
	a := &models.Scenario{Name: "Seedling", Steps: datatypes.NewJSONType([]program.Step{
		{RelativeStartTime: 0, Temperature: intp(20)},
	})}
	b := &models.Scenario{Name: "Growth", Steps: datatypes.NewJSONType([]program.Step{
		{RelativeStartTime: 0, Temperature: intp(22), LightSectors: []int{80, 70, 60}},
		{RelativeStartTime: 43200, Temperature: intp(24), WateringSectors: []int{30, 20}},
	})}
	for _, sc := range []*models.Scenario{a, b} {
		if err := st.CreateScenario(ctx, sc); err != nil {
			t.Fatalf("CreateScenario returned error: %v", err)
		}
	}
	return fixture{svc: New(st, zerolog.Nop(), time.Second), store: st, sqlDB: sqlDB, chamber: chamber.ID, a: a.ID, b: b.ID}
}

func (f fixture) input() Input {
	return Input{
		Name:              "cycle",
		ChamberID:         f.chamber,
		TimeStart:         int64p(1000),
		Scenarios:         []string{f.a, f.b},
		ScheduleScenarios: []program.Placement{{ScenarioIndex: 0, Days: 1}, {ScenarioIndex: 1, Days: 2}},
	}
}

func TestCreateCompilesReadySchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sch, err := f.svc.Create(ctx, f.input())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if sch.Status != lifecycle.StatusReady {
		t.Errorf("Expected ready, got %s", sch.Status)
	}
	if sch.TimeEnd == nil || *sch.TimeEnd != 260200 {
		t.Errorf("Expected time_end 260200, got %v", sch.TimeEnd)
	}

	p, err := f.svc.Program(ctx, sch.ID)
	if err != nil {
		t.Fatalf("Program returned error: %v", err)
	}
	if len(p.Slots) != 2 || p.Slots[1].DayOffset != 1 {
		t.Errorf("Unexpected program: %+v", p)
	}

	exec, err := f.store.GetExecution(ctx, sch.ID)
	if err != nil {
		t.Fatalf("GetExecution returned error: %v", err)
	}
	if !exec.AutoMode || exec.ControlModes.Data()[sector.Temperature] != models.FamilyClimate {
		t.Errorf("Unexpected execution record: %+v", exec)
	}
}

func TestCreateWithoutStartIsDraft(t *testing.T) {
	f := newFixture(t)
	in := f.input()
	in.TimeStart = nil

	sch, err := f.svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if sch.Status != lifecycle.StatusDraft || sch.TimeEnd != nil {
		t.Errorf("Expected draft without time_end, got %s %v", sch.Status, sch.TimeEnd)
	}
	if _, err := f.store.GetExecution(context.Background(), sch.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected no execution record for a draft, got %v", err)
	}
}

func TestCreateRejectsInvalidDefinitions(t *testing.T) {
	f := newFixture(t)

	testCases := []struct {
		name   string
		modify func(*Input)
		target error
	}{
		{name: "unknown scenario", modify: func(in *Input) { in.Scenarios[1] = "scenario-missing" }, target: program.ErrUnknownScenario},
		{name: "zero days", modify: func(in *Input) { in.ScheduleScenarios[0].Days = 0 }, target: program.ErrNonPositiveRepeatCount},
		{name: "time_end mismatch", modify: func(in *Input) { in.TimeEnd = int64p(2000) }, target: program.ErrTimeEndMismatch},
		{name: "unknown chamber", modify: func(in *Input) { in.ChamberID = "chamber-missing" }, target: ErrInvalid},
		{name: "bad control mode", modify: func(in *Input) {
			in.ControlModes = models.ControlModes{sector.Light: "zigbee"}
		}, target: ErrInvalid},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in := f.input()
			tc.modify(&in)
			_, err := f.svc.Create(context.Background(), in)
			if !errors.Is(err, tc.target) || !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected %v wrapped in ErrInvalid, got %v", tc.target, err)
			}
		})
	}
}

func TestCreateRejectsSectorMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bad := &models.Scenario{Name: "Two lights", Steps: datatypes.NewJSONType([]program.Step{
		{RelativeStartTime: 0, LightSectors: []int{10, 20}},
	})}
	if err := f.store.CreateScenario(ctx, bad); err != nil {
		t.Fatalf("CreateScenario returned error: %v", err)
	}
	in := f.input()
	in.Scenarios = []string{bad.ID}
	in.ScheduleScenarios = []program.Placement{{ScenarioIndex: 0, Days: 1}}

	if _, err := f.svc.Create(ctx, in); !errors.Is(err, program.ErrSectorMismatch) {
		t.Errorf("Expected ErrSectorMismatch, got %v", err)
	}
}

func TestUpdatePromotesDraftAndFreezesActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.input()
	in.TimeStart = nil
	draft, err := f.svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	ready, err := f.svc.Update(ctx, draft.ID, f.input())
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if ready.Status != lifecycle.StatusReady {
		t.Fatalf("Expected ready after update, got %s", ready.Status)
	}
	if _, err := f.store.GetExecution(ctx, draft.ID); err != nil {
		t.Errorf("Expected execution record after promotion, got %v", err)
	}

	if ok, err := f.store.CompareAndSetStatus(ctx, draft.ID, lifecycle.StatusReady, lifecycle.StatusActive); !ok || err != nil {
		t.Fatalf("CompareAndSetStatus failed: ok=%v err=%v", ok, err)
	}
	if _, err := f.svc.Update(ctx, draft.ID, f.input()); !errors.Is(err, ErrNotEditable) {
		t.Errorf("Expected ErrNotEditable for active schedule, got %v", err)
	}
	if _, err := f.svc.Update(ctx, "schedule-missing", f.input()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestScenarioEditsDoNotLeakIntoCompiledProgram(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sch, err := f.svc.Create(ctx, f.input())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	sc, err := f.store.GetScenario(ctx, f.a)
	if err != nil {
		t.Fatalf("GetScenario returned error: %v", err)
	}
	sc.Steps = datatypes.NewJSONType([]program.Step{{RelativeStartTime: 0, Temperature: intp(35)}})
	if err := f.store.UpdateScenario(ctx, sc); err != nil {
		t.Fatalf("UpdateScenario returned error: %v", err)
	}

	res, err := f.svc.CurrentStep(ctx, f.chamber, 1000)
	if err != nil {
		t.Fatalf("CurrentStep returned error: %v", err)
	}
	if res.ScheduleID != sch.ID || *res.Current.Step.Temperature != 20 {
		t.Errorf("Expected compiled temperature 20, got %+v", res.Current.Step)
	}
}

func TestCurrentStepResolvesChamber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, f.input()); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	testCases := []struct {
		now       int64
		active    bool
		temp      int
		remaining int64
	}{
		{now: 999},
		{now: 1000, active: true, temp: 20, remaining: 86400},
		{now: 1000 + 86400 + 1, active: true, temp: 22, remaining: 43199},
		{now: 1000 + 86400 + 43200 + 1, active: true, temp: 24, remaining: 86400 - 43200 - 1},
		{now: 260200},
	}
	for _, tc := range testCases {
		res, err := f.svc.CurrentStep(ctx, f.chamber, tc.now)
		if err != nil {
			t.Fatalf("now=%d: CurrentStep returned error: %v", tc.now, err)
		}
		if res.Current.Active != tc.active {
			t.Errorf("now=%d: expected active=%v, got %+v", tc.now, tc.active, res.Current)
			continue
		}
		if !tc.active {
			continue
		}
		if *res.Current.Step.Temperature != tc.temp || res.Current.TimeRemaining != tc.remaining {
			t.Errorf("now=%d: expected temp %d remaining %d, got %+v", tc.now, tc.temp, tc.remaining, res.Current)
		}
		if len(res.SectorIDs.Watering) != 2 || res.SectorIDs.Watering[0] != "valve_a" {
			t.Errorf("now=%d: unexpected sector ids %+v", tc.now, res.SectorIDs)
		}
	}

	if _, err := f.svc.CurrentStep(ctx, "chamber-missing", 1000); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown chamber, got %v", err)
	}
}

func TestCurrentStepReportsOutage(t *testing.T) {
	f := newFixture(t)
	f.sqlDB.Close()

	_, err := f.svc.CurrentStep(context.Background(), f.chamber, 1000)
	if !errors.Is(err, dispatch.ErrSourceUnavailable) {
		t.Errorf("Expected ErrSourceUnavailable, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sch, err := f.svc.Create(ctx, f.input())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	cancelled, err := f.svc.Cancel(ctx, sch.ID)
	if err != nil || cancelled.Status != lifecycle.StatusCancelled {
		t.Fatalf("Expected cancelled, got %+v err=%v", cancelled, err)
	}
	if _, err := f.svc.Cancel(ctx, sch.ID); !errors.Is(err, ErrNotEditable) {
		t.Errorf("Expected ErrNotEditable on second cancel, got %v", err)
	}
	res, err := f.svc.CurrentStep(ctx, f.chamber, 1000)
	if err != nil || res.Current.Active {
		t.Errorf("Expected cancelled schedule to stop resolving, got %+v err=%v", res, err)
	}
}
