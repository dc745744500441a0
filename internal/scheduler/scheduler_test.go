package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/prite36/growth-chamber-control/internal/dispatch"
	"github.com/prite36/growth-chamber-control/internal/lifecycle"
)

type fakeMonitor struct {
	mu     sync.Mutex
	runs   int
	report lifecycle.Report
	err    error
}

func (f *fakeMonitor) RunOnce(ctx context.Context) (lifecycle.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return f.report, f.err
}

func (f *fakeMonitor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type fakeTicker struct {
	mu      sync.Mutex
	ticks   int
	results []dispatch.Result
	err     error
}

func (f *fakeTicker) Tick(ctx context.Context) ([]dispatch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
	return f.results, f.err
}

func (f *fakeTicker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticks
}

func TestRunSweepReportsEveryOutcome(t *testing.T) {
	sweepErr := errors.New("store unavailable")
	mon := &fakeMonitor{
		report: lifecycle.Report{Applied: []lifecycle.Transition{{ScheduleID: "s1", From: lifecycle.StatusReady, To: lifecycle.StatusActive}}},
		err:    sweepErr,
	}
	var reported []lifecycle.Report
	s := NewScheduler(time.UTC, Config{}, mon, &fakeTicker{}, zerolog.Nop(),
		WithSweepReporter(func(r lifecycle.Report) { reported = append(reported, r) }))

	report, err := s.RunSweep(context.Background())
	if !errors.Is(err, sweepErr) {
		t.Errorf("Expected sweep error, got %v", err)
	}
	if len(report.Applied) != 1 {
		t.Errorf("Expected report to be returned, got %+v", report)
	}
	if len(reported) != 1 {
		t.Errorf("Expected reporter to be called once, got %d", len(reported))
	}
}

func TestRunDispatch(t *testing.T) {
	tick := &fakeTicker{results: []dispatch.Result{{ChamberID: "c1", Applied: []string{"node"}}}}
	s := NewScheduler(time.UTC, Config{}, &fakeMonitor{}, tick, zerolog.Nop())

	results, err := s.RunDispatch(context.Background())
	if err != nil {
		t.Fatalf("RunDispatch returned error: %v", err)
	}
	if len(results) != 1 || results[0].ChamberID != "c1" {
		t.Errorf("Unexpected results: %+v", results)
	}
}

func TestStartRunsJobs(t *testing.T) {
	mon := &fakeMonitor{}
	tick := &fakeTicker{}
	s := NewScheduler(time.UTC, Config{MonitorInterval: time.Hour, DispatchInterval: time.Hour}, mon, tick, zerolog.Nop())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer s.Stop()

	if s.Jobs() != 2 {
		t.Errorf("Expected 2 jobs, got %d", s.Jobs())
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && (mon.count() == 0 || tick.count() == 0) {
		time.Sleep(10 * time.Millisecond)
	}
	if mon.count() == 0 || tick.count() == 0 {
		t.Errorf("Expected both jobs to run on start, sweeps=%d ticks=%d", mon.count(), tick.count())
	}
}

func TestDisabledJobsAreNotScheduled(t *testing.T) {
	s := NewScheduler(time.UTC, Config{DispatchInterval: time.Hour}, &fakeMonitor{}, &fakeTicker{}, zerolog.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer s.Stop()
	if s.Jobs() != 1 {
		t.Errorf("Expected only the dispatch job, got %d", s.Jobs())
	}
}
