package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/prite36/growth-chamber-control/internal/dispatch"
	"github.com/prite36/growth-chamber-control/internal/lifecycle"
	"github.com/prite36/growth-chamber-control/internal/program"
)

type captureWriter struct {
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestDisabledPublisherDropsEvents(t *testing.T) {
	p := New(nil, "chamber.events", zerolog.Nop())
	if p.Enabled() {
		t.Fatal("Expected publisher without brokers to be disabled")
	}
	p.ScheduleTransitioned(context.Background(), lifecycle.Transition{ScheduleID: "s1"})
	if err := p.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
}

func TestPublisherEncodesEvents(t *testing.T) {
	w := &captureWriter{}
	p := &Publisher{w: w, log: zerolog.Nop(), clock: func() time.Time { return time.Unix(500, 0) }, timeout: time.Second}

	p.ScheduleTransitioned(context.Background(), lifecycle.Transition{ScheduleID: "s1", From: lifecycle.StatusReady, To: lifecycle.StatusActive})
	p.StepChanged(context.Background(), dispatch.Resolution{
		ChamberID:  "c1",
		ScheduleID: "s1",
		Current:    program.CurrentStep{Active: true, StepIndex: 1, ScenarioName: "Growth"},
	})

	if len(w.msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "s1" || string(w.msgs[1].Key) != "c1" {
		t.Errorf("Unexpected keys %q %q", w.msgs[0].Key, w.msgs[1].Key)
	}

	var tr Event
	if err := json.Unmarshal(w.msgs[0].Value, &tr); err != nil {
		t.Fatalf("failed to decode transition: %v", err)
	}
	if tr.Type != TypeTransition || tr.To != lifecycle.StatusActive || tr.At != 500 {
		t.Errorf("Unexpected transition event: %+v", tr)
	}

	var st Event
	if err := json.Unmarshal(w.msgs[1].Value, &st); err != nil {
		t.Fatalf("failed to decode step: %v", err)
	}
	if st.Type != TypeStep || st.Step == nil || st.Step.StepIndex != 1 || st.Step.ScenarioName != "Growth" {
		t.Errorf("Unexpected step event: %+v", st)
	}
}
