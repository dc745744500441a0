// Package events publishes schedule transitions and chamber step changes to
// Kafka for downstream consumers (dashboards, audit).
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/prite36/growth-chamber-control/internal/dispatch"
	"github.com/prite36/growth-chamber-control/internal/lifecycle"
	"github.com/prite36/growth-chamber-control/internal/program"
)

const (
	TypeTransition = "schedule.transition"
	TypeStep       = "chamber.step"
)

type Event struct {
	Type       string               `json:"type"`
	At         int64                `json:"at"`
	ChamberID  string               `json:"chamber_id,omitempty"`
	ScheduleID string               `json:"schedule_id,omitempty"`
	From       lifecycle.Status     `json:"from,omitempty"`
	To         lifecycle.Status     `json:"to,omitempty"`
	Step       *program.CurrentStep `json:"step,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events to one topic. A Publisher built without brokers
// drops every event.
type Publisher struct {
	w       messageWriter
	log     zerolog.Logger
	clock   func() time.Time
	timeout time.Duration
}

var (
	_ lifecycle.Observer    = (*Publisher)(nil)
	_ dispatch.StepObserver = (*Publisher)(nil)
)

func New(brokers []string, topic string, log zerolog.Logger) *Publisher {
	p := &Publisher{
		log:     log.With().Str("component", "events").Logger(),
		clock:   time.Now,
		timeout: 2 * time.Second,
	}
	if len(brokers) == 0 {
		p.log.Info().Msg("no kafka brokers configured, events disabled")
		return p
	}
	p.w = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return p
}

// Enabled reports whether events leave the process.
func (p *Publisher) Enabled() bool { return p.w != nil }

func (p *Publisher) ScheduleTransitioned(ctx context.Context, t lifecycle.Transition) {
	p.publish(ctx, t.ScheduleID, Event{
		Type:       TypeTransition,
		At:         p.clock().Unix(),
		ScheduleID: t.ScheduleID,
		From:       t.From,
		To:         t.To,
	})
}

func (p *Publisher) StepChanged(ctx context.Context, res dispatch.Resolution) {
	step := res.Current
	p.publish(ctx, res.ChamberID, Event{
		Type:       TypeStep,
		At:         p.clock().Unix(),
		ChamberID:  res.ChamberID,
		ScheduleID: res.ScheduleID,
		Step:       &step,
	})
}

// publish keys messages so that all events of one chamber or schedule land
// on the same partition in order.
func (p *Publisher) publish(ctx context.Context, key string, ev Event) {
	if p.w == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("type", ev.Type).Msg("failed to encode event")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b}); err != nil {
		p.log.Warn().Err(err).Str("type", ev.Type).Str("key", key).Msg("failed to publish event")
	}
}

func (p *Publisher) Close() error {
	if p.w == nil {
		return nil
	}
	return p.w.Close()
}
