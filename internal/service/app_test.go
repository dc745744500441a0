package service

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/prite36/growth-chamber-control/internal/config"
	"github.com/prite36/growth-chamber-control/internal/models"
	"github.com/prite36/growth-chamber-control/internal/mqtt"
	"github.com/prite36/growth-chamber-control/internal/sector"
	"github.com/prite36/growth-chamber-control/internal/store"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	cfg := &config.Config{
		MQTT:     config.MQTTConfig{Broker: "tcp://127.0.0.1:1", ClientID: "test", TopicPrefix: "chambers"},
		HTTP:     config.HTTPConfig{Addr: "127.0.0.1:0"},
		Interval: config.IntervalConfig{Monitor: time.Minute, Dispatch: time.Minute, Stream: time.Second, Store: time.Second},
		Timezone: "UTC",
		Chambers: []config.ChamberConfig{{
			Name:    "chamber A",
			Sectors: sector.Config{Light: sector.Layout{Count: 2}},
			Controllers: []models.Controller{
				{Name: "node", Family: models.FamilyESPHome, DeviceID: "node-a", Kinds: []sector.Kind{sector.Light}},
				{Name: "hvac", Family: models.FamilyClimate, DeviceID: "hvac-a", Kinds: []sector.Kind{sector.Temperature}},
			},
		}},
	}
	app, err := newApp(cfg, store.New(db, zerolog.Nop()), zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp returned error: %v", err)
	}
	return app
}

func TestBootstrapIsIdempotent(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := app.Bootstrap(ctx); err != nil {
			t.Fatalf("Bootstrap #%d returned error: %v", i+1, err)
		}
	}
	chambers, err := app.store.ListChambers(ctx)
	if err != nil {
		t.Fatalf("ListChambers returned error: %v", err)
	}
	if len(chambers) != 1 {
		t.Fatalf("Expected 1 chamber, got %d", len(chambers))
	}
	if got := app.dispatcher.Chambers(); len(got) != 1 || got[0] != chambers[0].ID {
		t.Errorf("Expected chamber to be registered once, got %v", got)
	}
}

func TestOnlyESPHomeControllersAreTracked(t *testing.T) {
	app := newTestApp(t)
	if err := app.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap returned error: %v", err)
	}
	states := app.mqttClient.Registry().Snapshot()
	if len(states) != 1 || states[0].DeviceID != "node-a" || states[0].State != mqtt.StateConnecting {
		t.Errorf("Unexpected tracked devices: %+v", states)
	}
}

func TestTickPicksUpNewChambers(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	if err := app.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap returned error: %v", err)
	}
	extra := config.ChamberConfig{Name: "chamber B"}
	if err := app.store.CreateChamber(ctx, extra.Model()); err != nil {
		t.Fatalf("CreateChamber returned error: %v", err)
	}

	results, err := app.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 chambers dispatched, got %+v", results)
	}
	for _, r := range results {
		if r.Skipped != "inactive" {
			t.Errorf("Expected idle chamber to be skipped, got %+v", r)
		}
	}
}
