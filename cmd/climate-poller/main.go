package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/prite36/growth-chamber-control/internal/climate"
	"github.com/prite36/growth-chamber-control/internal/config"
	"github.com/prite36/growth-chamber-control/internal/dispatch"
	"github.com/prite36/growth-chamber-control/internal/logging"
	"github.com/prite36/growth-chamber-control/internal/models"
	"github.com/prite36/growth-chamber-control/internal/mqtt"
)

// climate-poller runs next to the climate controllers of one chamber. It
// polls the service for the chamber's current step and applies the climate
// setpoints over the local MQTT broker.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fallback := logging.New(logging.Config{})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, Console: cfg.Log.Console}).
		With().Str("chamber", cfg.Poller.ChamberID).Logger()
	if err := cfg.ValidatePoller(); err != nil {
		log.Fatal().Err(err).Msg("invalid poller configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source := climate.NewHTTPSource(cfg.Poller.ServiceURL, cfg.Interval.Store)
	controllers, err := climateControllers(ctx, source, cfg.Poller.ChamberID, log)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Fatal().Err(err).Msg("failed to load chamber controllers")
	}
	if len(controllers) == 0 {
		log.Fatal().Msg("chamber has no climate controllers")
	}

	client := mqtt.NewClient(mqtt.Config{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID + "-climate",
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, nil, log)
	defer client.Close()
	client.Registry().OnChange(func(ds mqtt.DeviceState) {
		log.Info().Str("device", ds.DeviceID).Str("state", string(ds.State)).Msg("device state changed")
	})

	d := dispatch.New(source, log)
	var actuators []dispatch.Actuator
	for _, c := range controllers {
		actuators = append(actuators, climate.NewThermostat(client, c))
	}
	d.Register(cfg.Poller.ChamberID, actuators...)

	if err := client.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Fatal().Err(err).Msg("failed to connect to MQTT broker")
	}
	poll(ctx, d, cfg.Interval.Dispatch, log)
	log.Info().Msg("climate poller stopped")
}

// climateControllers asks the service for the chamber's climate controllers,
// retrying while the service is unreachable.
func climateControllers(ctx context.Context, source *climate.HTTPSource, chamberID string, log zerolog.Logger) ([]models.Controller, error) {
	for {
		controllers, err := source.Controllers(ctx, chamberID)
		if err == nil || !errors.Is(err, dispatch.ErrSourceUnavailable) {
			return controllers, err
		}
		log.Warn().Err(err).Msg("service unreachable, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func poll(ctx context.Context, d *dispatch.Dispatcher, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		results, err := d.Tick(ctx)
		if err != nil {
			if errors.Is(err, climate.ErrUnknownChamber) {
				log.Error().Err(err).Msg("service does not know this chamber")
			} else {
				log.Warn().Err(err).Msg("poll failed")
			}
		}
		for _, r := range results {
			if r.Changed {
				log.Info().Str("step", r.StepKey).Strs("applied", r.Applied).Msg("climate step applied")
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
