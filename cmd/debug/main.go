package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/prite36/growth-chamber-control/internal/config"
	"github.com/prite36/growth-chamber-control/internal/logging"
	"github.com/prite36/growth-chamber-control/internal/service"
)

// debug runs a single lifecycle sweep and dispatch tick and prints what
// happened.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fallback := logging.New(logging.Config{})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := logging.New(logging.Config{Level: "debug", Console: true})

	app, err := service.NewApp(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer app.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	log.Info().Msg("executing one sweep and one dispatch tick")
	report, results, err := app.RunOnce(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(map[string]any{"sweep": report, "dispatch": results})

	if err != nil {
		log.Error().Err(err).Msg("debug run finished with errors")
		return
	}
	log.Info().Msg("debug run finished")
}
