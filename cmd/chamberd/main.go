package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prite36/growth-chamber-control/internal/config"
	"github.com/prite36/growth-chamber-control/internal/logging"
	"github.com/prite36/growth-chamber-control/internal/service"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fallback := logging.New(logging.Config{})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, Console: cfg.Log.Console})
	log.Info().Int("chambers", len(cfg.Chambers)).Msg("configuration loaded")

	app, err := service.NewApp(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}
	log.Info().Msg("application shut down")
}
