package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/prite36/growth-chamber-control/internal/config"
	"github.com/prite36/growth-chamber-control/internal/dispatch"
	"github.com/prite36/growth-chamber-control/internal/events"
	"github.com/prite36/growth-chamber-control/internal/lifecycle"
	"github.com/prite36/growth-chamber-control/internal/models"
	"github.com/prite36/growth-chamber-control/internal/mqtt"
	"github.com/prite36/growth-chamber-control/internal/scheduler"
	"github.com/prite36/growth-chamber-control/internal/schedules"
	"github.com/prite36/growth-chamber-control/internal/server"
	slacknotify "github.com/prite36/growth-chamber-control/internal/slack"
	"github.com/prite36/growth-chamber-control/internal/store"
)

// App wires the chamber control service together.
type App struct {
	cfg        *config.Config
	log        zerolog.Logger
	store      *store.Store
	mqttClient *mqtt.Client
	events     *events.Publisher
	slack      *slacknotify.Client
	schedules  *schedules.Service
	monitor    *lifecycle.Monitor
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduler.Scheduler
	server     *http.Server

	mu       sync.Mutex
	chambers map[string]bool
	stopOnce sync.Once
}

func NewApp(cfg *config.Config, log zerolog.Logger) (*App, error) {
	st, err := store.Open(cfg.DSN(), log)
	if err != nil {
		return nil, err
	}
	app, err := newApp(cfg, st, log)
	if err != nil {
		st.Close()
		return nil, err
	}
	return app, nil
}

func newApp(cfg *config.Config, st *store.Store, log zerolog.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		store:    st,
		chambers: map[string]bool{},
	}
	a.events = events.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	a.slack = slacknotify.NewClient(cfg.Slack.BotToken, cfg.Slack.ChannelID, log)
	notifier := slacknotify.NewNotifier(a.slack)

	a.mqttClient = mqtt.NewClient(mqtt.Config{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, mqtt.NewRegistry(), log)
	a.mqttClient.Registry().OnChange(a.deviceChanged)

	a.schedules = schedules.New(st, log, cfg.Interval.Store)
	a.monitor = lifecycle.NewMonitor(st, log,
		lifecycle.WithObserver(a.events),
		lifecycle.WithObserver(notifier),
	)
	a.dispatcher = dispatch.New(a.schedules, log,
		dispatch.WithHistory(st),
		dispatch.WithStepObserver(a.events),
	)
	a.scheduler = scheduler.NewScheduler(loc, scheduler.Config{
		MonitorInterval:  cfg.Interval.Monitor,
		DispatchInterval: cfg.Interval.Dispatch,
	}, a.monitor, a, log, scheduler.WithSweepReporter(notifier.SweepFinished))

	a.server = server.New(server.Config{
		Addr:           cfg.HTTP.Addr,
		SigningSecret:  cfg.Slack.SigningSecret,
		StreamInterval: cfg.Interval.Stream,
	}, server.Deps{
		Catalog:    st,
		Schedules:  a.schedules,
		Sweeper:    a.scheduler,
		Dispatcher: a,
		Devices:    a.mqttClient.Registry(),
		Slack:      a.slack,
	}, log)
	return a, nil
}

// Bootstrap creates the configured chambers that do not exist yet. Existing
// chambers are left untouched.
func (a *App) Bootstrap(ctx context.Context) error {
	if err := a.store.Migrate(ctx); err != nil {
		return err
	}
	for _, c := range a.cfg.Chambers {
		stored, created, err := a.store.EnsureChamber(ctx, c.Model())
		if err != nil {
			return fmt.Errorf("bootstrap chamber %q: %w", c.Name, err)
		}
		if created {
			a.log.Info().Str("chamber", stored.ID).Str("name", stored.Name).Msg("chamber created from config")
		}
	}
	return a.syncChambers(ctx)
}

// syncChambers registers the ESPHome controllers of chambers the dispatcher
// does not know yet. Climate controllers are driven by the remote poller.
func (a *App) syncChambers(ctx context.Context) error {
	chambers, err := a.store.ListChambers(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range chambers {
		c := &chambers[i]
		if a.chambers[c.ID] {
			continue
		}
		a.chambers[c.ID] = true
		var actuators []dispatch.Actuator
		for _, ctl := range c.Controllers.Data() {
			if ctl.Family != models.FamilyESPHome {
				continue
			}
			actuators = append(actuators, mqtt.NewActuator(a.mqttClient, ctl))
		}
		a.dispatcher.Register(c.ID, actuators...)
		a.log.Info().Str("chamber", c.ID).Int("actuators", len(actuators)).Msg("chamber registered for dispatch")
	}
	return nil
}

// Tick picks up chambers created since the last tick and dispatches all of them.
func (a *App) Tick(ctx context.Context) ([]dispatch.Result, error) {
	if err := a.syncChambers(ctx); err != nil {
		a.log.Warn().Err(err).Msg("could not refresh chambers")
	}
	return a.dispatcher.Tick(ctx)
}

// Dispatch pushes one chamber's current step now.
func (a *App) Dispatch(ctx context.Context, chamberID string) (dispatch.Result, error) {
	if err := a.syncChambers(ctx); err != nil {
		a.log.Warn().Err(err).Msg("could not refresh chambers")
	}
	return a.dispatcher.Dispatch(ctx, chamberID)
}

func (a *App) deviceChanged(ds mqtt.DeviceState) {
	ev := a.log.Info()
	if ds.State == mqtt.StateAuthError || ds.State == mqtt.StateError {
		ev = a.log.Warn()
	}
	ev.Str("device", ds.DeviceID).Str("state", string(ds.State)).Str("error", ds.LastError).Msg("device state changed")
	if ds.State == mqtt.StateAuthError {
		a.slack.SendRichMessage(slacknotify.NewErrorMessage("MQTT credentials rejected",
			fmt.Sprintf("Broker refused credentials while connecting device `%s`: %s", ds.DeviceID, ds.LastError))...)
	}
}

// Run starts every component and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Bootstrap(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.mqttClient.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if err := a.scheduler.Start(gctx); err != nil {
		a.Stop()
		return err
	}
	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("API server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Stop()
		return nil
	})

	a.log.Info().Msg("growth chamber control started")
	return g.Wait()
}

// RunOnce connects, runs one lifecycle sweep and one dispatch tick, and
// returns their outcomes.
func (a *App) RunOnce(ctx context.Context) (lifecycle.Report, []dispatch.Result, error) {
	if err := a.Bootstrap(ctx); err != nil {
		return lifecycle.Report{}, nil, err
	}
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.mqttClient.Run(connectCtx); err != nil {
		a.log.Warn().Err(err).Msg("MQTT broker unreachable, dispatch will fail")
	}

	report, sweepErr := a.scheduler.RunSweep(ctx)
	results, tickErr := a.scheduler.RunDispatch(ctx)
	return report, results, errors.Join(sweepErr, tickErr)
}

func (a *App) Stop() {
	a.stopOnce.Do(func() {
		a.log.Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn().Err(err).Msg("API server shutdown")
		}
		a.scheduler.Stop()
		a.mqttClient.Close()
		if err := a.events.Close(); err != nil {
			a.log.Warn().Err(err).Msg("event publisher close")
		}
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("store close")
		}
		a.log.Info().Msg("growth chamber control stopped")
	})
}
