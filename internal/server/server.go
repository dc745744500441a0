package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/prite36/growth-chamber-control/internal/dispatch"
	"github.com/prite36/growth-chamber-control/internal/lifecycle"
	"github.com/prite36/growth-chamber-control/internal/models"
	"github.com/prite36/growth-chamber-control/internal/mqtt"
	"github.com/prite36/growth-chamber-control/internal/program"
	"github.com/prite36/growth-chamber-control/internal/schedules"
	slacknotify "github.com/prite36/growth-chamber-control/internal/slack"
)

// Catalog is the chamber, scenario and history persistence the API exposes.
type Catalog interface {
	CreateChamber(ctx context.Context, c *models.Chamber) error
	GetChamber(ctx context.Context, id string) (*models.Chamber, error)
	ListChambers(ctx context.Context) ([]models.Chamber, error)
	CreateScenario(ctx context.Context, sc *models.Scenario) error
	GetScenario(ctx context.Context, id string) (*models.Scenario, error)
	ListScenarios(ctx context.Context) ([]models.Scenario, error)
	UpdateScenario(ctx context.Context, sc *models.Scenario) error
	DeleteScenario(ctx context.Context, id string) error
	ListActuations(ctx context.Context, chamberID string, limit int) ([]models.ActuationHistory, error)
	Ping(ctx context.Context) error
}

// Schedules is the schedule write path and step lookup.
type Schedules interface {
	dispatch.Source
	Create(ctx context.Context, in schedules.Input) (*models.Schedule, error)
	Update(ctx context.Context, id string, in schedules.Input) (*models.Schedule, error)
	Get(ctx context.Context, id string) (*models.Schedule, error)
	List(ctx context.Context, chamberID string) ([]models.Schedule, error)
	Delete(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) (*models.Schedule, error)
	Program(ctx context.Context, id string) (*program.Program, error)
}

// Sweeper runs the lifecycle monitor on demand.
type Sweeper interface {
	RunSweep(ctx context.Context) (lifecycle.Report, error)
}

// Dispatcher pushes one chamber's current step to its controllers on demand.
type Dispatcher interface {
	Dispatch(ctx context.Context, chamberID string) (dispatch.Result, error)
}

// DeviceStates reports controller connection states.
type DeviceStates interface {
	Snapshot() []mqtt.DeviceState
}

type Config struct {
	Addr           string
	SigningSecret  string
	StreamInterval time.Duration
}

type Deps struct {
	Catalog    Catalog
	Schedules  Schedules
	Sweeper    Sweeper
	Dispatcher Dispatcher
	Devices    DeviceStates
	Slack      *slacknotify.Client
}

type StatusResponse struct {
	Environment string `json:"environment"`
	Status      string `json:"status"`
}

// Handlers holds the dependencies of the HTTP handlers.
type Handlers struct {
	Deps
	cfg   Config
	log   zerolog.Logger
	clock func() time.Time
}

func NewHandlers(cfg Config, deps Deps, log zerolog.Logger) *Handlers {
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = 3 * time.Second
	}
	return &Handlers{
		Deps:  deps,
		cfg:   cfg,
		log:   log.With().Str("component", "http").Logger(),
		clock: time.Now,
	}
}

// Router builds the route tree.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Get("/", h.status)
	r.Post("/slack/events", h.slackEvents)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/chambers", func(r chi.Router) {
			r.Get("/", h.listChambers)
			r.Post("/", h.createChamber)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getChamber)
				r.Get("/sectors", h.chamberSectors)
				r.Get("/current-step", h.currentStep)
				r.Get("/stream", h.stream)
				r.Get("/actuations", h.listActuations)
				r.Post("/dispatch", h.dispatchChamber)
			})
		})
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.listScenarios)
			r.Post("/", h.createScenario)
			r.Get("/{id}", h.getScenario)
			r.Put("/{id}", h.updateScenario)
			r.Delete("/{id}", h.deleteScenario)
		})
		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", h.listSchedules)
			r.Post("/", h.createSchedule)
			r.Get("/{id}", h.getSchedule)
			r.Put("/{id}", h.updateSchedule)
			r.Delete("/{id}", h.deleteSchedule)
			r.Get("/{id}/program", h.scheduleProgram)
			r.Post("/{id}/cancel", h.cancelSchedule)
		})
		r.Post("/monitor/run", h.runMonitor)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
	})
	return c.Handler(r)
}

// New creates a new HTTP server and sets up the routes.
func New(cfg Config, deps Deps, log zerolog.Logger) *http.Server {
	h := NewHandlers(cfg, deps, log)
	h.log.Info().Str("addr", cfg.Addr).Msg("API server configured")
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.Catalog != nil {
		if err := h.Catalog.Ping(r.Context()); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	fmt.Fprintf(w, "OK")
}

func (h *Handlers) status(w http.ResponseWriter, r *http.Request) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	writeJSON(w, http.StatusOK, StatusResponse{Environment: env, Status: "ok"})
}
