package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/datatypes"

	"github.com/prite36/growth-chamber-control/internal/lifecycle"
	"github.com/prite36/growth-chamber-control/internal/models"
	"github.com/prite36/growth-chamber-control/internal/program"
	"github.com/prite36/growth-chamber-control/internal/schedules"
	"github.com/prite36/growth-chamber-control/internal/sector"
	"github.com/prite36/growth-chamber-control/internal/store"
)

// ChamberRequest is the body of POST /api/v1/chambers.
type ChamberRequest struct {
	Name        string              `json:"name"`
	Sectors     sector.Config       `json:"sectors"`
	Controllers []models.Controller `json:"controllers"`
}

func (req ChamberRequest) validate() error {
	if req.Name == "" {
		return fmt.Errorf("%w: name is required", errBadRequest)
	}
	if _, err := sector.Derive(req.Sectors); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	for _, c := range req.Controllers {
		if c.Family != models.FamilyESPHome && c.Family != models.FamilyClimate {
			return fmt.Errorf("%w: controller %q: unknown family %q", errBadRequest, c.Name, c.Family)
		}
		if c.DeviceID == "" {
			return fmt.Errorf("%w: controller %q: device_id is required", errBadRequest, c.Name)
		}
	}
	return nil
}

// ScenarioRequest is the body of scenario writes.
type ScenarioRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Steps       []program.Step `json:"steps"`
}

func (req ScenarioRequest) model(id string) (*models.Scenario, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", errBadRequest)
	}
	if err := program.ValidateScenario(program.Scenario{ID: id, Name: req.Name, Steps: req.Steps}); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return &models.Scenario{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Steps:       datatypes.NewJSONType(req.Steps),
	}, nil
}

func (h *Handlers) listChambers(w http.ResponseWriter, r *http.Request) {
	chambers, err := h.Catalog.ListChambers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chambers)
}

func (h *Handlers) createChamber(w http.ResponseWriter, r *http.Request) {
	var req ChamberRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		h.writeError(w, r, err)
		return
	}
	c := &models.Chamber{
		Name:        req.Name,
		Sectors:     datatypes.NewJSONType(req.Sectors),
		Controllers: datatypes.NewJSONType(req.Controllers),
	}
	if err := h.Catalog.CreateChamber(r.Context(), c); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handlers) getChamber(w http.ResponseWriter, r *http.Request) {
	c, err := h.Catalog.GetChamber(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handlers) chamberSectors(w http.ResponseWriter, r *http.Request) {
	c, err := h.Catalog.GetChamber(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ids, err := c.SectorIDs()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// currentStep answers with the chamber's resolved step. The optional at
// query parameter (epoch seconds) resolves a different instant.
func (h *Handlers) currentStep(w http.ResponseWriter, r *http.Request) {
	at, err := queryInt64(r, "at", h.clock().Unix())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.Schedules.CurrentStep(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) listActuations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt64(r, "limit", 50)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	history, err := h.Catalog.ListActuations(r.Context(), chi.URLParam(r, "id"), int(limit))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handlers) dispatchChamber(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Catalog.GetChamber(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.Dispatcher.Dispatch(r.Context(), id)
	if err != nil && len(res.Failed) == 0 {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if len(res.Failed) > 0 {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

func (h *Handlers) listScenarios(w http.ResponseWriter, r *http.Request) {
	out, err := h.Catalog.ListScenarios(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) createScenario(w http.ResponseWriter, r *http.Request) {
	var req ScenarioRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	sc, err := req.model("")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Catalog.CreateScenario(r.Context(), sc); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (h *Handlers) getScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := h.Catalog.GetScenario(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (h *Handlers) updateScenario(w http.ResponseWriter, r *http.Request) {
	var req ScenarioRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	sc, err := req.model(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Catalog.UpdateScenario(r.Context(), sc); err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.Catalog.GetScenario(r.Context(), sc.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handlers) deleteScenario(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.DeleteScenario(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) listSchedules(w http.ResponseWriter, r *http.Request) {
	out, err := h.Schedules.List(r.Context(), r.URL.Query().Get("chamber_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) createSchedule(w http.ResponseWriter, r *http.Request) {
	var in schedules.Input
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	sch, err := h.Schedules.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sch)
}

func (h *Handlers) getSchedule(w http.ResponseWriter, r *http.Request) {
	sch, err := h.Schedules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func (h *Handlers) updateSchedule(w http.ResponseWriter, r *http.Request) {
	var in schedules.Input
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	sch, err := h.Schedules.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func (h *Handlers) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.Schedules.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) scheduleProgram(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.Schedules.Program(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if p == nil {
		h.writeError(w, r, fmt.Errorf("schedule %s is a draft and has no program: %w", id, store.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) cancelSchedule(w http.ResponseWriter, r *http.Request) {
	sch, err := h.Schedules.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

// MonitorResponse is the answer of a manual sweep: the sweep report with its
// partial failures rendered as strings.
type MonitorResponse struct {
	lifecycle.Report
	Failures []string `json:"failures,omitempty"`
}

// runMonitor runs one lifecycle sweep now. Running it twice in a row is
// harmless; the second run finds nothing due.
func (h *Handlers) runMonitor(w http.ResponseWriter, r *http.Request) {
	report, err := h.Sweeper.RunSweep(r.Context())
	if err != nil && len(report.Failures) == 0 {
		h.writeError(w, r, err)
		return
	}
	resp := MonitorResponse{Report: report}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, f.Error())
	}
	status := http.StatusOK
	if len(resp.Failures) > 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}
