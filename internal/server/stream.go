package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prite36/growth-chamber-control/internal/dispatch"
	"github.com/prite36/growth-chamber-control/internal/mqtt"
)

// StreamEvent is one server-sent event of the dashboard stream.
type StreamEvent struct {
	At         int64               `json:"at"`
	Resolution dispatch.Resolution `json:"resolution"`
	Devices    []mqtt.DeviceState  `json:"devices"`
	Error      string              `json:"error,omitempty"`
}

// stream emits the chamber's current step and its controllers' connection
// states every stream interval until the client goes away.
func (h *Handlers) stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	chamber, err := h.Catalog.GetChamber(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	devices := map[string]bool{}
	for _, c := range chamber.Controllers.Data() {
		devices[c.DeviceID] = true
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(h.cfg.StreamInterval)
	defer ticker.Stop()
	for {
		if err := h.writeStreamEvent(w, r, id, devices); err != nil {
			h.log.Debug().Err(err).Str("chamber", id).Msg("stream closed")
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Handlers) writeStreamEvent(w http.ResponseWriter, r *http.Request, chamberID string, devices map[string]bool) error {
	now := h.clock().Unix()
	ev := StreamEvent{At: now, Devices: []mqtt.DeviceState{}}
	res, err := h.Schedules.CurrentStep(r.Context(), chamberID, now)
	ev.Resolution = res
	if err != nil {
		ev.Error = err.Error()
	}
	if h.Devices != nil {
		for _, d := range h.Devices.Snapshot() {
			if devices[d.DeviceID] {
				ev.Devices = append(ev.Devices, d)
			}
		}
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: step\ndata: %s\n\n", b)
	return err
}
