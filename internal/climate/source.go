// Package climate drives climate-family controllers from a remote process:
// it polls the service's current-step endpoint and applies the climate
// setpoints through an MQTT thermostat.
package climate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prite36/growth-chamber-control/internal/dispatch"
	"github.com/prite36/growth-chamber-control/internal/models"
)

// ErrUnknownChamber is returned when the service does not know the chamber.
var ErrUnknownChamber = errors.New("unknown chamber")

// HTTPSource resolves current steps by asking the chamber service.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

var _ dispatch.Source = (*HTTPSource)(nil)

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// CurrentStep fetches GET /api/v1/chambers/{id}/current-step, passing now as
// the instant to resolve at.
func (s *HTTPSource) CurrentStep(ctx context.Context, chamberID string, now int64) (dispatch.Resolution, error) {
	var res dispatch.Resolution
	path := fmt.Sprintf("/api/v1/chambers/%s/current-step?at=%d", url.PathEscape(chamberID), now)
	if err := s.get(ctx, path, chamberID, &res); err != nil {
		return dispatch.Resolution{ChamberID: chamberID}, err
	}
	return res, nil
}

// Controllers fetches the chamber's controllers of the climate family.
func (s *HTTPSource) Controllers(ctx context.Context, chamberID string) ([]models.Controller, error) {
	var chamber models.Chamber
	if err := s.get(ctx, "/api/v1/chambers/"+url.PathEscape(chamberID), chamberID, &chamber); err != nil {
		return nil, err
	}
	var out []models.Controller
	for _, c := range chamber.Controllers.Data() {
		if c.Family == models.FamilyClimate {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *HTTPSource) get(ctx context.Context, path, chamberID string, out any) error {
	u := s.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", dispatch.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrUnknownChamber, chamberID)
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", dispatch.ErrSourceUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, u)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", dispatch.ErrSourceUnavailable, path, err)
	}
	return nil
}
