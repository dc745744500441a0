package schedules

import (
	"context"
	"errors"
	"fmt"

	"github.com/prite36/growth-chamber-control/internal/dispatch"
	"github.com/prite36/growth-chamber-control/internal/program"
	"github.com/prite36/growth-chamber-control/internal/sector"
	"github.com/prite36/growth-chamber-control/internal/store"
)

var _ dispatch.Source = (*Service)(nil)

// CurrentStep resolves what the chamber should be running at now. A chamber
// with no schedule in window resolves to an inactive step with a nil error;
// store failures are reported as dispatch.ErrSourceUnavailable.
func (s *Service) CurrentStep(ctx context.Context, chamberID string, now int64) (dispatch.Resolution, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res := dispatch.Resolution{ChamberID: chamberID}

	chamber, err := s.store.GetChamber(ctx, chamberID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return res, err
		}
		return res, unavailable(err)
	}
	res.ChamberName = chamber.Name
	ids, err := chamber.SectorIDs()
	if err != nil {
		return res, fmt.Errorf("chamber %s sectors: %w", chamberID, err)
	}
	res.SectorIDs = ids

	sch, err := s.store.ScheduleInWindow(ctx, chamberID, now)
	if errors.Is(err, store.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return res, unavailable(err)
	}
	res.ScheduleID = sch.ID
	res.ScheduleName = sch.Name
	res.AutoMode = true
	res.ControlModes = modesByKind(nil)

	exec, err := s.store.GetExecution(ctx, sch.ID)
	switch {
	case err == nil:
		res.AutoMode = exec.AutoMode
		res.ControlModes = modesByKind(exec.ControlModes.Data())
	case errors.Is(err, store.ErrNotFound):
		s.log.Warn().Str("schedule", sch.ID).Msg("schedule has no execution record, using defaults")
	default:
		return res, unavailable(err)
	}

	p := sch.Program.Data()
	if p == nil || sch.TimeStart == nil {
		s.log.Warn().Str("schedule", sch.ID).Msg("schedule in window has no compiled program")
		return res, nil
	}
	res.Current = program.Resolve(p, *sch.TimeStart, now)
	return res, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", dispatch.ErrSourceUnavailable, err)
}

func modesByKind(modes map[sector.Kind]string) map[sector.Kind]string {
	return controlModes(modes)
}
