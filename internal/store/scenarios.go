package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/prite36/growth-chamber-control/internal/models"
	"github.com/prite36/growth-chamber-control/internal/program"
)

func (s *Store) CreateScenario(ctx context.Context, sc *models.Scenario) error {
	if sc.ID == "" {
		sc.ID = "scenario-" + uuid.NewString()
	}
	return wrap(s.db.WithContext(ctx).Create(sc).Error, "create scenario")
}

func (s *Store) GetScenario(ctx context.Context, id string) (*models.Scenario, error) {
	var sc models.Scenario
	if err := s.db.WithContext(ctx).First(&sc, "id = ?", id).Error; err != nil {
		return nil, wrap(err, "get scenario "+id)
	}
	return &sc, nil
}

func (s *Store) ListScenarios(ctx context.Context) ([]models.Scenario, error) {
	var out []models.Scenario
	if err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&out).Error; err != nil {
		return nil, wrap(err, "list scenarios")
	}
	return out, nil
}

// UpdateScenario overwrites name, description and steps. Already compiled
// programs keep their own copy of the steps.
func (s *Store) UpdateScenario(ctx context.Context, sc *models.Scenario) error {
	res := s.db.WithContext(ctx).
		Model(&models.Scenario{ID: sc.ID}).
		Select("name", "description", "steps", "updated_at").
		Updates(sc)
	if res.Error != nil {
		return wrap(res.Error, "update scenario "+sc.ID)
	}
	if res.RowsAffected == 0 {
		return wrap(ErrNotFound, "update scenario "+sc.ID)
	}
	return nil
}

func (s *Store) DeleteScenario(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Scenario{}, "id = ?", id)
	if res.Error != nil {
		return wrap(res.Error, "delete scenario "+id)
	}
	if res.RowsAffected == 0 {
		return wrap(ErrNotFound, "delete scenario "+id)
	}
	return nil
}

// LoadScenarios fetches the referenced scenarios as a compiler lookup.
// Missing IDs are simply absent; the compiler reports them.
func (s *Store) LoadScenarios(ctx context.Context, ids []string) (program.Scenarios, error) {
	out := program.Scenarios{}
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Scenario
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, wrap(err, "load scenarios")
	}
	for i := range rows {
		out[rows[i].ID] = rows[i].Program()
	}
	return out, nil
}
