package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/prite36/growth-chamber-control/internal/models"
)

func (s *Store) CreateChamber(ctx context.Context, c *models.Chamber) error {
	if c.ID == "" {
		c.ID = "chamber-" + uuid.NewString()
	}
	return wrap(s.db.WithContext(ctx).Create(c).Error, "create chamber")
}

func (s *Store) GetChamber(ctx context.Context, id string) (*models.Chamber, error) {
	var c models.Chamber
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, wrap(err, "get chamber "+id)
	}
	return &c, nil
}

func (s *Store) ListChambers(ctx context.Context) ([]models.Chamber, error) {
	var out []models.Chamber
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&out).Error; err != nil {
		return nil, wrap(err, "list chambers")
	}
	return out, nil
}

// EnsureChamber creates c unless a chamber with the same name exists. It
// returns the stored chamber and whether it was created.
func (s *Store) EnsureChamber(ctx context.Context, c *models.Chamber) (*models.Chamber, bool, error) {
	var existing models.Chamber
	err := s.db.WithContext(ctx).First(&existing, "name = ?", c.Name).Error
	if err == nil {
		return &existing, false, nil
	}
	if werr := wrap(err, "find chamber"); !errors.Is(werr, ErrNotFound) {
		return nil, false, werr
	}
	if err := s.CreateChamber(ctx, c); err != nil {
		return nil, false, err
	}
	return c, true, nil
}
