package stores

import (
	"context"
	"errors"
	"strings"
)

// Service coordinates store configuration.
type Service struct {
	repo *Repository
}

// NewService builds Service.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Create validates and inserts a store.
func (s *Service) Create(ctx context.Context, store Store) (Store, error) {
	if err := s.validate(store); err != nil {
		return Store{}, err
	}
	id, err := s.repo.Create(ctx, store)
	if err != nil {
		return Store{}, err
	}
	store.ID = id
	return store, nil
}

// Get loads one store.
func (s *Service) Get(ctx context.Context, id int64) (Store, error) {
	return s.repo.Get(ctx, id)
}

// List returns all stores.
func (s *Service) List(ctx context.Context) ([]Store, error) {
	return s.repo.List(ctx)
}

// Update modifies a store.
func (s *Service) Update(ctx context.Context, store Store) error {
	if err := s.validate(store); err != nil {
		return err
	}
	return s.repo.Update(ctx, store)
}

func (s *Service) validate(store Store) error {
	if strings.TrimSpace(store.Name) == "" {
		return errors.New("store name is required")
	}
	switch store.ValuationMethod {
	case MethodFIFO, MethodAverageCost:
	default:
		return errors.New("store valuation method must be fifo or average_cost")
	}
	return nil
}
