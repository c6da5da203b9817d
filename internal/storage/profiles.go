package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

var ErrProfileNotFound = errors.New("profile not found")

// ProfileRepo is the read surface over user records, which are owned by an
// external identity system. Dispatch only needs display summaries.
type ProfileRepo interface {
	Driver(ctx context.Context, id string) (models.DriverProfile, error)
	Passenger(ctx context.Context, id string) (models.PassengerProfile, error)
}

type MemoryProfileRepo struct {
	mu         sync.RWMutex
	drivers    map[string]models.DriverProfile
	passengers map[string]models.PassengerProfile
}

func NewMemoryProfileRepo() *MemoryProfileRepo {
	return &MemoryProfileRepo{
		drivers:    make(map[string]models.DriverProfile),
		passengers: make(map[string]models.PassengerProfile),
	}
}

func (m *MemoryProfileRepo) PutDriver(p models.DriverProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[p.ID] = p
}

func (m *MemoryProfileRepo) PutPassenger(p models.PassengerProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passengers[p.ID] = p
}

func (m *MemoryProfileRepo) Driver(ctx context.Context, id string) (models.DriverProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.drivers[id]
	if !ok {
		return models.DriverProfile{}, ErrProfileNotFound
	}
	return p, nil
}

func (m *MemoryProfileRepo) Passenger(ctx context.Context, id string) (models.PassengerProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.passengers[id]
	if !ok {
		return models.PassengerProfile{}, ErrProfileNotFound
	}
	return p, nil
}
