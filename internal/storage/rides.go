package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	ErrRideNotFound = errors.New("ride not found")
	// ErrStaleRide means a status-guarded update lost a race: the ride was
	// advanced by a concurrent writer between read and write.
	ErrStaleRide = errors.New("ride was modified concurrently")
)

// RideRepo persists rides. UpdateIfStatus is the concurrency primitive the
// state machine relies on: the write applies only if the stored status still
// equals expected, otherwise ErrStaleRide.
type RideRepo interface {
	Create(ctx context.Context, r *models.Ride) error
	Get(ctx context.Context, id string) (*models.Ride, error)
	UpdateIfStatus(ctx context.Context, r *models.Ride, expected models.RideStatus) error

	// ActiveByPassenger returns the passenger's non-terminal ride, or nil.
	ActiveByPassenger(ctx context.Context, passengerID string) (*models.Ride, error)
	ActiveListByPassenger(ctx context.Context, passengerID string) ([]*models.Ride, error)
	HistoryByPassenger(ctx context.Context, passengerID string, limit int) ([]*models.Ride, error)
	ListByDriver(ctx context.Context, driverID string, limit int) ([]*models.Ride, error)
	CompletedByDriver(ctx context.Context, driverID string) ([]*models.Ride, error)
}

// MemoryRideRepo keeps rides in a map, copying on the way in and out so
// callers never alias stored records.
type MemoryRideRepo struct {
	mu    sync.RWMutex
	rides map[string]models.Ride
}

func NewMemoryRideRepo() *MemoryRideRepo {
	return &MemoryRideRepo{rides: make(map[string]models.Ride)}
}

func (m *MemoryRideRepo) Create(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryRideRepo) Get(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrRideNotFound
	}
	cp := r
	return &cp, nil
}

func (m *MemoryRideRepo) UpdateIfStatus(ctx context.Context, r *models.Ride, expected models.RideStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[r.ID]
	if !ok {
		return ErrRideNotFound
	}
	if cur.Status != expected {
		return ErrStaleRide
	}
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryRideRepo) ActiveByPassenger(ctx context.Context, passengerID string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rides {
		if r.PassengerID == passengerID && r.Status.Active() {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryRideRepo) ActiveListByPassenger(ctx context.Context, passengerID string) ([]*models.Ride, error) {
	return m.filter(func(r models.Ride) bool {
		return r.PassengerID == passengerID && r.Status.Active()
	}, 0), nil
}

func (m *MemoryRideRepo) HistoryByPassenger(ctx context.Context, passengerID string, limit int) ([]*models.Ride, error) {
	return m.filter(func(r models.Ride) bool {
		return r.PassengerID == passengerID && r.Status.Terminal()
	}, limit), nil
}

func (m *MemoryRideRepo) ListByDriver(ctx context.Context, driverID string, limit int) ([]*models.Ride, error) {
	return m.filter(func(r models.Ride) bool {
		return r.DriverID == driverID
	}, limit), nil
}

func (m *MemoryRideRepo) CompletedByDriver(ctx context.Context, driverID string) ([]*models.Ride, error) {
	return m.filter(func(r models.Ride) bool {
		return r.DriverID == driverID && r.Status == models.StatusCompleted
	}, 0), nil
}

// filter returns matches sorted most-recently-requested first.
func (m *MemoryRideRepo) filter(keep func(models.Ride) bool, limit int) []*models.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Ride, 0)
	for _, r := range m.rides {
		if keep(r) {
			cp := r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
