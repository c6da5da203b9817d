package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrUnknownDriver is returned when no presence record exists for an id.
var ErrUnknownDriver = errors.New("unknown driver")

// geohashPrecision 5 gives ~5km cells, coarse enough for analytics bucketing.
const geohashPrecision = 5

// Store tracks driver availability and location. Updates are last-writer-wins;
// dispatch only ever reads.
type Store interface {
	Get(ctx context.Context, driverID string) (models.DriverPresence, error)
	Snapshot(ctx context.Context) ([]models.DriverPresence, error)
	Upsert(ctx context.Context, p models.DriverPresence) error
	UpdateLocation(ctx context.Context, driverID string, loc models.Coordinate, at time.Time) error
	// SetOnline flips availability. Going offline clears the stored location.
	SetOnline(ctx context.Context, driverID string, online bool) error
}

// Memory is the in-process Store used for tests and single-node runs.
type Memory struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverPresence
}

func NewMemory() *Memory {
	return &Memory{drivers: make(map[string]models.DriverPresence)}
}

func (m *Memory) Get(ctx context.Context, driverID string) (models.DriverPresence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.drivers[driverID]
	if !ok {
		return models.DriverPresence{}, ErrUnknownDriver
	}
	return p, nil
}

func (m *Memory) Snapshot(ctx context.Context) ([]models.DriverPresence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DriverPresence, 0, len(m.drivers))
	for _, p := range m.drivers {
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) Upsert(ctx context.Context, p models.DriverPresence) error {
	if p.Location != nil {
		p.Geohash = geohash.EncodeWithPrecision(p.Location.Lat, p.Location.Lng, geohashPrecision)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[p.DriverID] = p
	return nil
}

func (m *Memory) UpdateLocation(ctx context.Context, driverID string, loc models.Coordinate, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.drivers[driverID]
	p.DriverID = driverID
	p.Location = &models.Coordinate{Lat: loc.Lat, Lng: loc.Lng}
	p.Geohash = geohash.EncodeWithPrecision(loc.Lat, loc.Lng, geohashPrecision)
	ts := at
	p.LastLocationAt = &ts
	m.drivers[driverID] = p
	return nil
}

func (m *Memory) SetOnline(ctx context.Context, driverID string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.drivers[driverID]
	p.DriverID = driverID
	p.Online = online
	if !online {
		p.Location = nil
		p.Geohash = ""
		p.LastLocationAt = nil
	}
	m.drivers[driverID] = p
	return nil
}
