package geo

import (
	"context"
	"math"
	"sort"

	"github.com/example/ride-dispatch/internal/models"
)

// Defaults for candidate search, matching dispatch policy.
const (
	DefaultRadiusKm = 10.0
	DefaultLimit    = 5
)

// PresenceSource supplies the driver-presence snapshot the matcher ranks.
type PresenceSource interface {
	Snapshot(ctx context.Context) ([]models.DriverPresence, error)
}

// Candidate is one driver eligible for an offer, with straight-line distance
// to the pickup point.
type Candidate struct {
	DriverID   string
	DistanceKm float64
}

// Matcher ranks eligible drivers by proximity to a pickup coordinate.
//
// This is a deliberate linear scan over the presence snapshot; a spatial
// index would change only how the snapshot is narrowed, never the candidate
// set or its ordering.
type Matcher struct {
	Presence PresenceSource
}

// FindCandidates returns drivers that are online, verified, active and have a
// known location within radiusKm of pickup, sorted by ascending haversine
// distance with driver id as tie-break, truncated to limit. An empty pool is
// not an error.
func (m *Matcher) FindCandidates(ctx context.Context, pickup models.Coordinate, radiusKm float64, limit int) ([]Candidate, error) {
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	all, err := m.Presence.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(all))
	for _, p := range all {
		if !p.Eligible() {
			continue
		}
		d := HaversineKm(pickup, *p.Location)
		if d > radiusKm {
			continue
		}
		out = append(out, Candidate{DriverID: p.DriverID, DistanceKm: d})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].DriverID < out[j].DriverID
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// HaversineKm returns the great-circle distance between two coordinates in
// kilometers, using the mean Earth radius.
func HaversineKm(a, b models.Coordinate) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }

	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}
