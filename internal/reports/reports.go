package reports

import (
	"context"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

const historyLimit = 50

// EarningsSummary aggregates a driver's completed, fare-bearing rides.
type EarningsSummary struct {
	TotalRides    int     `json:"total_rides"`
	TotalEarnings float64 `json:"total_earnings"`
	TodayRides    int     `json:"today_rides"`
	TodayEarnings float64 `json:"today_earnings"`
	AverageFare   float64 `json:"average_fare"`
}

// Service serves read-only projections over already-decided ride records.
// Nothing here mutates dispatch state.
type Service struct {
	Rides storage.RideRepo

	// Now is swappable for tests; defaults to time.Now.
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) DriverEarnings(ctx context.Context, driverID string) (EarningsSummary, error) {
	completed, err := s.Rides.CompletedByDriver(ctx, driverID)
	if err != nil {
		return EarningsSummary{}, err
	}

	var sum EarningsSummary
	today := s.now().Truncate(24 * time.Hour)
	for _, r := range completed {
		if r.Fare == nil {
			continue
		}
		sum.TotalRides++
		sum.TotalEarnings += *r.Fare
		if r.CompletedAt != nil && !r.CompletedAt.UTC().Truncate(24*time.Hour).Before(today) {
			sum.TodayRides++
			sum.TodayEarnings += *r.Fare
		}
	}
	if sum.TotalRides > 0 {
		sum.AverageFare = sum.TotalEarnings / float64(sum.TotalRides)
	}
	return sum, nil
}

func (s *Service) DriverRides(ctx context.Context, driverID string) ([]*models.Ride, error) {
	return s.Rides.ListByDriver(ctx, driverID, historyLimit)
}

func (s *Service) PassengerActiveRides(ctx context.Context, passengerID string) ([]*models.Ride, error) {
	return s.Rides.ActiveListByPassenger(ctx, passengerID)
}

func (s *Service) PassengerHistory(ctx context.Context, passengerID string) ([]*models.Ride, error) {
	return s.Rides.HistoryByPassenger(ctx, passengerID, historyLimit)
}
