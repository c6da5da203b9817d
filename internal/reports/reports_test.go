package reports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

func fareOf(v float64) *float64 { return &v }

func TestDriverEarningsSummary(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryRideRepo()
	now := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)

	rides := []*models.Ride{
		{ID: "t1", DriverID: "d1", Status: models.StatusCompleted, Fare: fareOf(100), CompletedAt: &now, RequestedAt: now},
		{ID: "t2", DriverID: "d1", Status: models.StatusCompleted, Fare: fareOf(200), CompletedAt: &now, RequestedAt: now},
		{ID: "old", DriverID: "d1", Status: models.StatusCompleted, Fare: fareOf(300), CompletedAt: &yesterday, RequestedAt: yesterday},
		// No fare recorded: excluded from every aggregate.
		{ID: "nofare", DriverID: "d1", Status: models.StatusCompleted, CompletedAt: &now, RequestedAt: now},
		// Cancelled rides never count.
		{ID: "gone", DriverID: "d1", Status: models.StatusCancelled, Fare: fareOf(999), RequestedAt: now},
		// Another driver's work.
		{ID: "other", DriverID: "d2", Status: models.StatusCompleted, Fare: fareOf(50), CompletedAt: &now, RequestedAt: now},
	}
	for _, r := range rides {
		require.NoError(t, repo.Create(ctx, r))
	}

	svc := &Service{Rides: repo, Now: func() time.Time { return now }}
	sum, err := svc.DriverEarnings(ctx, "d1")
	require.NoError(t, err)

	require.Equal(t, 3, sum.TotalRides)
	require.Equal(t, 600.0, sum.TotalEarnings)
	require.Equal(t, 2, sum.TodayRides)
	require.Equal(t, 300.0, sum.TodayEarnings)
	require.Equal(t, 200.0, sum.AverageFare)
}

func TestDriverEarningsEmpty(t *testing.T) {
	svc := &Service{Rides: storage.NewMemoryRideRepo()}
	sum, err := svc.DriverEarnings(context.Background(), "d1")
	require.NoError(t, err)
	require.Zero(t, sum.TotalRides)
	require.Zero(t, sum.AverageFare)
}

func TestPassengerProjectionsSplitActiveAndHistory(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryRideRepo()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, &models.Ride{ID: "live", PassengerID: "p1", Status: models.StatusStarted, RequestedAt: now}))
	require.NoError(t, repo.Create(ctx, &models.Ride{ID: "done", PassengerID: "p1", Status: models.StatusCompleted, RequestedAt: now.Add(-time.Hour)}))

	svc := &Service{Rides: repo}

	active, err := svc.PassengerActiveRides(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "live", active[0].ID)

	hist, err := svc.PassengerHistory(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, "done", hist[0].ID)
}
