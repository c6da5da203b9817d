package ride

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/storage"
)

// Default fare parameters, applied when completion carries no explicit fare.
const (
	DefaultBaseFare  = 50.0
	DefaultPerKmRate = 20.0
)

// PresenceReader is the slice of the presence store the state machine needs:
// the online re-check at assignment commit time.
type PresenceReader interface {
	Get(ctx context.Context, driverID string) (models.DriverPresence, error)
}

// CreateParams carries the passenger-supplied fields of a new ride.
type CreateParams struct {
	PassengerID   string
	Pickup        models.Coordinate
	PickupAddress string
	Drop          models.Coordinate
	DropAddress   string
	City          string
	Notes         string
}

// Service owns the authoritative ride lifecycle. Every mutation is a
// status-guarded repository write, so two racers on the same ride observe
// exactly one winner.
type Service struct {
	Rides    storage.RideRepo
	Presence PresenceReader

	BaseFare  float64
	PerKmRate float64

	// Now is swappable for tests; defaults to time.Now.
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) Get(ctx context.Context, rideID string) (*models.Ride, error) {
	return s.Rides.Get(ctx, rideID)
}

// Create records a new ride in requested state. A passenger with any
// non-terminal ride cannot open another one.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.Ride, error) {
	if strings.TrimSpace(p.PassengerID) == "" {
		return nil, errors.New("passenger id is required")
	}
	active, err := s.Rides.ActiveByPassenger(ctx, p.PassengerID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, ErrActiveRideExists
	}

	r := &models.Ride{
		ID:            models.NewRideID(),
		PassengerID:   p.PassengerID,
		Pickup:        p.Pickup,
		PickupAddress: p.PickupAddress,
		Drop:          p.Drop,
		DropAddress:   p.DropAddress,
		City:          p.City,
		Notes:         p.Notes,
		Status:        models.StatusRequested,
		DistanceKm:    geo.HaversineKm(p.Pickup, p.Drop),
		RequestedAt:   s.now(),
		PaymentStatus: "pending",
	}
	if err := s.Rides.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// AssignDriver moves a requested ride to accepted. The driver's online flag
// is re-checked here, not just at offer time, to close the race where a
// driver drops offline between receiving an offer and accepting it.
func (s *Service) AssignDriver(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	p, err := s.Presence.Get(ctx, driverID)
	if errors.Is(err, presence.ErrUnknownDriver) {
		return nil, ErrDriverOffline
	}
	if err != nil {
		// A presence store outage is an infrastructure failure, not a
		// statement about the driver.
		return nil, err
	}
	if !p.Online {
		return nil, ErrDriverOffline
	}

	return s.transition(ctx, rideID, "accept", models.StatusRequested, func(r *models.Ride, at time.Time) {
		r.DriverID = driverID
		r.Status = models.StatusAccepted
		r.AcceptedAt = &at
	})
}

func (s *Service) MarkArrived(ctx context.Context, rideID string) (*models.Ride, error) {
	return s.transition(ctx, rideID, "mark arrived", models.StatusAccepted, func(r *models.Ride, at time.Time) {
		r.Status = models.StatusArrived
		r.ArrivedAt = &at
	})
}

func (s *Service) MarkStarted(ctx context.Context, rideID string) (*models.Ride, error) {
	return s.transition(ctx, rideID, "start", models.StatusArrived, func(r *models.Ride, at time.Time) {
		r.Status = models.StatusStarted
		r.StartedAt = &at
	})
}

// Complete finishes a started ride. When no fare is supplied it is computed
// from the stored pickup→drop distance.
func (s *Service) Complete(ctx context.Context, rideID string, finalFare, durationMinutes *float64) (*models.Ride, error) {
	return s.transition(ctx, rideID, "complete", models.StatusStarted, func(r *models.Ride, at time.Time) {
		r.Status = models.StatusCompleted
		r.CompletedAt = &at
		if durationMinutes != nil {
			r.DurationMinutes = durationMinutes
		}
		if finalFare != nil {
			r.Fare = finalFare
			return
		}
		base, rate := s.BaseFare, s.PerKmRate
		if base == 0 {
			base = DefaultBaseFare
		}
		if rate == 0 {
			rate = DefaultPerKmRate
		}
		fare := base + r.DistanceKm*rate
		r.Fare = &fare
	})
}

// Cancel ends a ride that has not started yet. Actor is recorded in the notes
// trail only through caller-side auditing; the state machine just validates
// the transition.
func (s *Service) Cancel(ctx context.Context, rideID string) (*models.Ride, error) {
	r, err := s.Rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !r.Status.Cancellable() {
		return nil, &InvalidTransitionError{RideID: rideID, From: r.Status, Op: "cancel"}
	}
	from := r.Status
	at := s.now()
	r.Status = models.StatusCancelled
	r.CancelledAt = &at
	if err := s.Rides.UpdateIfStatus(ctx, r, from); err != nil {
		return nil, s.mapUpdateErr(ctx, rideID, "cancel", err)
	}
	return r, nil
}

// transition is the shared single-predecessor path: read, validate expected
// status, mutate, write back guarded on the status read.
func (s *Service) transition(ctx context.Context, rideID, op string, expected models.RideStatus, mutate func(*models.Ride, time.Time)) (*models.Ride, error) {
	r, err := s.Rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.Status != expected {
		return nil, &InvalidTransitionError{RideID: rideID, From: r.Status, Op: op}
	}
	mutate(r, s.now())
	if err := s.Rides.UpdateIfStatus(ctx, r, expected); err != nil {
		return nil, s.mapUpdateErr(ctx, rideID, op, err)
	}
	return r, nil
}

// mapUpdateErr turns a lost optimistic write into an InvalidTransitionError
// carrying the status the winner left behind.
func (s *Service) mapUpdateErr(ctx context.Context, rideID, op string, err error) error {
	if !errors.Is(err, storage.ErrStaleRide) {
		return err
	}
	cur, getErr := s.Rides.Get(ctx, rideID)
	if getErr != nil {
		return getErr
	}
	return &InvalidTransitionError{RideID: rideID, From: cur.Status, Op: op}
}
