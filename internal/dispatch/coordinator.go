package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
)

var (
	// ErrRideAlreadyTaken is the expected outcome for every driver who loses
	// the acceptance race, and for acceptances arriving after cancellation.
	ErrRideAlreadyTaken = errors.New("ride already taken")
	// ErrNotRideParty rejects lifecycle calls from users not involved in the
	// ride.
	ErrNotRideParty = errors.New("not a party to this ride")
)

// CandidateFinder is the matching dependency; satisfied by geo.Matcher.
type CandidateFinder interface {
	FindCandidates(ctx context.Context, pickup models.Coordinate, radiusKm float64, limit int) ([]geo.Candidate, error)
}

// Notifier is the delivery dependency; satisfied by realtime.Registry.
type Notifier interface {
	SendTo(role models.Role, userID string, ev realtime.Event) bool
	BroadcastTo(role models.Role, ids []string, ev realtime.Event) int
}

// RequestResult is the synchronous answer to a ride request; acceptance
// happens asynchronously over the event channels.
type RequestResult struct {
	RideID         string            `json:"ride_id"`
	Status         models.RideStatus `json:"status"`
	CandidateCount int               `json:"candidate_count"`
}

// Coordinator orchestrates one ride-request lifecycle across the state
// machine, the matcher and the connection registry.
type Coordinator struct {
	Rides    *ride.Service
	Matcher  CandidateFinder
	Notify   Notifier
	Profiles storage.ProfileRepo
	Presence ride.PresenceReader
	Logger   *slog.Logger

	RadiusKm float64
	TopK     int

	// OfferRetention is how long a cancelled ride's resolved offer stays in
	// the book so late acceptance attempts fail with ErrRideAlreadyTaken
	// instead of ErrRideNotFound.
	OfferRetention time.Duration

	offers *offerBook
}

// DefaultOfferRetention keeps cancelled offers around long enough for any
// in-flight acceptance to land on the tombstone.
const DefaultOfferRetention = time.Minute

func NewCoordinator(rides *ride.Service, matcher CandidateFinder, notify Notifier, profiles storage.ProfileRepo, pres ride.PresenceReader, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		Rides:          rides,
		Matcher:        matcher,
		Notify:         notify,
		Profiles:       profiles,
		Presence:       pres,
		Logger:         logger,
		RadiusKm:       geo.DefaultRadiusKm,
		TopK:           geo.DefaultLimit,
		OfferRetention: DefaultOfferRetention,
		offers:         newOfferBook(),
	}
}

// RequestRide creates the ride, opens an offer and fans the request out to
// the nearest candidates. It returns immediately; the first acceptance wins.
func (c *Coordinator) RequestRide(ctx context.Context, p ride.CreateParams) (RequestResult, error) {
	r, err := c.Rides.Create(ctx, p)
	if err != nil {
		return RequestResult{}, err
	}

	candidates, err := c.Matcher.FindCandidates(ctx, r.Pickup, c.RadiusKm, c.TopK)
	if err != nil {
		// The ride stands even if matching failed: candidates can still be
		// attached by a retry. Surface the partial result.
		c.Logger.Error("candidate search failed", "ride_id", r.ID, "error", err)
		return RequestResult{RideID: r.ID, Status: r.Status}, nil
	}

	c.offers.put(newOffer(r.ID, candidates))

	payload := RideRequestPayload{
		RideID:        r.ID,
		Pickup:        r.Pickup,
		PickupAddress: r.PickupAddress,
		Drop:          r.Drop,
		DropAddress:   r.DropAddress,
		City:          r.City,
		DistanceKm:    r.DistanceKm,
		Passenger:     c.passengerSummary(ctx, r.PassengerID),
		RequestedAt:   r.RequestedAt,
	}
	ids := make([]string, len(candidates))
	for i, cand := range candidates {
		ids[i] = cand.DriverID
	}
	delivered := c.Notify.BroadcastTo(models.RoleDriver, ids, realtime.Event{Type: realtime.EventRideRequest, Payload: payload})

	observability.RidesRequested.Inc()
	observability.OffersSent.Add(float64(delivered))
	if delivered < len(ids) {
		observability.DeliveryMisses.Add(float64(len(ids) - delivered))
	}
	c.Logger.Info("ride requested",
		"ride_id", r.ID, "passenger_id", r.PassengerID,
		"candidates", len(ids), "delivered", delivered)

	return RequestResult{RideID: r.ID, Status: r.Status, CandidateCount: len(candidates)}, nil
}

// AcceptRide resolves the acceptance race. The offer's resolved flag is
// claimed first; only then is the state-machine commit attempted. If the
// commit fails the claim is rolled back so remaining candidates are not
// stranded with an unclaimable ride.
func (c *Coordinator) AcceptRide(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	offer, ok := c.offers.get(rideID)
	if !ok {
		return nil, storage.ErrRideNotFound
	}
	if !offer.TryResolve() {
		observability.AcceptLosses.Inc()
		return nil, ErrRideAlreadyTaken
	}

	r, err := c.Rides.AssignDriver(ctx, rideID, driverID)
	if err != nil {
		offer.Reopen()
		observability.AcceptLosses.Inc()
		c.Logger.Info("acceptance rejected", "ride_id", rideID, "driver_id", driverID, "error", err)
		return nil, err
	}

	observability.AcceptWins.Inc()
	c.Logger.Info("driver assigned", "ride_id", rideID, "driver_id", driverID)

	if !c.Notify.SendTo(models.RolePassenger, r.PassengerID, realtime.Event{
		Type: realtime.EventDriverAssigned,
		Payload: DriverAssignedPayload{
			RideID:     r.ID,
			Driver:     c.driverSummary(ctx, driverID),
			AcceptedAt: *r.AcceptedAt,
		},
	}) {
		observability.DeliveryMisses.Inc()
		c.Logger.Warn("passenger offline for driver_assigned", "ride_id", r.ID, "passenger_id", r.PassengerID)
	}

	c.Notify.BroadcastTo(models.RoleDriver, offer.CandidateIDs(driverID), realtime.Event{
		Type:    realtime.EventRideTaken,
		Payload: RideTakenPayload{RideID: r.ID},
	})

	return r, nil
}

// CompleteRide finishes a started ride on behalf of its assigned driver and
// tells the passenger.
func (c *Coordinator) CompleteRide(ctx context.Context, rideID, driverID string, finalFare, durationMinutes *float64) (*models.Ride, error) {
	cur, err := c.Rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if cur.DriverID != driverID {
		return nil, ErrNotRideParty
	}

	r, err := c.Rides.Complete(ctx, rideID, finalFare, durationMinutes)
	if err != nil {
		return nil, err
	}
	c.offers.remove(rideID)

	if !c.Notify.SendTo(models.RolePassenger, r.PassengerID, realtime.Event{
		Type: realtime.EventRideCompleted,
		Payload: RideCompletedPayload{
			RideID:          r.ID,
			Fare:            r.Fare,
			DurationMinutes: r.DurationMinutes,
			CompletedAt:     *r.CompletedAt,
		},
	}) {
		observability.DeliveryMisses.Inc()
	}

	observability.RidesCompleted.Inc()
	c.Logger.Info("ride completed", "ride_id", r.ID, "driver_id", driverID, "fare", r.Fare)
	return r, nil
}

// CancelRide ends a not-yet-started ride. The open offer is closed before
// the state-machine cancel so a driver acceptance racing the cancellation
// fails with ErrRideAlreadyTaken instead of succeeding into a cancelled ride.
func (c *Coordinator) CancelRide(ctx context.Context, rideID string, actorRole models.Role, actorID string) (*models.Ride, error) {
	cur, err := c.Rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	switch actorRole {
	case models.RolePassenger:
		if cur.PassengerID != actorID {
			return nil, ErrNotRideParty
		}
	case models.RoleDriver:
		if cur.DriverID != actorID {
			return nil, ErrNotRideParty
		}
	default:
		return nil, ErrNotRideParty
	}

	// Close the offer before touching the state machine. The claim result
	// does not matter: an accepted-but-not-started ride stays cancellable
	// even if a driver holds the claim, and once the claim is taken no
	// acceptance can commit afterwards.
	if offer, ok := c.offers.get(rideID); ok {
		offer.TryResolve()
	}

	r, err := c.Rides.Cancel(ctx, rideID)
	if err != nil {
		return nil, err
	}

	// The resolved offer stays as a tombstone for the grace window, then is
	// evicted so the book does not grow with every cancelled ride.
	retention := c.OfferRetention
	if retention <= 0 {
		retention = DefaultOfferRetention
	}
	c.offers.removeAfter(rideID, retention)

	// Notify the counterparty, if there is a live one.
	switch actorRole {
	case models.RolePassenger:
		if r.DriverID != "" {
			c.sendCancelled(r, models.RoleDriver, r.DriverID, actorRole)
		}
	case models.RoleDriver:
		c.sendCancelled(r, models.RolePassenger, r.PassengerID, actorRole)
	}

	observability.RidesCancelled.Inc()
	c.Logger.Info("ride cancelled", "ride_id", r.ID, "by", string(actorRole), "actor_id", actorID)
	return r, nil
}

// OpenOffer exposes the current offer for a ride; used by tests and the read
// surface.
func (c *Coordinator) OpenOffer(rideID string) (*Offer, bool) {
	return c.offers.get(rideID)
}

func (c *Coordinator) sendCancelled(r *models.Ride, role models.Role, userID string, by models.Role) {
	if !c.Notify.SendTo(role, userID, realtime.Event{
		Type: realtime.EventRideCancelled,
		Payload: RideCancelledPayload{
			RideID:      r.ID,
			CancelledBy: by,
			CancelledAt: *r.CancelledAt,
		},
	}) {
		observability.DeliveryMisses.Inc()
	}
}

func (c *Coordinator) passengerSummary(ctx context.Context, id string) PassengerSummary {
	s := PassengerSummary{ID: id}
	if c.Profiles == nil {
		return s
	}
	if p, err := c.Profiles.Passenger(ctx, id); err == nil {
		s.FullName = p.FullName
		s.Phone = p.Phone
	}
	return s
}

func (c *Coordinator) driverSummary(ctx context.Context, id string) DriverSummary {
	s := DriverSummary{ID: id}
	if c.Profiles != nil {
		if p, err := c.Profiles.Driver(ctx, id); err == nil {
			s.FullName = p.FullName
			s.Phone = p.Phone
			s.VehicleNumber = p.VehicleNumber
			s.VehicleType = p.VehicleType
		}
	}
	if c.Presence != nil {
		if p, err := c.Presence.Get(ctx, id); err == nil {
			s.Location = p.Location
		}
	}
	return s
}
