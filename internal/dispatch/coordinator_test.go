package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
)

// recordingNotifier captures every delivery attempt, keyed by (role, user).
type recordingNotifier struct {
	mu     sync.Mutex
	events map[string][]realtime.Event
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(map[string][]realtime.Event)}
}

func (n *recordingNotifier) SendTo(role models.Role, userID string, ev realtime.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := string(role) + ":" + userID
	n.events[key] = append(n.events[key], ev)
	return true
}

func (n *recordingNotifier) BroadcastTo(role models.Role, ids []string, ev realtime.Event) int {
	for _, id := range ids {
		n.SendTo(role, id, ev)
	}
	return len(ids)
}

func (n *recordingNotifier) received(role models.Role, userID string) []realtime.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]realtime.Event(nil), n.events[string(role)+":"+userID]...)
}

func (n *recordingNotifier) typesFor(role models.Role, userID string) []string {
	var out []string
	for _, ev := range n.received(role, userID) {
		out = append(out, ev.Type)
	}
	return out
}

type testRig struct {
	coord    *Coordinator
	presence *presence.Memory
	notify   *recordingNotifier
	rides    *ride.Service
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	pres := presence.NewMemory()
	rides := &ride.Service{Rides: storage.NewMemoryRideRepo(), Presence: pres}
	notify := newRecordingNotifier()
	matcher := &geo.Matcher{Presence: pres}
	coord := NewCoordinator(rides, matcher, notify, storage.NewMemoryProfileRepo(), pres, slog.Default())
	return &testRig{coord: coord, presence: pres, notify: notify, rides: rides}
}

func (rig *testRig) addDriver(t *testing.T, id string, lat, lng float64) {
	t.Helper()
	require.NoError(t, rig.presence.Upsert(context.Background(), models.DriverPresence{
		DriverID: id, Online: true, Verified: true, Active: true,
		Location: &models.Coordinate{Lat: lat, Lng: lng},
	}))
}

func (rig *testRig) request(t *testing.T, passengerID string) RequestResult {
	t.Helper()
	res, err := rig.coord.RequestRide(context.Background(), ride.CreateParams{
		PassengerID:   passengerID,
		Pickup:        models.Coordinate{Lat: 12.9716, Lng: 77.5946},
		PickupAddress: "MG Road",
		Drop:          models.Coordinate{Lat: 12.9352, Lng: 77.6245},
		DropAddress:   "Koramangala",
		City:          "Bangalore",
	})
	require.NoError(t, err)
	return res
}

func TestRequestRideFansOutToCandidates(t *testing.T) {
	rig := newTestRig(t)
	rig.addDriver(t, "d1", 12.9720, 77.5950)
	rig.addDriver(t, "d2", 12.9750, 77.5990)
	rig.addDriver(t, "far", 20.0, 80.0) // outside radius

	res := rig.request(t, "p1")

	require.Equal(t, models.StatusRequested, res.Status)
	require.Equal(t, 2, res.CandidateCount)
	require.Equal(t, []string{realtime.EventRideRequest}, rig.notify.typesFor(models.RoleDriver, "d1"))
	require.Equal(t, []string{realtime.EventRideRequest}, rig.notify.typesFor(models.RoleDriver, "d2"))
	require.Empty(t, rig.notify.received(models.RoleDriver, "far"))

	payload, ok := rig.notify.received(models.RoleDriver, "d1")[0].Payload.(RideRequestPayload)
	require.True(t, ok)
	require.Equal(t, res.RideID, payload.RideID)
	require.Equal(t, "p1", payload.Passenger.ID)
}

func TestRequestRideNoCandidates(t *testing.T) {
	rig := newTestRig(t)
	res := rig.request(t, "p1")
	require.Equal(t, 0, res.CandidateCount)

	// The ride still exists and can be cancelled.
	cancelled, err := rig.coord.CancelRide(context.Background(), res.RideID, models.RolePassenger, "p1")
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, cancelled.Status)
}

func TestConcurrentAcceptExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	drivers := []string{"d1", "d2", "d3", "d4", "d5"}
	for _, id := range drivers {
		rig.addDriver(t, id, 12.9720, 77.5950)
	}
	res := rig.request(t, "p1")

	var wg sync.WaitGroup
	winners := make(chan string, len(drivers))
	losses := make(chan error, len(drivers))
	for _, id := range drivers {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			if _, err := rig.coord.AcceptRide(ctx, res.RideID, driverID); err != nil {
				losses <- err
			} else {
				winners <- driverID
			}
		}(id)
	}
	wg.Wait()
	close(winners)
	close(losses)

	var winner string
	count := 0
	for id := range winners {
		winner = id
		count++
	}
	require.Equal(t, 1, count, "exactly one acceptance must win")

	for err := range losses {
		if err != ErrRideAlreadyTaken && !ride.IsInvalidTransition(err) {
			t.Fatalf("loser got unexpected error: %v", err)
		}
	}

	r, err := rig.rides.Get(ctx, res.RideID)
	require.NoError(t, err)
	require.Equal(t, models.StatusAccepted, r.Status)
	require.Equal(t, winner, r.DriverID)

	// Passenger learns the assignment; losers learn the ride is gone.
	require.Contains(t, rig.notify.typesFor(models.RolePassenger, "p1"), realtime.EventDriverAssigned)
	for _, id := range drivers {
		if id == winner {
			continue
		}
		require.Contains(t, rig.notify.typesFor(models.RoleDriver, id), realtime.EventRideTaken)
	}
}

func TestAcceptAfterDriverWentOfflineReopensOffer(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	rig.addDriver(t, "flaky", 12.9720, 77.5950)
	rig.addDriver(t, "steady", 12.9721, 77.5951)
	res := rig.request(t, "p1")

	// flaky received the offer, then dropped offline before accepting.
	require.NoError(t, rig.presence.SetOnline(ctx, "flaky", false))

	_, err := rig.coord.AcceptRide(ctx, res.RideID, "flaky")
	require.ErrorIs(t, err, ride.ErrDriverOffline)

	// The offer must be open again for the remaining candidate.
	offer, ok := rig.coord.OpenOffer(res.RideID)
	require.True(t, ok)
	require.False(t, offer.Resolved())

	r, err := rig.coord.AcceptRide(ctx, res.RideID, "steady")
	require.NoError(t, err)
	require.Equal(t, "steady", r.DriverID)
}

func TestAcceptUnknownRide(t *testing.T) {
	rig := newTestRig(t)
	_, err := rig.coord.AcceptRide(context.Background(), "no-such-ride", "d1")
	require.ErrorIs(t, err, storage.ErrRideNotFound)
}

func TestCancelThenAcceptFailsAlreadyTaken(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	rig.addDriver(t, "d1", 12.9720, 77.5950)
	res := rig.request(t, "p1")

	_, err := rig.coord.CancelRide(ctx, res.RideID, models.RolePassenger, "p1")
	require.NoError(t, err)

	_, err = rig.coord.AcceptRide(ctx, res.RideID, "d1")
	require.ErrorIs(t, err, ErrRideAlreadyTaken)
}

func TestCancelledOfferEvictedAfterRetention(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	rig.coord.OfferRetention = 50 * time.Millisecond
	rig.addDriver(t, "d1", 12.9720, 77.5950)
	res := rig.request(t, "p1")

	_, err := rig.coord.CancelRide(ctx, res.RideID, models.RolePassenger, "p1")
	require.NoError(t, err)

	// Within the grace window the resolved offer is still a tombstone.
	offer, ok := rig.coord.OpenOffer(res.RideID)
	require.True(t, ok)
	require.True(t, offer.Resolved())

	require.Eventually(t, func() bool {
		_, ok := rig.coord.OpenOffer(res.RideID)
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	// Once evicted, acceptance attempts see no open offer at all.
	_, err = rig.coord.AcceptRide(ctx, res.RideID, "d1")
	require.ErrorIs(t, err, storage.ErrRideNotFound)
}

func TestCancelAcceptedRideNotifiesDriver(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	rig.addDriver(t, "d1", 12.9720, 77.5950)
	res := rig.request(t, "p1")

	_, err := rig.coord.AcceptRide(ctx, res.RideID, "d1")
	require.NoError(t, err)

	_, err = rig.coord.CancelRide(ctx, res.RideID, models.RolePassenger, "p1")
	require.NoError(t, err)

	require.Contains(t, rig.notify.typesFor(models.RoleDriver, "d1"), realtime.EventRideCancelled)
}

func TestDriverCancelNotifiesPassenger(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	rig.addDriver(t, "d1", 12.9720, 77.5950)
	res := rig.request(t, "p1")

	_, err := rig.coord.AcceptRide(ctx, res.RideID, "d1")
	require.NoError(t, err)

	_, err = rig.coord.CancelRide(ctx, res.RideID, models.RoleDriver, "d1")
	require.NoError(t, err)

	require.Contains(t, rig.notify.typesFor(models.RolePassenger, "p1"), realtime.EventRideCancelled)
}

func TestCancelRejectsOutsiders(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	rig.addDriver(t, "d1", 12.9720, 77.5950)
	res := rig.request(t, "p1")

	_, err := rig.coord.CancelRide(ctx, res.RideID, models.RolePassenger, "someone-else")
	require.ErrorIs(t, err, ErrNotRideParty)

	_, err = rig.coord.CancelRide(ctx, res.RideID, models.RoleDriver, "d1") // not assigned yet
	require.ErrorIs(t, err, ErrNotRideParty)
}

func TestCompleteRideAuthorizesAndNotifies(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	rig.addDriver(t, "d1", 12.9720, 77.5950)
	res := rig.request(t, "p1")

	_, err := rig.coord.AcceptRide(ctx, res.RideID, "d1")
	require.NoError(t, err)
	_, err = rig.rides.MarkArrived(ctx, res.RideID)
	require.NoError(t, err)
	_, err = rig.rides.MarkStarted(ctx, res.RideID)
	require.NoError(t, err)

	// Wrong driver cannot complete.
	_, err = rig.coord.CompleteRide(ctx, res.RideID, "impostor", nil, nil)
	require.ErrorIs(t, err, ErrNotRideParty)

	r, err := rig.coord.CompleteRide(ctx, res.RideID, "d1", nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, r.Status)
	require.NotNil(t, r.Fare)

	require.Contains(t, rig.notify.typesFor(models.RolePassenger, "p1"), realtime.EventRideCompleted)
}

func TestOfferBookRemoveAfterEvicts(t *testing.T) {
	b := newOfferBook()
	b.put(newOffer("r1", nil))
	require.Equal(t, 1, b.size())

	b.removeAfter("r1", 10*time.Millisecond)
	require.Eventually(t, func() bool { return b.size() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestOfferReopenAllowsLateWinnerOnly(t *testing.T) {
	o := newOffer("r1", []geo.Candidate{{DriverID: "a"}, {DriverID: "b"}})
	require.True(t, o.TryResolve())
	require.False(t, o.TryResolve())
	o.Reopen()
	require.True(t, o.TryResolve())
	require.Equal(t, []string{"b"}, o.CandidateIDs("a"))
}
