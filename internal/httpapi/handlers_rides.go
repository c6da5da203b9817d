package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/ride"
)

type requestRideBody struct {
	Pickup        models.Coordinate `json:"pickup"`
	PickupAddress string            `json:"pickup_address"`
	Drop          models.Coordinate `json:"drop"`
	DropAddress   string            `json:"drop_address"`
	City          string            `json:"city"`
	Notes         string            `json:"notes"`
}

func (b requestRideBody) validate() string {
	switch {
	case b.Pickup.Lat < -90 || b.Pickup.Lat > 90 || b.Drop.Lat < -90 || b.Drop.Lat > 90:
		return "latitude out of range"
	case b.Pickup.Lng < -180 || b.Pickup.Lng > 180 || b.Drop.Lng < -180 || b.Drop.Lng > 180:
		return "longitude out of range"
	case b.City == "":
		return "city is required"
	}
	return ""
}

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	var body requestRideBody
	if !decodeBody(w, r, &body) {
		return
	}
	if msg := body.validate(); msg != "" {
		writeErr(w, http.StatusBadRequest, "validation", msg)
		return
	}

	res, err := s.Coordinator.RequestRide(r.Context(), ride.CreateParams{
		PassengerID:   id.UserID,
		Pickup:        body.Pickup,
		PickupAddress: body.PickupAddress,
		Drop:          body.Drop,
		DropAddress:   body.DropAddress,
		City:          body.City,
		Notes:         body.Notes,
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	rideID := mux.Vars(r)["ride_id"]

	accepted, err := s.Coordinator.AcceptRide(r.Context(), rideID, id.UserID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ride_id":     accepted.ID,
		"status":      accepted.Status,
		"accepted_at": accepted.AcceptedAt,
	})
}

func (s *Server) handleMarkArrived(w http.ResponseWriter, r *http.Request) {
	s.handleDriverTransition(w, r, s.Rides.MarkArrived)
}

func (s *Server) handleMarkStarted(w http.ResponseWriter, r *http.Request) {
	s.handleDriverTransition(w, r, s.Rides.MarkStarted)
}

// handleDriverTransition covers arrived/started: both are assigned-driver
// only, single-predecessor transitions.
func (s *Server) handleDriverTransition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, rideID string) (*models.Ride, error)) {
	id, _ := identityFromContext(r.Context())
	rideID := mux.Vars(r)["ride_id"]

	cur, err := s.Rides.Get(r.Context(), rideID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if cur.DriverID != id.UserID {
		writeErr(w, http.StatusForbidden, "forbidden", "not authorized for this ride")
		return
	}

	updated, err := op(r.Context(), rideID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ride_id":    updated.ID,
		"status":     updated.Status,
		"arrived_at": updated.ArrivedAt,
		"started_at": updated.StartedAt,
	})
}

type completeRideBody struct {
	FinalFare       *float64 `json:"final_fare"`
	DurationMinutes *float64 `json:"duration_minutes"`
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	rideID := mux.Vars(r)["ride_id"]

	var body completeRideBody
	if r.ContentLength > 0 && !decodeBody(w, r, &body) {
		return
	}

	done, err := s.Coordinator.CompleteRide(r.Context(), rideID, id.UserID, body.FinalFare, body.DurationMinutes)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ride_id":          done.ID,
		"status":           done.Status,
		"fare":             done.Fare,
		"duration_minutes": done.DurationMinutes,
		"completed_at":     done.CompletedAt,
	})
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	rideID := mux.Vars(r)["ride_id"]

	cancelled, err := s.Coordinator.CancelRide(r.Context(), rideID, id.Role, id.UserID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ride_id":      cancelled.ID,
		"status":       cancelled.Status,
		"cancelled_at": cancelled.CancelledAt,
	})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	rideID := mux.Vars(r)["ride_id"]

	cur, err := s.Rides.Get(r.Context(), rideID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	// Ride details are visible only to its parties.
	if cur.PassengerID != id.UserID && cur.DriverID != id.UserID {
		writeErr(w, http.StatusForbidden, "forbidden", "not authorized for this ride")
		return
	}
	writeJSON(w, http.StatusOK, cur)
}
