package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
)

type driverLocationBody struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	var body driverLocationBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Lat < -90 || body.Lat > 90 || body.Lng < -180 || body.Lng > 180 {
		writeErr(w, http.StatusBadRequest, "validation", "coordinate out of range")
		return
	}

	at, err := s.applyDriverLocation(r.Context(), id.UserID, models.Coordinate{Lat: body.Lat, Lng: body.Lng})
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"driver_id":  id.UserID,
		"lat":        body.Lat,
		"lng":        body.Lng,
		"updated_at": at,
	})
}

// applyDriverLocation is the single write path for driver coordinates: the
// REST endpoint and the websocket location_update event both land here, so
// the analytics stream sees every update regardless of surface.
func (s *Server) applyDriverLocation(ctx context.Context, driverID string, loc models.Coordinate) (time.Time, error) {
	now := time.Now().UTC()
	if err := s.ensurePresence(ctx, driverID); err != nil {
		return now, err
	}
	if err := s.Presence.UpdateLocation(ctx, driverID, loc, now); err != nil {
		return now, err
	}

	if s.Locations != nil {
		ev := models.DriverLocationEvent{
			DriverID:   driverID,
			Lat:        loc.Lat,
			Lng:        loc.Lng,
			Geohash:    geohash.EncodeWithPrecision(loc.Lat, loc.Lng, 5),
			Online:     true,
			RecordedAt: now,
		}
		if err := s.Locations.Publish(ctx, ev); err != nil {
			// Publishing feeds analytics; dispatch already has the update.
			s.logger.Warn("location publish failed", "driver_id", driverID, "error", err)
		}
	}
	return now, nil
}

type driverStatusBody struct {
	Online bool `json:"online"`
}

func (s *Server) handleDriverStatus(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	var body driverStatusBody
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.ensurePresence(r.Context(), id.UserID); err != nil {
		writeDomainErr(w, err)
		return
	}
	if err := s.Presence.SetOnline(r.Context(), id.UserID, body.Online); err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"driver_id": id.UserID,
		"online":    body.Online,
	})
}

// ensurePresence creates the presence record on a driver's first update.
// Possession of a driver token implies the identity service already vetted
// the account, so new records start verified and active.
func (s *Server) ensurePresence(ctx context.Context, driverID string) error {
	_, err := s.Presence.Get(ctx, driverID)
	if errors.Is(err, presence.ErrUnknownDriver) {
		return s.Presence.Upsert(ctx, models.DriverPresence{
			DriverID: driverID,
			Verified: true,
			Active:   true,
		})
	}
	return err
}

func (s *Server) handleDriverProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	out := map[string]any{"driver_id": id.UserID}
	if p, err := s.Presence.Get(r.Context(), id.UserID); err == nil {
		out["online"] = p.Online
		out["verified"] = p.Verified
		out["active"] = p.Active
		out["location"] = p.Location
		out["last_location_at"] = p.LastLocationAt
	} else if !errors.Is(err, presence.ErrUnknownDriver) {
		writeDomainErr(w, err)
		return
	}
	if s.Coordinator != nil && s.Coordinator.Profiles != nil {
		if prof, err := s.Coordinator.Profiles.Driver(r.Context(), id.UserID); err == nil {
			out["full_name"] = prof.FullName
			out["phone"] = prof.Phone
			out["vehicle_number"] = prof.VehicleNumber
			out["vehicle_type"] = prof.VehicleType
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDriverRides(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	rides, err := s.Reports.DriverRides(r.Context(), id.UserID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

func (s *Server) handleDriverEarnings(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	summary, err := s.Reports.DriverEarnings(r.Context(), id.UserID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
