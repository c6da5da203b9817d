package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth happens via the bearer token; origin checks belong to the
	// edge proxy in this deployment.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "user_id", id.UserID, "error", err)
		return
	}

	sess := realtime.NewSession(conn)
	s.Registry.Register(id.Role, id.UserID, sess)
	sess.Open()

	observability.ConnectionsActive.WithLabelValues(string(id.Role)).Inc()
	s.logger.Info("websocket connected", "user_id", id.UserID, "role", id.Role)

	defer func() {
		s.Registry.Unregister(id.Role, id.UserID, sess)
		_ = sess.Close("connection closed")
		observability.ConnectionsActive.WithLabelValues(string(id.Role)).Dec()
		s.logger.Info("websocket disconnected", "user_id", id.UserID, "role", id.Role)
	}()

	sess.ReadLoop(func(ev realtime.Event) {
		s.handleInbound(r, sess, id.Role, id.UserID, ev)
	})
}

type wsRideRef struct {
	RideID string `json:"ride_id"`
}

type wsLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// handleInbound routes client events to the same operations the REST
// surface exposes. Replies go through the session so ordering matches
// server-pushed events.
func (s *Server) handleInbound(r *http.Request, sess *realtime.Session, role models.Role, userID string, ev realtime.Event) {
	ctx := r.Context()

	switch ev.Type {
	case realtime.EventAcceptRide:
		if role != models.RoleDriver {
			s.sendWSError(sess, "forbidden", "drivers only")
			return
		}
		var ref wsRideRef
		if err := realtime.DecodePayload(ev, &ref); err != nil || ref.RideID == "" {
			s.sendWSError(sess, "invalid_payload", "accept_ride requires ride_id")
			return
		}
		accepted, err := s.Coordinator.AcceptRide(ctx, ref.RideID, userID)
		if err != nil {
			_, code, msg := domainErrCode(err)
			s.sendWSError(sess, code, msg)
			return
		}
		_ = sess.Send(realtime.Event{Type: realtime.EventAcceptRide, Payload: map[string]any{
			"ride_id":     accepted.ID,
			"status":      accepted.Status,
			"accepted_at": accepted.AcceptedAt,
		}})

	case realtime.EventRejectRide:
		// A rejection does not close the offer; the driver simply stops
		// being a contender until someone accepts.
		var ref wsRideRef
		_ = realtime.DecodePayload(ev, &ref)
		s.logger.Debug("ride rejected", "ride_id", ref.RideID, "driver_id", userID)

	case realtime.EventCancelRide:
		var ref wsRideRef
		if err := realtime.DecodePayload(ev, &ref); err != nil || ref.RideID == "" {
			s.sendWSError(sess, "invalid_payload", "cancel_ride requires ride_id")
			return
		}
		cancelled, err := s.Coordinator.CancelRide(ctx, ref.RideID, role, userID)
		if err != nil {
			_, code, msg := domainErrCode(err)
			s.sendWSError(sess, code, msg)
			return
		}
		_ = sess.Send(realtime.Event{Type: realtime.EventRideCancelled, Payload: map[string]any{
			"ride_id":      cancelled.ID,
			"status":       cancelled.Status,
			"cancelled_at": cancelled.CancelledAt,
		}})

	case realtime.EventLocationUpdate:
		if role != models.RoleDriver {
			s.sendWSError(sess, "forbidden", "drivers only")
			return
		}
		var loc wsLocation
		if err := realtime.DecodePayload(ev, &loc); err != nil {
			s.sendWSError(sess, "invalid_payload", "location_update requires lat and lng")
			return
		}
		if loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
			s.sendWSError(sess, "invalid_payload", "coordinate out of range")
			return
		}
		if _, err := s.applyDriverLocation(ctx, userID, models.Coordinate{Lat: loc.Lat, Lng: loc.Lng}); err != nil {
			s.sendWSError(sess, "internal", "internal error")
			return
		}

	default:
		s.sendWSError(sess, "unknown_event", "unsupported event type: "+ev.Type)
	}
}

func (s *Server) sendWSError(sess *realtime.Session, code, msg string) {
	_ = sess.Send(realtime.Event{
		Type:    realtime.EventError,
		Payload: realtime.ErrorPayload{Code: code, Message: msg},
	})
}
