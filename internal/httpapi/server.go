package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/reports"
	"github.com/example/ride-dispatch/internal/ride"
)

// LocationPublisher pushes driver location events onto the analytics
// stream.
type LocationPublisher interface {
	Publish(ctx context.Context, ev models.DriverLocationEvent) error
}

var _ LocationPublisher = (*ingest.LocationProducer)(nil)

// Server wires the dispatch core to its HTTP and WebSocket surface.
type Server struct {
	Coordinator *dispatch.Coordinator
	Rides       *ride.Service
	Reports     *reports.Service
	Presence    presence.Store
	Registry    *realtime.Registry
	Verifier    auth.Verifier
	Locations   LocationPublisher // optional; nil disables publishing

	logger *slog.Logger
	router *mux.Router
}

func NewServer(coord *dispatch.Coordinator, rides *ride.Service, rep *reports.Service, pres presence.Store, reg *realtime.Registry, verifier auth.Verifier, locations LocationPublisher, logger *slog.Logger) *Server {
	s := &Server{
		Coordinator: coord,
		Rides:       rides,
		Reports:     rep,
		Presence:    pres,
		Registry:    reg,
		Verifier:    verifier,
		Locations:   locations,
		logger:      logger,
		router:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler())

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/rides/request", s.requireRole("passenger", s.handleRequestRide)).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/accept", s.requireRole("driver", s.handleAcceptRide)).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/arrived", s.requireRole("driver", s.handleMarkArrived)).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/start", s.requireRole("driver", s.handleMarkStarted)).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/complete", s.requireRole("driver", s.handleCompleteRide)).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/cancel", s.handleCancelRide).Methods("POST")
	api.HandleFunc("/rides/{ride_id}", s.handleGetRide).Methods("GET")

	api.HandleFunc("/drivers/location", s.requireRole("driver", s.handleDriverLocation)).Methods("PUT")
	api.HandleFunc("/drivers/status", s.requireRole("driver", s.handleDriverStatus)).Methods("PUT")
	api.HandleFunc("/drivers/profile", s.requireRole("driver", s.handleDriverProfile)).Methods("GET")
	api.HandleFunc("/drivers/rides", s.requireRole("driver", s.handleDriverRides)).Methods("GET")
	api.HandleFunc("/drivers/earnings", s.requireRole("driver", s.handleDriverEarnings)).Methods("GET")

	api.HandleFunc("/passengers/rides/active", s.requireRole("passenger", s.handlePassengerActive)).Methods("GET")
	api.HandleFunc("/passengers/rides/history", s.requireRole("passenger", s.handlePassengerHistory)).Methods("GET")

	ws := s.router.PathPrefix("/ws").Subrouter()
	ws.Use(s.authMiddleware)
	ws.HandleFunc("", s.handleWS).Methods("GET")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }
