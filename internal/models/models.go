package models

import (
	"time"

	"github.com/google/uuid"
)

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Role distinguishes the two sides of a ride.
type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
)

type RideStatus string

const (
	StatusRequested RideStatus = "requested"
	StatusAccepted  RideStatus = "accepted"
	StatusArrived   RideStatus = "arrived"
	StatusStarted   RideStatus = "started"
	StatusCompleted RideStatus = "completed"
	StatusCancelled RideStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether the ride still occupies its passenger.
func (s RideStatus) Active() bool { return !s.Terminal() }

// Cancellable reports whether the ride may still be cancelled.
// Once underway a ride can only complete.
func (s RideStatus) Cancellable() bool {
	switch s {
	case StatusRequested, StatusAccepted, StatusArrived:
		return true
	}
	return false
}

type Ride struct {
	ID          string `json:"id"`
	PassengerID string `json:"passenger_id"`
	DriverID    string `json:"driver_id,omitempty"` // empty until assigned

	Pickup        Coordinate `json:"pickup"`
	PickupAddress string     `json:"pickup_address"`
	Drop          Coordinate `json:"drop"`
	DropAddress   string     `json:"drop_address"`
	City          string     `json:"city"`

	Status          RideStatus `json:"status"`
	Fare            *float64   `json:"fare,omitempty"`
	DistanceKm      float64    `json:"distance_km"`
	DurationMinutes *float64   `json:"duration_minutes,omitempty"`

	RequestedAt time.Time  `json:"requested_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	Notes         string `json:"notes,omitempty"`
	PaymentStatus string `json:"payment_status"`
}

// DriverPresence is the dispatch-relevant view of a driver: whether they may
// be offered rides and where they currently are. Location is owned by the
// driver's own updates; going offline clears it.
type DriverPresence struct {
	DriverID string      `json:"driver_id"`
	Online   bool        `json:"online"`
	Verified bool        `json:"verified"`
	Active   bool        `json:"active"`
	Location *Coordinate `json:"location,omitempty"`
	Geohash  string      `json:"geohash,omitempty"`

	LastLocationAt *time.Time `json:"last_location_at,omitempty"`
}

// Eligible reports whether the driver may receive offers at all.
func (p DriverPresence) Eligible() bool {
	return p.Online && p.Verified && p.Active && p.Location != nil
}

type DriverProfile struct {
	ID            string `json:"id"`
	FullName      string `json:"full_name"`
	Phone         string `json:"phone"`
	VehicleNumber string `json:"vehicle_number"`
	VehicleType   string `json:"vehicle_type"`
}

type PassengerProfile struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

// DriverLocationEvent is the wire record published to Kafka on every driver
// location or status update and folded into the presence mirror by the
// consumer.
type DriverLocationEvent struct {
	DriverID   string    `json:"driver_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Geohash    string    `json:"geohash,omitempty"`
	Online     bool      `json:"online"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NewRideID returns a fresh opaque ride identifier.
func NewRideID() string { return uuid.NewString() }
