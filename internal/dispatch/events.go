package dispatch

import (
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Payloads for the outbound event envelope. Field names mirror the public
// API surface so channel consumers and HTTP consumers see the same shapes.

type RideRequestPayload struct {
	RideID        string            `json:"ride_id"`
	Pickup        models.Coordinate `json:"pickup"`
	PickupAddress string            `json:"pickup_address"`
	Drop          models.Coordinate `json:"drop"`
	DropAddress   string            `json:"drop_address"`
	City          string            `json:"city"`
	DistanceKm    float64           `json:"distance_km"`
	Passenger     PassengerSummary  `json:"passenger"`
	RequestedAt   time.Time         `json:"requested_at"`
}

type DriverAssignedPayload struct {
	RideID     string        `json:"ride_id"`
	Driver     DriverSummary `json:"driver"`
	AcceptedAt time.Time     `json:"accepted_at"`
}

type RideTakenPayload struct {
	RideID string `json:"ride_id"`
}

type RideCompletedPayload struct {
	RideID          string    `json:"ride_id"`
	Fare            *float64  `json:"fare,omitempty"`
	DurationMinutes *float64  `json:"duration_minutes,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

type RideCancelledPayload struct {
	RideID      string      `json:"ride_id"`
	CancelledBy models.Role `json:"cancelled_by"`
	CancelledAt time.Time   `json:"cancelled_at"`
}

type PassengerSummary struct {
	ID       string `json:"id"`
	FullName string `json:"full_name,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

type DriverSummary struct {
	ID            string             `json:"id"`
	FullName      string             `json:"full_name,omitempty"`
	Phone         string             `json:"phone,omitempty"`
	VehicleNumber string             `json:"vehicle_number,omitempty"`
	VehicleType   string             `json:"vehicle_type,omitempty"`
	Location      *models.Coordinate `json:"location,omitempty"`
}
