package realtime

// Event is the tagged envelope carried on every live channel.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Outbound event types.
const (
	EventRideRequest    = "ride_request"
	EventDriverAssigned = "driver_assigned"
	EventRideTaken      = "ride_taken"
	EventRideCompleted  = "ride_completed"
	EventRideCancelled  = "ride_cancelled"
	EventError          = "error"
)

// Inbound event types accepted over the channel; each maps onto the same
// operation as its HTTP counterpart.
const (
	EventAcceptRide     = "accept_ride"
	EventRejectRide     = "reject_ride"
	EventCancelRide     = "cancel_ride"
	EventLocationUpdate = "location_update"
)

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
