package ride

import (
	"errors"
	"fmt"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	// ErrActiveRideExists enforces the one-active-ride-per-passenger policy.
	ErrActiveRideExists = errors.New("passenger already has an active ride")
	// ErrDriverOffline is returned when an assignment is attempted for a
	// driver who is no longer online at commit time.
	ErrDriverOffline = errors.New("driver is not online")
)

// InvalidTransitionError reports a state-machine precondition violation. The
// ride is left untouched.
type InvalidTransitionError struct {
	RideID string
	From   models.RideStatus
	Op     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("ride %s: cannot %s from status %q", e.RideID, e.Op, e.From)
}

// IsInvalidTransition reports whether err is a transition precondition
// failure.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
