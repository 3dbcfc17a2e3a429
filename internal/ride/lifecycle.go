package ride

import (
	"fmt"
	"time"

	"github.com/ridelink/ridelink-backend/internal/models"
	"github.com/ridelink/ridelink-backend/pkg/geomath"
)

// transitions is the authoritative state machine. A ride may only move to a
// status listed for its current one; terminal states have no entries.
//
// ACCEPTED -> OTP_PENDING directly is legal for clients that skip arrival
// tracking; the canonical flow goes through DRIVER_ARRIVED.
var transitions = map[models.RideStatus][]models.RideStatus{
	models.StatusRequested:     {models.StatusAccepted, models.StatusCancelled},
	models.StatusAccepted:      {models.StatusDriverArrived, models.StatusOtpPending, models.StatusCancelled},
	models.StatusDriverArrived: {models.StatusOtpPending, models.StatusCancelled},
	models.StatusOtpPending:    {models.StatusInProgress},
	models.StatusInProgress:    {models.StatusCompleted},
	models.StatusCompleted:     {},
	models.StatusCancelled:     {},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to models.RideStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// authorize enforces the per-transition role rules. The caller has already
// checked the transition table.
func authorize(r *models.Ride, to models.RideStatus, actor models.Actor) error {
	if actor.Role == models.RoleSystem {
		return nil
	}
	switch to {
	case models.StatusAccepted:
		if actor.Role != models.RoleDriver {
			return fmt.Errorf("only a driver may accept a ride: %w", ErrUnauthorized)
		}
	case models.StatusDriverArrived, models.StatusOtpPending, models.StatusCompleted:
		if actor.Role != models.RoleDriver || !r.AssignedTo(actor.ID) {
			return fmt.Errorf("only the assigned driver may perform this: %w", ErrUnauthorized)
		}
	case models.StatusInProgress:
		// Entered only via OTP verification; either party may present the
		// code at pickup.
		riderOK := actor.Role == models.RoleRider && r.RiderID == actor.ID
		driverOK := actor.Role == models.RoleDriver && r.AssignedTo(actor.ID)
		if !riderOK && !driverOK {
			return fmt.Errorf("verification must come from a ride party: %w", ErrUnauthorized)
		}
	case models.StatusCancelled:
		riderOK := actor.Role == models.RoleRider && r.RiderID == actor.ID
		driverOK := actor.Role == models.RoleDriver && r.AssignedTo(actor.ID)
		if !riderOK && !driverOK {
			return fmt.Errorf("only a ride party may cancel: %w", ErrUnauthorized)
		}
	}
	return nil
}

// Transition validates and applies a status change in memory: table check,
// role check, status set, timestamp stamped. Persisting the mutation (and
// losing the CAS race) is the caller's problem.
func Transition(r *models.Ride, to models.RideStatus, actor models.Actor, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%s -> %s: %w", r.Status, to, ErrInvalidTransition)
	}
	if err := authorize(r, to, actor); err != nil {
		return err
	}

	r.Status = to
	switch to {
	case models.StatusAccepted:
		r.AcceptedAt = &now
	case models.StatusDriverArrived:
		r.ArrivedAt = &now
	case models.StatusInProgress:
		r.StartedAt = &now
	case models.StatusCompleted:
		r.CompletedAt = &now
	case models.StatusCancelled:
		r.CancelledAt = &now
		r.CancelledBy = actor.Role
	}
	return nil
}

// CancellationPenalty computes the informational penalty owed for cancelling
// a ride at the given status. It never charges anything; settlement is
// someone else's job.
//
// Rider cancelling an assigned, not-yet-finished ride forfeits half the
// quoted fare; a driver bailing after accepting forfeits a quarter of the
// base fare; everything else is free.
func CancellationPenalty(r *models.Ride, by models.ActorRole) float64 {
	switch by {
	case models.RoleRider:
		if r.Status == models.StatusAccepted || r.Status == models.StatusInProgress {
			return geomath.Round2(r.Fare.Total * 0.50)
		}
	case models.RoleDriver:
		if r.Status == models.StatusAccepted {
			return geomath.Round2(r.Fare.Base * 0.25)
		}
	}
	return 0
}
