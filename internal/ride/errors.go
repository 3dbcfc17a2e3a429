package ride

import "errors"

// The error taxonomy of the lifecycle engine. Controllers translate these to
// HTTP responses; everything else matches with errors.Is.
var (
	// ErrInvalidTransition means the attempted status change is not
	// permitted from the ride's current state.
	ErrInvalidTransition = errors.New("invalid ride status transition")

	// ErrUnauthorized means the acting party may not perform this action on
	// this ride.
	ErrUnauthorized = errors.New("actor not permitted for this action")

	// ErrNotFound means the ride, driver, or OTP record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrExpired means the OTP is past its TTL.
	ErrExpired = errors.New("code expired")

	// ErrAttemptsExceeded means the OTP guess budget is exhausted.
	ErrAttemptsExceeded = errors.New("verification attempts exceeded")

	// ErrCodeMismatch means a wrong OTP guess with attempts remaining.
	ErrCodeMismatch = errors.New("code mismatch")

	// ErrNoDriversAvailable means matching yielded zero candidates even
	// after the escalated-radius retry.
	ErrNoDriversAvailable = errors.New("no drivers available")

	// ErrConflict means a concurrent writer won the race on this ride.
	// Expected under normal dispatch races; callers treat it as "offer no
	// longer available", not a fault.
	ErrConflict = errors.New("ride was modified concurrently")

	// ErrActiveRide means the party already has a non-terminal ride.
	ErrActiveRide = errors.New("an active ride already exists")

	// ErrAlreadyRated means this party's rating was already recorded.
	ErrAlreadyRated = errors.New("rating already submitted")
)
