// Package handlers is the gin layer: request binding, identity extraction,
// and translation of the core's sentinel errors into HTTP statuses. No
// lifecycle rule lives here.
package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/ridelink/ridelink-backend/internal/models"
	"github.com/ridelink/ridelink-backend/internal/ride"
)

// actorFromContext rebuilds the authenticated identity the middleware stored.
func actorFromContext(c *gin.Context) models.Actor {
	role := models.RoleRider
	if c.GetString("userType") == string(models.UserTypeDriver) {
		role = models.RoleDriver
	}
	return models.Actor{ID: c.GetUint("userId"), Role: role}
}

// respondErr maps the core's sentinels onto HTTP statuses. Unknown errors
// become a 500 with a generic body so internals never leak.
func respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ride.ErrNotFound):
		c.JSON(404, gin.H{"error": "Ride not found"})
	case errors.Is(err, ride.ErrUnauthorized):
		c.JSON(403, gin.H{"error": "Not a party to this ride"})
	case errors.Is(err, ride.ErrInvalidTransition):
		c.JSON(409, gin.H{"error": "Action not allowed in the ride's current state"})
	case errors.Is(err, ride.ErrConflict):
		c.JSON(409, gin.H{"error": "Ride was modified concurrently, reload and retry"})
	case errors.Is(err, ride.ErrActiveRide):
		c.JSON(409, gin.H{"error": "An active ride already exists"})
	case errors.Is(err, ride.ErrAlreadyRated):
		c.JSON(409, gin.H{"error": "Already rated"})
	case errors.Is(err, ride.ErrExpired):
		c.JSON(410, gin.H{"error": "Code expired, request a new one"})
	case errors.Is(err, ride.ErrAttemptsExceeded):
		c.JSON(429, gin.H{"error": "Too many attempts, request a new code"})
	case errors.Is(err, ride.ErrCodeMismatch):
		c.JSON(400, gin.H{"error": "Incorrect code"})
	case errors.Is(err, ride.ErrNoDriversAvailable):
		c.JSON(404, gin.H{"error": "No drivers available"})
	default:
		c.JSON(500, gin.H{"error": "Internal server error"})
	}
}
