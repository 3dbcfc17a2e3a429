// Package store is the persistence collaborator of the lifecycle engine. The
// engine only ever talks to these interfaces; the gorm implementation backs
// production and the memory implementation backs tests and local runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ridelink/ridelink-backend/internal/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrVersionConflict is returned by UpdateRide when the ride's version
	// column no longer matches: a concurrent writer got there first.
	ErrVersionConflict = errors.New("store: ride version conflict")
)

// RideStore persists rides. UpdateRide performs a compare-and-swap on the
// ride's Version field: the update only lands if the stored version still
// equals ride.Version, and on success the version is incremented both in the
// store and on the passed struct. Writers to different rides never contend.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id uint) (*models.Ride, error)
	UpdateRide(ctx context.Context, r *models.Ride) error

	// ActiveRideForRider returns the rider's non-terminal ride, if any.
	ActiveRideForRider(ctx context.Context, riderID uint) (*models.Ride, error)

	// RidesForUser lists rides where the user was rider or driver, newest
	// first, limited.
	RidesForUser(ctx context.Context, userID uint, role models.ActorRole, limit, offset int) ([]models.Ride, error)
}

// DriverStore persists driver availability records. Each record is mutated by
// its own driver's calls plus lifecycle bookkeeping, never concurrently by
// dispatch itself.
type DriverStore interface {
	GetDriver(ctx context.Context, driverID uint) (*models.DriverAvailability, error)
	SaveDriver(ctx context.Context, d *models.DriverAvailability) error

	// SaveDriverLocation writes only the position columns. Location pings
	// arrive every few seconds and race lifecycle bookkeeping on the same
	// row; a scoped write cannot clobber CurrentRideID or the stats.
	SaveDriverLocation(ctx context.Context, driverID uint, lat, lng float64, seen time.Time) error

	// SetDriverOnline flips the shift flag, again without touching the
	// rest of the row.
	SetDriverOnline(ctx context.Context, driverID uint, online bool, seen time.Time) error

	// OnlineUnassigned lists drivers eligible for offers before geo and
	// quality filtering.
	OnlineUnassigned(ctx context.Context) ([]models.DriverAvailability, error)
}

// UserStore resolves account records for controllers and notifications.
type UserStore interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
}
