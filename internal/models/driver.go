package models

import (
	"time"

	"gorm.io/gorm"
)

// VehicleClass buckets vehicles for matching and pricing.
type VehicleClass string

const (
	ClassStandard VehicleClass = "standard"
	ClassComfort  VehicleClass = "comfort"
	ClassPremium  VehicleClass = "premium"
)

// ClassCompatible reports whether a vehicle of class have can serve a request
// for class want. Premium requests need premium vehicles; comfort requests
// accept comfort or premium; standard requests accept anything.
func ClassCompatible(want, have VehicleClass) bool {
	switch want {
	case ClassPremium:
		return have == ClassPremium
	case ClassComfort:
		return have == ClassComfort || have == ClassPremium
	default:
		return true
	}
}

// DriverAvailability is the dispatch-side bookkeeping for one driver: where
// they are, whether they can take work, and the rolling quality stats the
// matcher filters and scores on.
type DriverAvailability struct {
	gorm.Model
	DriverID uint `json:"driverId" gorm:"not null;uniqueIndex"`

	Online        bool      `json:"online" gorm:"not null;default:false"`
	Latitude      float64   `json:"lat" gorm:"not null"`
	Longitude     float64   `json:"lng" gorm:"not null"`
	LastSeen      time.Time `json:"lastSeen"`
	CurrentRideID *uint     `json:"currentRideId,omitempty"`

	VehicleClass VehicleClass `json:"vehicleClass" gorm:"not null;default:'standard'"`

	Rating           float64 `json:"rating" gorm:"not null;default:5"`
	RatingCount      int     `json:"ratingCount" gorm:"not null;default:0"`
	AcceptanceRate   float64 `json:"acceptanceRate" gorm:"not null;default:1"`
	CancellationRate float64 `json:"cancellationRate" gorm:"not null;default:0"`
	OffersReceived   int     `json:"offersReceived" gorm:"not null;default:0"`
	OffersAccepted   int     `json:"offersAccepted" gorm:"not null;default:0"`
	RidesCancelled   int     `json:"ridesCancelled" gorm:"not null;default:0"`
	CompletedRides   int     `json:"completedRides" gorm:"not null;default:0"`

	Driver *User `json:"driver,omitempty" gorm:"foreignKey:DriverID"`
}

// TableName specifies the table name
func (DriverAvailability) TableName() string {
	return "driver_availability"
}

// Assigned reports whether the driver is currently on a ride.
func (d *DriverAvailability) Assigned() bool {
	return d.CurrentRideID != nil
}

// RecordRating folds a new 1..5 rating into the rolling average.
func (d *DriverAvailability) RecordRating(rating float64) {
	total := d.Rating*float64(d.RatingCount) + rating
	d.RatingCount++
	d.Rating = total / float64(d.RatingCount)
}

// RecordOffer updates the acceptance rate after an offer was answered.
func (d *DriverAvailability) RecordOffer(accepted bool) {
	d.OffersReceived++
	if accepted {
		d.OffersAccepted++
	}
	d.AcceptanceRate = float64(d.OffersAccepted) / float64(d.OffersReceived)
}

// RecordCancellation updates the cancellation rate after the driver bailed on
// an assigned ride.
func (d *DriverAvailability) RecordCancellation() {
	d.RidesCancelled++
	taken := d.CompletedRides + d.RidesCancelled
	d.CancellationRate = float64(d.RidesCancelled) / float64(taken)
}

// RecordCompletion updates the rolling stats after a finished trip.
func (d *DriverAvailability) RecordCompletion() {
	d.CompletedRides++
	taken := d.CompletedRides + d.RidesCancelled
	d.CancellationRate = float64(d.RidesCancelled) / float64(taken)
}
