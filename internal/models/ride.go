package models

import (
	"time"

	"gorm.io/gorm"
)

// RideStatus is the authoritative lifecycle state of a ride. Transitions
// between statuses are validated by the lifecycle engine; the raw values are
// what goes over the wire and into the database.
type RideStatus string

const (
	StatusRequested     RideStatus = "REQUESTED"
	StatusAccepted      RideStatus = "ACCEPTED"
	StatusDriverArrived RideStatus = "DRIVER_ARRIVED"
	StatusOtpPending    RideStatus = "OTP_PENDING"
	StatusInProgress    RideStatus = "IN_PROGRESS"
	StatusCompleted     RideStatus = "COMPLETED"
	StatusCancelled     RideStatus = "CANCELLED"
)

// Terminal reports whether no further transition is permitted out of s.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether a ride in this status counts against the
// one-active-ride-per-party rule.
func (s RideStatus) Active() bool {
	return !s.Terminal()
}

// ActorRole identifies who is attempting a lifecycle action.
type ActorRole string

const (
	RoleRider  ActorRole = "rider"
	RoleDriver ActorRole = "driver"
	RoleSystem ActorRole = "system"
)

// Actor is the authenticated identity behind a lifecycle action. The HTTP
// layer fills it in from the session; the core trusts it.
type Actor struct {
	ID   uint
	Role ActorRole
}

// FareBreakdown is the priced decomposition of a ride. Total is already
// rounded to 2 decimal places.
type FareBreakdown struct {
	Base         float64 `json:"base"`
	DistanceFare float64 `json:"distanceFare"`
	TimeFare     float64 `json:"timeFare"`
	Surge        float64 `json:"surge"`
	Total        float64 `json:"total"`
	Currency     string  `json:"currency"`
}

// Ride is one rider-to-driver transportation transaction. Mutations go
// through validated lifecycle transitions only; the Version column is
// compared-and-swapped on every update so concurrent writers to the same ride
// cannot both win.
type Ride struct {
	gorm.Model
	Version uint `json:"version" gorm:"not null;default:1"`

	RiderID  uint  `json:"riderId" gorm:"not null;index"`
	DriverID *uint `json:"driverId,omitempty" gorm:"index"`

	PickupLat  float64 `json:"pickupLat" gorm:"not null"`
	PickupLng  float64 `json:"pickupLng" gorm:"not null"`
	PickupAddr string  `json:"pickupAddress" gorm:"not null"`
	DestLat    float64 `json:"destLat" gorm:"not null"`
	DestLng    float64 `json:"destLng" gorm:"not null"`
	DestAddr   string  `json:"destAddress" gorm:"not null"`

	Status       RideStatus    `json:"status" gorm:"not null;default:'REQUESTED';index"`
	VehicleClass VehicleClass  `json:"vehicleClass" gorm:"not null;default:'standard'"`
	Fare         FareBreakdown `json:"fare" gorm:"embedded;embeddedPrefix:fare_"`

	DistanceKm        float64 `json:"distanceKm"`
	EstimatedDuration int     `json:"estimatedDuration"` // minutes
	ActualDuration    int     `json:"actualDuration"`    // minutes

	// OTP pickup verification sub-record. Only the hash is persisted; the
	// code itself lives in the challenge store until consumed.
	OtpCodeHash   string     `json:"-" gorm:"column:otp_code_hash"`
	OtpVerified   bool       `json:"otpVerified" gorm:"default:false"`
	OtpVerifiedBy string     `json:"otpVerifiedBy,omitempty"`
	OtpVerifiedAt *time.Time `json:"otpVerifiedAt,omitempty"`

	RequestedAt time.Time  `json:"requestedAt"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	ArrivedAt   *time.Time `json:"arrivedAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`

	CancelReason string    `json:"cancelReason,omitempty"`
	CancelledBy  ActorRole `json:"cancelledBy,omitempty"`

	// Post-trip ratings, each settable exactly once.
	RiderRating   *float64 `json:"riderRating,omitempty"`   // rider rating the driver
	RiderComment  string   `json:"riderComment,omitempty"`
	DriverRating  *float64 `json:"driverRating,omitempty"` // driver rating the rider
	DriverComment string   `json:"driverComment,omitempty"`

	Rider  *User `json:"rider,omitempty" gorm:"foreignKey:RiderID"`
	Driver *User `json:"driver,omitempty" gorm:"foreignKey:DriverID"`
}

// TableName specifies the table name
func (Ride) TableName() string {
	return "rides"
}

// AssignedTo reports whether driverID is the driver on this ride.
func (r *Ride) AssignedTo(driverID uint) bool {
	return r.DriverID != nil && *r.DriverID == driverID
}
