// Package events is the real-time transport fabric: a publish/subscribe hub
// partitioned into per-user, per-driver and per-ride channels. Within one
// channel, events are delivered in publish order.
package events

import (
	"fmt"
	"time"

	"github.com/ridelink/ridelink-backend/internal/models"
)

// Event types published on the fabric.
const (
	TypeStatusChange   = "status_change"
	TypeRideOffer      = "ride_offer"
	TypeRideTaken      = "ride_taken"
	TypeDriverLocation = "driver_location"
	TypeOtpIssued      = "otp_issued"
	TypeNoDrivers      = "no_drivers_available"
)

// Event is the wire shape for everything on the fabric. Payload varies by
// type: offer details, a location point, an OTP-issued marker. The OTP code
// itself never rides on these channels.
type Event struct {
	Type      string            `json:"type"`
	RideID    uint              `json:"rideId,omitempty"`
	Status    models.RideStatus `json:"status,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]any    `json:"payload,omitempty"`
}

// Bus is what the lifecycle engine publishes on. The websocket hub implements
// it directly; the redis bridge wraps it for cross-node fan-out.
type Bus interface {
	Publish(channel string, e Event)
}

func UserChannel(id uint) string   { return fmt.Sprintf("user:%d", id) }
func DriverChannel(id uint) string { return fmt.Sprintf("driver:%d", id) }
func RideChannel(id uint) string   { return fmt.Sprintf("ride:%d", id) }
