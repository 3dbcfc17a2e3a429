package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ridelink/ridelink-backend/internal/events"
	"github.com/ridelink/ridelink-backend/internal/geo"
	"github.com/ridelink/ridelink-backend/internal/ingest"
	"github.com/ridelink/ridelink-backend/internal/observability"
	"github.com/ridelink/ridelink-backend/internal/ride"
	"github.com/ridelink/ridelink-backend/internal/store"
)

type LocationInput struct {
	Lat float64 `json:"lat" binding:"required"`
	Lng float64 `json:"lng" binding:"required"`
}

// UpdateLocation ingests a driver position report: availability record, geo
// index, the ride channel if a trip is underway, and kafka when configured.
func UpdateLocation(drivers store.DriverStore, index geo.Index, bus events.Bus, producer *ingest.Producer, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input LocationInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		driverID := c.GetUint("userId")
		d, err := drivers.GetDriver(c.Request.Context(), driverID)
		if err != nil {
			c.JSON(404, gin.H{"error": "Driver profile not found"})
			return
		}

		// Scoped to the position columns: a ping must never race lifecycle
		// bookkeeping out of the rest of the row.
		now := time.Now()
		if err := drivers.SaveDriverLocation(c.Request.Context(), driverID, input.Lat, input.Lng, now); err != nil {
			c.JSON(500, gin.H{"error": "Failed to save location"})
			return
		}

		if d.Online {
			if err := index.Upsert(c.Request.Context(), geo.Position{
				DriverID: driverID, Lat: input.Lat, Lng: input.Lng, Updated: now,
			}); err != nil {
				logger.Warnw("geo index update failed", "driver", driverID, "err", err)
			}
		}

		// Riders on an active trip see the car move.
		if d.CurrentRideID != nil {
			bus.Publish(events.RideChannel(*d.CurrentRideID), events.Event{
				Type:      events.TypeDriverLocation,
				RideID:    *d.CurrentRideID,
				Timestamp: now,
				Payload:   map[string]any{"driverId": driverID, "lat": input.Lat, "lng": input.Lng},
			})
		}

		if producer != nil {
			if err := producer.Publish(ingest.LocationPing{
				DriverID: driverID, Lat: input.Lat, Lng: input.Lng, Online: d.Online, Timestamp: now,
			}); err != nil {
				logger.Warnw("kafka publish failed", "driver", driverID, "err", err)
			}
		}

		observability.LocationPings.Inc()
		c.JSON(200, gin.H{"status": "ok"})
	}
}

type AvailabilityInput struct {
	Online bool `json:"online"`
}

// SetAvailability flips a driver on or off shift. Going offline removes them
// from the geo index so no further offers reach them.
func SetAvailability(drivers store.DriverStore, index geo.Index, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input AvailabilityInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		driverID := c.GetUint("userId")
		d, err := drivers.GetDriver(c.Request.Context(), driverID)
		if err != nil {
			c.JSON(404, gin.H{"error": "Driver profile not found"})
			return
		}
		if !input.Online && d.Assigned() {
			c.JSON(409, gin.H{"error": "Cannot go offline with an active ride"})
			return
		}

		if err := drivers.SetDriverOnline(c.Request.Context(), driverID, input.Online, time.Now()); err != nil {
			c.JSON(500, gin.H{"error": "Failed to update availability"})
			return
		}

		if !input.Online {
			if err := index.Remove(c.Request.Context(), driverID); err != nil {
				logger.Warnw("geo index remove failed", "driver", driverID, "err", err)
			}
		}

		c.JSON(200, gin.H{"online": input.Online})
	}
}

// AcceptRide is the driver's answer to an offer. A stale answer loses the CAS
// race and comes back as a conflict.
func AcceptRide(svc *ride.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := rideID(c)
		if !ok {
			return
		}
		r, err := svc.AcceptRide(c.Request.Context(), id, c.GetUint("userId"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(200, gin.H{"ride": r})
	}
}

func MarkArrived(svc *ride.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := rideID(c)
		if !ok {
			return
		}
		r, err := svc.MarkArrived(c.Request.Context(), id, c.GetUint("userId"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(200, gin.H{"ride": r})
	}
}

// IssueStartOtp sends a fresh pickup code to the rider's phone.
func IssueStartOtp(svc *ride.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := rideID(c)
		if !ok {
			return
		}
		r, err := svc.IssueStartOtp(c.Request.Context(), id, actorFromContext(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(200, gin.H{"ride": r})
	}
}

type CompleteInput struct {
	DistanceKm  float64 `json:"distanceKm" binding:"required"`
	DurationMin int     `json:"durationMin" binding:"required"`
}

func CompleteRide(svc *ride.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := rideID(c)
		if !ok {
			return
		}
		var input CompleteInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		r, err := svc.CompleteRide(c.Request.Context(), id, c.GetUint("userId"), input.DistanceKm, input.DurationMin)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(200, gin.H{"ride": r, "fare": r.Fare})
	}
}

// DriverStats exposes the driver's own rolling quality numbers.
func DriverStats(drivers store.DriverStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := drivers.GetDriver(c.Request.Context(), c.GetUint("userId"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Driver profile not found"})
			return
		}
		c.JSON(200, gin.H{
			"rating":           d.Rating,
			"ratingCount":      d.RatingCount,
			"acceptanceRate":   d.AcceptanceRate,
			"cancellationRate": d.CancellationRate,
			"completedRides":   d.CompletedRides,
			"online":           d.Online,
			"vehicleClass":     d.VehicleClass,
		})
	}
}
