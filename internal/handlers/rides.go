package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ridelink/ridelink-backend/internal/dispatch"
	"github.com/ridelink/ridelink-backend/internal/match"
	"github.com/ridelink/ridelink-backend/internal/models"
	"github.com/ridelink/ridelink-backend/internal/ride"
)

type RequestRideInput struct {
	Pickup       ride.Location `json:"pickup" binding:"required"`
	Dropoff      ride.Location `json:"dropoff" binding:"required"`
	VehicleClass string        `json:"vehicleClass"`
}

// RequestRide creates the ride and kicks off dispatch in the background; the
// rider hears the outcome over their websocket channel.
func RequestRide(svc *ride.Service, coord *dispatch.Coordinator, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input RequestRideInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		class := models.VehicleClass(input.VehicleClass)
		if class == "" {
			class = models.ClassStandard
		}

		actor := actorFromContext(c)
		r, err := svc.RequestRide(c.Request.Context(), actor.ID, input.Pickup, input.Dropoff, class)
		if err != nil {
			respondErr(c, err)
			return
		}

		go func() {
			// Not tied to the request context: dispatch outlives the
			// HTTP response by design of the offer window.
			if _, err := coord.Dispatch(context.Background(), r); err != nil &&
				!errors.Is(err, ride.ErrNoDriversAvailable) && !errors.Is(err, ride.ErrConflict) {
				logger.Errorw("dispatch failed", "ride", r.ID, "err", err)
			}
		}()

		c.JSON(201, gin.H{"ride": r})
	}
}

type CancelInput struct {
	Reason string `json:"reason"`
}

func CancelRide(svc *ride.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := rideID(c)
		if !ok {
			return
		}
		var input CancelInput
		_ = c.ShouldBindJSON(&input)

		r, penalty, err := svc.CancelRide(c.Request.Context(), id, actorFromContext(c), input.Reason)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(200, gin.H{"ride": r, "penalty": penalty})
	}
}

type VerifyOtpInput struct {
	Code string `json:"code" binding:"required,len=6"`
}

func VerifyOtp(svc *ride.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := rideID(c)
		if !ok {
			return
		}
		var input VerifyOtpInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		r, err := svc.VerifyOtp(c.Request.Context(), id, input.Code, actorFromContext(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(200, gin.H{"ride": r})
	}
}

type RateInput struct {
	Rating  float64 `json:"rating" binding:"required,min=1,max=5"`
	Comment string  `json:"comment"`
}

func RateRide(svc *ride.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := rideID(c)
		if !ok {
			return
		}
		var input RateInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		r, err := svc.RateRide(c.Request.Context(), id, actorFromContext(c), input.Rating, input.Comment)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(200, gin.H{"ride": r})
	}
}

func GetRide(svc *ride.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := rideID(c)
		if !ok {
			return
		}
		r, err := svc.GetRide(c.Request.Context(), id, actorFromContext(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(200, gin.H{"ride": r})
	}
}

func RideHistory(svc *ride.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		rides, err := svc.History(c.Request.Context(), actorFromContext(c), limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(200, gin.H{"rides": rides})
	}
}

// NearbyDrivers previews the drivers a request would reach. No offer is sent.
func NearbyDrivers(matcher *match.Matcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		lat, err1 := strconv.ParseFloat(c.Query("lat"), 64)
		lng, err2 := strconv.ParseFloat(c.Query("lng"), 64)
		if err1 != nil || err2 != nil {
			c.JSON(400, gin.H{"error": "lat and lng query parameters are required"})
			return
		}
		class := models.VehicleClass(c.DefaultQuery("vehicleClass", string(models.ClassStandard)))

		candidates, err := matcher.Rank(c.Request.Context(), lat, lng, class, match.DefaultRadiusKm, actorFromContext(c).ID)
		if err != nil {
			respondErr(c, err)
			return
		}

		out := make([]gin.H, 0, len(candidates))
		for _, cand := range candidates {
			out = append(out, gin.H{
				"driverId":     cand.Driver.DriverID,
				"distanceKm":   cand.DistanceKm,
				"etaMinutes":   cand.EtaMin,
				"rating":       cand.Driver.Rating,
				"vehicleClass": cand.Driver.VehicleClass,
			})
		}
		c.JSON(200, gin.H{"drivers": out})
	}
}

func rideID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(400, gin.H{"error": "Invalid ride id"})
		return 0, false
	}
	return uint(id), true
}
