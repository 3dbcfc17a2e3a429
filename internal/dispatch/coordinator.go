// Package dispatch fans ride offers out to ranked drivers and waits for the
// first acceptance. It never decides who won: acceptance is settled by the
// ride store's version CAS, and dispatch only learns the outcome through the
// OfferResolver callbacks.
package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ridelink/ridelink-backend/internal/events"
	"github.com/ridelink/ridelink-backend/internal/match"
	"github.com/ridelink/ridelink-backend/internal/models"
	"github.com/ridelink/ridelink-backend/internal/observability"
	"github.com/ridelink/ridelink-backend/internal/ride"
	"github.com/ridelink/ridelink-backend/internal/store"
)

// DefaultOfferWindow is how long one fan-out round waits for an acceptance.
const DefaultOfferWindow = 45 * time.Second

// Coordinator runs the offer rounds for freshly requested rides. One round at
// the default radius, then one escalated round, then the rider is told no
// drivers are available and the ride stays REQUESTED.
type Coordinator struct {
	matcher *match.Matcher
	rides   store.RideStore
	bus     events.Bus
	tracker *OfferTracker
	logger  *zap.SugaredLogger

	offerWindow time.Duration
}

func NewCoordinator(matcher *match.Matcher, rides store.RideStore, bus events.Bus, logger *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		matcher:     matcher,
		rides:       rides,
		bus:         bus,
		tracker:     NewOfferTracker(),
		logger:      logger,
		offerWindow: DefaultOfferWindow,
	}
}

// SetOfferWindow overrides the per-round acceptance window.
func (c *Coordinator) SetOfferWindow(d time.Duration) {
	if d > 0 {
		c.offerWindow = d
	}
}

// Resolve implements ride.OfferResolver.
func (c *Coordinator) Resolve(rideID, driverID uint) bool {
	return c.tracker.Resolve(rideID, driverID)
}

// Invalidate implements ride.OfferResolver.
func (c *Coordinator) Invalidate(rideID uint) {
	c.tracker.Invalidate(rideID)
}

// Dispatch runs the full offer flow for r. Call it in its own goroutine; it
// blocks for up to two offer windows. Returns the winning driver id, or
// ride.ErrNoDriversAvailable when both rounds come up empty.
func (c *Coordinator) Dispatch(ctx context.Context, r *models.Ride) (uint, error) {
	radii := []float64{match.DefaultRadiusKm, match.EscalatedRadiusKm}
	for i, radius := range radii {
		winner, err := c.round(ctx, r, radius)
		if err != nil {
			return 0, err
		}
		if winner != 0 {
			observability.DispatchOutcomes.WithLabelValues("accepted").Inc()
			return winner, nil
		}

		// An acceptance can win the ride CAS in the same instant the
		// window closes, in which case its Resolve found the round
		// already gone. Reload before widening the search or telling
		// the rider nobody came.
		if current, err := c.rides.GetRide(ctx, r.ID); err == nil {
			if current.Status == models.StatusAccepted && current.DriverID != nil {
				observability.DispatchOutcomes.WithLabelValues("accepted").Inc()
				return *current.DriverID, nil
			}
			if current.Status != models.StatusRequested {
				observability.DispatchOutcomes.WithLabelValues("cancelled").Inc()
				return 0, ride.ErrConflict
			}
		}

		if i == 0 {
			observability.DispatchOutcomes.WithLabelValues("escalated").Inc()
			c.logger.Infow("no acceptance, widening search", "ride", r.ID, "radiusKm", radii[1])
		}
	}

	observability.DispatchOutcomes.WithLabelValues("no_drivers").Inc()
	c.bus.Publish(events.UserChannel(r.RiderID), events.Event{
		Type:      events.TypeNoDrivers,
		RideID:    r.ID,
		Status:    r.Status,
		Timestamp: time.Now(),
	})
	return 0, ride.ErrNoDriversAvailable
}

// round fans offers to every candidate inside radius and waits one window.
// Returns 0 with a nil error when nobody accepted in time.
func (c *Coordinator) round(ctx context.Context, r *models.Ride, radius float64) (uint, error) {
	candidates, err := c.matcher.Rank(ctx, r.PickupLat, r.PickupLng, r.VehicleClass, radius, r.RiderID)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	p := c.tracker.open(r.ID)
	defer c.tracker.close(r.ID)

	offered := make([]uint, 0, len(candidates))
	for _, cand := range candidates {
		c.bus.Publish(events.DriverChannel(cand.Driver.DriverID), events.Event{
			Type:      events.TypeRideOffer,
			RideID:    r.ID,
			Status:    r.Status,
			Timestamp: time.Now(),
			Payload: map[string]any{
				"pickupLat":     r.PickupLat,
				"pickupLng":     r.PickupLng,
				"pickupAddress": r.PickupAddr,
				"destAddress":   r.DestAddr,
				"vehicleClass":  r.VehicleClass,
				"fareEstimate":  r.Fare.Total,
				"distanceKm":    cand.DistanceKm,
				"etaMinutes":    cand.EtaMin,
				"score":         cand.Score,
				"expiresInSec":  int(c.offerWindow.Seconds()),
			},
		})
		offered = append(offered, cand.Driver.DriverID)
		observability.OffersSent.Inc()
	}
	c.logger.Infow("offers sent", "ride", r.ID, "radiusKm", radius, "drivers", len(offered))

	timer := time.NewTimer(c.offerWindow)
	defer timer.Stop()

	select {
	case winner := <-p.winner:
		if winner == 0 {
			// Withdrawn (ride cancelled while offers were out).
			c.retract(r.ID, offered, 0)
			observability.DispatchOutcomes.WithLabelValues("cancelled").Inc()
			return 0, ride.ErrConflict
		}
		c.retract(r.ID, offered, winner)
		return winner, nil
	case <-timer.C:
		c.retract(r.ID, offered, 0)
		return 0, nil
	case <-ctx.Done():
		c.retract(r.ID, offered, 0)
		return 0, ctx.Err()
	}
}

// retract tells every losing driver the offer is gone.
func (c *Coordinator) retract(rideID uint, offered []uint, winner uint) {
	for _, id := range offered {
		if id == winner {
			continue
		}
		c.bus.Publish(events.DriverChannel(id), events.Event{
			Type:      events.TypeRideTaken,
			RideID:    rideID,
			Timestamp: time.Now(),
		})
	}
}
