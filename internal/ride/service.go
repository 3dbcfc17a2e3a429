package ride

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ridelink/ridelink-backend/internal/events"
	"github.com/ridelink/ridelink-backend/internal/models"
	"github.com/ridelink/ridelink-backend/internal/notify"
	"github.com/ridelink/ridelink-backend/internal/observability"
	"github.com/ridelink/ridelink-backend/internal/otp"
	"github.com/ridelink/ridelink-backend/internal/store"
	"github.com/ridelink/ridelink-backend/pkg/geomath"
)

// Location is a named point on the map.
type Location struct {
	Lat     float64 `json:"lat" binding:"required"`
	Lng     float64 `json:"lng" binding:"required"`
	Address string  `json:"address" binding:"required"`
}

// OfferResolver is how the lifecycle tells dispatch that an outstanding offer
// was answered or died. Implemented by the dispatch coordinator; a no-op in
// tests that don't exercise dispatch.
type OfferResolver interface {
	// Resolve reports that driverID won the ride. Returns false when no
	// offer was outstanding (dispatch already gave up or never ran).
	Resolve(rideID, driverID uint) bool

	// Invalidate withdraws any outstanding offer, used on cancellation.
	Invalidate(rideID uint)
}

// Service owns every mutation of a ride. All writes go through the store's
// version CAS, so two concurrent transition attempts on the same ride cannot
// both succeed; the loser sees ErrConflict or ErrInvalidTransition after a
// reload.
type Service struct {
	rides    store.RideStore
	drivers  store.DriverStore
	users    store.UserStore
	bus      events.Bus
	otp      *otp.Service
	notifier notify.Notifier
	resolver OfferResolver
	logger   *zap.SugaredLogger

	surge float64
	now   func() time.Time
}

func NewService(
	rides store.RideStore,
	drivers store.DriverStore,
	users store.UserStore,
	bus events.Bus,
	otpSvc *otp.Service,
	notifier notify.Notifier,
	logger *zap.SugaredLogger,
) *Service {
	return &Service{
		rides:    rides,
		drivers:  drivers,
		users:    users,
		bus:      bus,
		otp:      otpSvc,
		notifier: notifier,
		logger:   logger,
		surge:    1.0,
		now:      time.Now,
	}
}

// SetResolver wires the dispatch coordinator in after construction; the
// coordinator needs the service too, so one of them has to come second.
func (s *Service) SetResolver(r OfferResolver) { s.resolver = r }

// SetSurge sets the surge multiplier applied to new quotes.
func (s *Service) SetSurge(m float64) {
	if m >= 1.0 {
		s.surge = m
	}
}

// RequestRide creates a ride in REQUESTED with a quoted fare. A rider with a
// non-terminal ride cannot open another one.
func (s *Service) RequestRide(ctx context.Context, riderID uint, pickup, dropoff Location, class models.VehicleClass) (*models.Ride, error) {
	if _, err := s.rides.ActiveRideForRider(ctx, riderID); err == nil {
		return nil, fmt.Errorf("rider %d: %w", riderID, ErrActiveRide)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	distance := geomath.Distance(pickup.Lat, pickup.Lng, dropoff.Lat, dropoff.Lng)
	duration := geomath.ETA(distance)

	r := &models.Ride{
		RiderID:           riderID,
		PickupLat:         pickup.Lat,
		PickupLng:         pickup.Lng,
		PickupAddr:        pickup.Address,
		DestLat:           dropoff.Lat,
		DestLng:           dropoff.Lng,
		DestAddr:          dropoff.Address,
		Status:            models.StatusRequested,
		VehicleClass:      class,
		Fare:              geomath.Fare(distance, duration, class, s.surge),
		DistanceKm:        distance,
		EstimatedDuration: duration,
		RequestedAt:       s.now(),
	}
	if err := s.rides.CreateRide(ctx, r); err != nil {
		return nil, fmt.Errorf("create ride: %w", err)
	}

	observability.TransitionsTotal.WithLabelValues(string(models.StatusRequested)).Inc()
	s.publishStatus(r, nil)
	return r, nil
}

// AcceptRide resolves the dispatch race: first in wins via the version CAS,
// later acceptors get ErrConflict or ErrInvalidTransition and treat it as
// "offer no longer available".
func (s *Service) AcceptRide(ctx context.Context, rideID, driverID uint) (*models.Ride, error) {
	r, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}

	d, err := s.drivers.GetDriver(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("driver %d: %w", driverID, ErrNotFound)
	}
	if d.Assigned() {
		return nil, fmt.Errorf("driver %d: %w", driverID, ErrActiveRide)
	}
	// A driver who went offline after the offer went out must not end up
	// assigned while invisible to dispatch.
	if !d.Online {
		return nil, fmt.Errorf("driver %d offline: %w", driverID, ErrConflict)
	}

	r.DriverID = &driverID
	actor := models.Actor{ID: driverID, Role: models.RoleDriver}
	if err := Transition(r, models.StatusAccepted, actor, s.now()); err != nil {
		return nil, err
	}
	if err := s.updateRide(ctx, r); err != nil {
		return nil, err
	}

	d.CurrentRideID = &r.ID
	d.RecordOffer(true)
	if err := s.drivers.SaveDriver(ctx, d); err != nil {
		s.logger.Errorw("driver bookkeeping after accept", "driver", driverID, "err", err)
	}

	if s.resolver != nil {
		s.resolver.Resolve(rideID, driverID)
	}

	eta := geomath.ETA(geomath.Distance(d.Latitude, d.Longitude, r.PickupLat, r.PickupLng))
	s.publishStatus(r, map[string]any{"driverId": driverID, "etaMinutes": eta})
	return r, nil
}

// MarkArrived records the assigned driver reaching the pickup point.
func (s *Service) MarkArrived(ctx context.Context, rideID, driverID uint) (*models.Ride, error) {
	r, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	actor := models.Actor{ID: driverID, Role: models.RoleDriver}
	if err := Transition(r, models.StatusDriverArrived, actor, s.now()); err != nil {
		return nil, err
	}
	if err := s.updateRide(ctx, r); err != nil {
		return nil, err
	}
	s.publishStatus(r, nil)
	return r, nil
}

// IssueStartOtp moves the ride into OTP_PENDING and sends the rider a fresh
// passcode over the delivery channel. Only the code's hash touches the ride
// record, and the fabric only carries an issued marker.
func (s *Service) IssueStartOtp(ctx context.Context, rideID uint, actor models.Actor) (*models.Ride, error) {
	r, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}

	rider, err := s.users.GetUser(ctx, r.RiderID)
	if err != nil {
		return nil, fmt.Errorf("rider %d: %w", r.RiderID, ErrNotFound)
	}

	code, err := s.otp.Issue(ctx, rider.PhoneNumber, r.ID)
	if err != nil {
		return nil, fmt.Errorf("issue otp: %w", err)
	}

	r.OtpCodeHash = otp.HashCode(code)
	if err := Transition(r, models.StatusOtpPending, actor, s.now()); err != nil {
		s.otp.Invalidate(ctx, rider.PhoneNumber, r.ID)
		return nil, err
	}
	if err := s.updateRide(ctx, r); err != nil {
		s.otp.Invalidate(ctx, rider.PhoneNumber, r.ID)
		return nil, err
	}

	// Best effort: a failed SMS never blocks the lifecycle.
	go func() {
		dctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		msg := fmt.Sprintf("Your RideLink pickup code is %s. It expires in 10 minutes.", code)
		if err := s.notifier.Deliver(dctx, rider.PhoneNumber, msg); err != nil {
			s.logger.Warnw("otp delivery failed", "ride", r.ID, "err", err)
		}
	}()

	s.publishStatus(r, nil)
	s.bus.Publish(events.RideChannel(r.ID), events.Event{
		Type:      events.TypeOtpIssued,
		RideID:    r.ID,
		Status:    r.Status,
		Timestamp: s.now(),
	})
	return r, nil
}

// VerifyOtp checks the passcode and, on success, starts the trip. A verified
// code is consumed and can never verify again.
func (s *Service) VerifyOtp(ctx context.Context, rideID uint, code string, actor models.Actor) (*models.Ride, error) {
	r, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusOtpPending {
		return nil, fmt.Errorf("%s -> %s: %w", r.Status, models.StatusInProgress, ErrInvalidTransition)
	}

	rider, err := s.users.GetUser(ctx, r.RiderID)
	if err != nil {
		return nil, fmt.Errorf("rider %d: %w", r.RiderID, ErrNotFound)
	}

	if err := s.otp.Verify(ctx, rider.PhoneNumber, r.ID, code); err != nil {
		return nil, mapOtpErr(err)
	}

	now := s.now()
	if err := Transition(r, models.StatusInProgress, actor, now); err != nil {
		return nil, err
	}
	r.OtpVerified = true
	r.OtpVerifiedBy = string(actor.Role)
	r.OtpVerifiedAt = &now
	if err := s.updateRide(ctx, r); err != nil {
		return nil, err
	}

	s.publishStatus(r, nil)
	return r, nil
}

// CompleteRide finishes the trip and reprices it from actuals at zero surge.
func (s *Service) CompleteRide(ctx context.Context, rideID, driverID uint, actualDistanceKm float64, actualDurationMin int) (*models.Ride, error) {
	r, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	actor := models.Actor{ID: driverID, Role: models.RoleDriver}
	if err := Transition(r, models.StatusCompleted, actor, s.now()); err != nil {
		return nil, err
	}
	r.DistanceKm = actualDistanceKm
	r.ActualDuration = actualDurationMin
	r.Fare = geomath.Fare(actualDistanceKm, actualDurationMin, r.VehicleClass, 1.0)
	if err := s.updateRide(ctx, r); err != nil {
		return nil, err
	}

	s.freeDriver(ctx, driverID, func(d *models.DriverAvailability) { d.RecordCompletion() })
	s.publishStatus(r, map[string]any{"fare": r.Fare})
	return r, nil
}

// CancelRide tears the ride down from any cancellable state and reports the
// informational penalty. The penalty is never charged here; settlement is an
// external concern.
func (s *Service) CancelRide(ctx context.Context, rideID uint, actor models.Actor, reason string) (*models.Ride, float64, error) {
	r, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, 0, err
	}

	penalty := CancellationPenalty(r, actor.Role)
	assignedDriver := r.DriverID

	if err := Transition(r, models.StatusCancelled, actor, s.now()); err != nil {
		return nil, 0, err
	}
	r.CancelReason = reason
	if err := s.updateRide(ctx, r); err != nil {
		return nil, 0, err
	}

	if s.resolver != nil {
		s.resolver.Invalidate(rideID)
	}
	if assignedDriver != nil {
		s.freeDriver(ctx, *assignedDriver, func(d *models.DriverAvailability) {
			if actor.Role == models.RoleDriver {
				d.RecordCancellation()
			}
		})
	}

	s.publishStatus(r, map[string]any{
		"reason":      reason,
		"cancelledBy": actor.Role,
		"penalty":     penalty,
	})
	return r, penalty, nil
}

// RateRide records one party's post-trip rating. Each side rates exactly
// once; the other side's slot is untouched.
func (s *Service) RateRide(ctx context.Context, rideID uint, actor models.Actor, rating float64, comment string) (*models.Ride, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("rating %.1f out of range: %w", rating, ErrInvalidTransition)
	}

	// Both parties may rate concurrently; retry the CAS once on conflict.
	for attempt := 0; ; attempt++ {
		r, err := s.getRide(ctx, rideID)
		if err != nil {
			return nil, err
		}
		if r.Status != models.StatusCompleted {
			return nil, fmt.Errorf("ride not completed: %w", ErrInvalidTransition)
		}

		switch actor.Role {
		case models.RoleRider:
			if r.RiderID != actor.ID {
				return nil, fmt.Errorf("not this ride's rider: %w", ErrUnauthorized)
			}
			if r.RiderRating != nil {
				return nil, ErrAlreadyRated
			}
			r.RiderRating = &rating
			r.RiderComment = comment
		case models.RoleDriver:
			if !r.AssignedTo(actor.ID) {
				return nil, fmt.Errorf("not this ride's driver: %w", ErrUnauthorized)
			}
			if r.DriverRating != nil {
				return nil, ErrAlreadyRated
			}
			r.DriverRating = &rating
			r.DriverComment = comment
		default:
			return nil, ErrUnauthorized
		}

		err = s.rides.UpdateRide(ctx, r)
		if err == nil {
			if actor.Role == models.RoleRider && r.DriverID != nil {
				s.recordDriverRating(ctx, *r.DriverID, rating)
			}
			return r, nil
		}
		if errors.Is(err, store.ErrVersionConflict) && attempt == 0 {
			continue
		}
		return nil, mapStoreErr(err)
	}
}

// GetRide returns the ride if the caller is a party to it.
func (s *Service) GetRide(ctx context.Context, rideID uint, actor models.Actor) (*models.Ride, error) {
	r, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case models.RoleSystem:
	case models.RoleRider:
		if r.RiderID != actor.ID {
			return nil, ErrUnauthorized
		}
	case models.RoleDriver:
		if !r.AssignedTo(actor.ID) {
			return nil, ErrUnauthorized
		}
	}
	return r, nil
}

// History lists the caller's rides, newest first.
func (s *Service) History(ctx context.Context, actor models.Actor, limit, offset int) ([]models.Ride, error) {
	if limit < 1 || limit > 100 {
		limit = 10
	}
	return s.rides.RidesForUser(ctx, actor.ID, actor.Role, limit, offset)
}

func (s *Service) getRide(ctx context.Context, id uint) (*models.Ride, error) {
	r, err := s.rides.GetRide(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return r, nil
}

func (s *Service) updateRide(ctx context.Context, r *models.Ride) error {
	if err := s.rides.UpdateRide(ctx, r); err != nil {
		return mapStoreErr(err)
	}
	observability.TransitionsTotal.WithLabelValues(string(r.Status)).Inc()
	return nil
}

// freeDriver clears the driver's current ride and applies extra bookkeeping.
func (s *Service) freeDriver(ctx context.Context, driverID uint, mutate func(*models.DriverAvailability)) {
	d, err := s.drivers.GetDriver(ctx, driverID)
	if err != nil {
		s.logger.Errorw("free driver", "driver", driverID, "err", err)
		return
	}
	d.CurrentRideID = nil
	if mutate != nil {
		mutate(d)
	}
	if err := s.drivers.SaveDriver(ctx, d); err != nil {
		s.logger.Errorw("save driver", "driver", driverID, "err", err)
	}
}

func (s *Service) recordDriverRating(ctx context.Context, driverID uint, rating float64) {
	d, err := s.drivers.GetDriver(ctx, driverID)
	if err != nil {
		s.logger.Errorw("record driver rating", "driver", driverID, "err", err)
		return
	}
	d.RecordRating(rating)
	if err := s.drivers.SaveDriver(ctx, d); err != nil {
		s.logger.Errorw("save driver rating", "driver", driverID, "err", err)
	}
}

// publishStatus fans a status change out to the ride channel and both
// parties' identity channels, in commit order.
func (s *Service) publishStatus(r *models.Ride, payload map[string]any) {
	e := events.Event{
		Type:      events.TypeStatusChange,
		RideID:    r.ID,
		Status:    r.Status,
		Timestamp: s.now(),
		Payload:   payload,
	}
	s.bus.Publish(events.RideChannel(r.ID), e)
	s.bus.Publish(events.UserChannel(r.RiderID), e)
	if r.DriverID != nil {
		s.bus.Publish(events.DriverChannel(*r.DriverID), e)
	}
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrVersionConflict):
		observability.ConflictsTotal.Inc()
		return ErrConflict
	default:
		return err
	}
}

func mapOtpErr(err error) error {
	switch {
	case errors.Is(err, otp.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, otp.ErrExpired):
		return ErrExpired
	case errors.Is(err, otp.ErrAttemptsExceeded):
		return ErrAttemptsExceeded
	case errors.Is(err, otp.ErrCodeMismatch):
		return ErrCodeMismatch
	default:
		return err
	}
}
