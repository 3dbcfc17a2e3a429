package ride

import (
	"errors"
	"testing"
	"time"

	"github.com/ridelink/ridelink-backend/internal/models"
	"github.com/ridelink/ridelink-backend/pkg/geomath"
)

func driverID(id uint) *uint { return &id }

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to models.RideStatus
		want     bool
	}{
		{models.StatusRequested, models.StatusAccepted, true},
		{models.StatusRequested, models.StatusCancelled, true},
		{models.StatusRequested, models.StatusInProgress, false},
		{models.StatusAccepted, models.StatusDriverArrived, true},
		{models.StatusAccepted, models.StatusOtpPending, true},
		{models.StatusAccepted, models.StatusCancelled, true},
		{models.StatusDriverArrived, models.StatusOtpPending, true},
		{models.StatusDriverArrived, models.StatusCancelled, true},
		{models.StatusDriverArrived, models.StatusAccepted, false},
		{models.StatusOtpPending, models.StatusInProgress, true},
		{models.StatusOtpPending, models.StatusCancelled, false},
		{models.StatusInProgress, models.StatusCompleted, true},
		{models.StatusInProgress, models.StatusCancelled, false},
		{models.StatusCompleted, models.StatusCancelled, false},
		{models.StatusCancelled, models.StatusRequested, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTransitionStampsTimestamps(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := &models.Ride{RiderID: 1, DriverID: driverID(2), Status: models.StatusAccepted}

	actor := models.Actor{ID: 2, Role: models.RoleDriver}
	if err := Transition(r, models.StatusDriverArrived, actor, now); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if r.Status != models.StatusDriverArrived {
		t.Fatalf("status = %s", r.Status)
	}
	if r.ArrivedAt == nil || !r.ArrivedAt.Equal(now) {
		t.Fatalf("ArrivedAt = %v, want %v", r.ArrivedAt, now)
	}
}

func TestTransitionFromTerminalFails(t *testing.T) {
	for _, status := range []models.RideStatus{models.StatusCompleted, models.StatusCancelled} {
		r := &models.Ride{RiderID: 1, Status: status}
		err := Transition(r, models.StatusAccepted, models.Actor{ID: 2, Role: models.RoleDriver}, time.Now())
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("from %s: err = %v, want ErrInvalidTransition", status, err)
		}
	}
}

func TestTransitionAuthorization(t *testing.T) {
	now := time.Now()

	t.Run("rider cannot accept", func(t *testing.T) {
		r := &models.Ride{RiderID: 1, Status: models.StatusRequested}
		err := Transition(r, models.StatusAccepted, models.Actor{ID: 1, Role: models.RoleRider}, now)
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("unassigned driver cannot mark arrival", func(t *testing.T) {
		r := &models.Ride{RiderID: 1, DriverID: driverID(2), Status: models.StatusAccepted}
		err := Transition(r, models.StatusDriverArrived, models.Actor{ID: 99, Role: models.RoleDriver}, now)
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("stranger cannot cancel", func(t *testing.T) {
		r := &models.Ride{RiderID: 1, DriverID: driverID(2), Status: models.StatusAccepted}
		err := Transition(r, models.StatusCancelled, models.Actor{ID: 3, Role: models.RoleRider}, now)
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("system bypasses role checks", func(t *testing.T) {
		r := &models.Ride{RiderID: 1, DriverID: driverID(2), Status: models.StatusAccepted}
		if err := Transition(r, models.StatusCancelled, models.Actor{Role: models.RoleSystem}, now); err != nil {
			t.Fatalf("system cancel: %v", err)
		}
		if r.CancelledBy != models.RoleSystem {
			t.Fatalf("CancelledBy = %s", r.CancelledBy)
		}
	})

	t.Run("either party may verify pickup", func(t *testing.T) {
		for _, actor := range []models.Actor{
			{ID: 1, Role: models.RoleRider},
			{ID: 2, Role: models.RoleDriver},
		} {
			r := &models.Ride{RiderID: 1, DriverID: driverID(2), Status: models.StatusOtpPending}
			if err := Transition(r, models.StatusInProgress, actor, now); err != nil {
				t.Fatalf("%s verify: %v", actor.Role, err)
			}
		}
	})
}

func TestCancellationPenalty(t *testing.T) {
	fare := geomath.Fare(10, 20, models.ClassStandard, 1.0)

	cases := []struct {
		name   string
		status models.RideStatus
		by     models.ActorRole
		want   float64
	}{
		{"rider before assignment", models.StatusRequested, models.RoleRider, 0},
		{"rider after acceptance", models.StatusAccepted, models.RoleRider, geomath.Round2(fare.Total * 0.50)},
		{"rider mid trip", models.StatusInProgress, models.RoleRider, geomath.Round2(fare.Total * 0.50)},
		{"rider after arrival", models.StatusDriverArrived, models.RoleRider, 0},
		{"driver after acceptance", models.StatusAccepted, models.RoleDriver, geomath.Round2(fare.Base * 0.25)},
		{"driver after arrival", models.StatusDriverArrived, models.RoleDriver, 0},
		{"system", models.StatusAccepted, models.RoleSystem, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := &models.Ride{Status: c.status, Fare: fare}
			if got := CancellationPenalty(r, c.by); got != c.want {
				t.Errorf("penalty = %.2f, want %.2f", got, c.want)
			}
		})
	}
}
