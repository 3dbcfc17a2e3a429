package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ridelink/ridelink-backend/internal/events"
	"github.com/ridelink/ridelink-backend/internal/geo"
	"github.com/ridelink/ridelink-backend/internal/logging"
	"github.com/ridelink/ridelink-backend/internal/match"
	"github.com/ridelink/ridelink-backend/internal/models"
	"github.com/ridelink/ridelink-backend/internal/ride"
	"github.com/ridelink/ridelink-backend/internal/store"
)

type recordingBus struct {
	mu     sync.Mutex
	events map[string][]events.Event
}

func newRecordingBus() *recordingBus {
	return &recordingBus{events: make(map[string][]events.Event)}
}

func (b *recordingBus) Publish(channel string, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[channel] = append(b.events[channel], e)
}

func (b *recordingBus) on(channel string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Event(nil), b.events[channel]...)
}

const (
	pickupLat = 37.7749
	pickupLng = -122.4194
)

func seedDriver(t *testing.T, st *store.MemoryStore, index geo.Index, id uint, km float64) {
	t.Helper()
	lat := pickupLat + km/111.0
	d := models.DriverAvailability{
		DriverID: id, Online: true, Latitude: lat, Longitude: pickupLng,
		VehicleClass: models.ClassStandard, Rating: 4.9, AcceptanceRate: 1,
	}
	if err := st.SaveDriver(context.Background(), &d); err != nil {
		t.Fatalf("SaveDriver: %v", err)
	}
	if err := index.Upsert(context.Background(), geo.Position{
		DriverID: id, Lat: lat, Lng: pickupLng, Updated: time.Now(),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func newCoordinator(t *testing.T) (*Coordinator, *store.MemoryStore, geo.Index, *recordingBus) {
	t.Helper()
	st := store.NewMemoryStore()
	index := geo.NewMemoryIndex()
	bus := newRecordingBus()
	matcher := match.NewMatcher(index, st, logging.NewNop())
	coord := NewCoordinator(matcher, st, bus, logging.NewNop())
	coord.SetOfferWindow(100 * time.Millisecond)
	return coord, st, index, bus
}

func testRide(t *testing.T, st *store.MemoryStore) *models.Ride {
	t.Helper()
	r := &models.Ride{
		RiderID:      1,
		PickupLat:    pickupLat,
		PickupLng:    pickupLng,
		Status:       models.StatusRequested,
		VehicleClass: models.ClassStandard,
	}
	if err := st.CreateRide(context.Background(), r); err != nil {
		t.Fatalf("CreateRide: %v", err)
	}
	return r
}

func TestDispatchDeliversOffersAndSettlesOnAccept(t *testing.T) {
	coord, st, index, bus := newCoordinator(t)
	coord.SetOfferWindow(5 * time.Second)
	seedDriver(t, st, index, 2, 1)
	seedDriver(t, st, index, 3, 2)
	r := testRide(t, st)

	done := make(chan struct{})
	var winner uint
	var dispatchErr error
	go func() {
		defer close(done)
		winner, dispatchErr = coord.Dispatch(context.Background(), r)
	}()

	// Wait for the fan-out to reach both drivers.
	waitFor(t, func() bool {
		return len(bus.on(events.DriverChannel(2))) > 0 && len(bus.on(events.DriverChannel(3))) > 0
	})

	offer := bus.on(events.DriverChannel(2))[0]
	if offer.Type != events.TypeRideOffer || offer.RideID != r.ID {
		t.Fatalf("offer = %+v", offer)
	}
	if offer.Payload["fareEstimate"] == nil || offer.Payload["etaMinutes"] == nil {
		t.Fatalf("offer payload = %+v", offer.Payload)
	}

	if !coord.Resolve(r.ID, 3) {
		t.Fatal("resolve refused")
	}
	<-done

	if dispatchErr != nil || winner != 3 {
		t.Fatalf("winner = %d, err = %v", winner, dispatchErr)
	}

	// The loser hears the retraction; the winner does not.
	waitFor(t, func() bool {
		evs := bus.on(events.DriverChannel(2))
		return len(evs) == 2 && evs[1].Type == events.TypeRideTaken
	})
	for _, e := range bus.on(events.DriverChannel(3)) {
		if e.Type == events.TypeRideTaken {
			t.Fatal("winner received retraction")
		}
	}
}

func TestDispatchSecondResolveLoses(t *testing.T) {
	coord, st, index, bus := newCoordinator(t)
	coord.SetOfferWindow(5 * time.Second)
	seedDriver(t, st, index, 2, 1)
	r := testRide(t, st)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = coord.Dispatch(context.Background(), r)
	}()
	waitFor(t, func() bool { return len(bus.on(events.DriverChannel(2))) > 0 })

	if !coord.Resolve(r.ID, 2) {
		t.Fatal("first resolve refused")
	}
	if coord.Resolve(r.ID, 3) {
		t.Fatal("second resolve won")
	}
	<-done
}

func TestDispatchEscalatesRadius(t *testing.T) {
	coord, st, index, bus := newCoordinator(t)
	coord.SetOfferWindow(5 * time.Second)
	// Outside the default radius, inside the escalated one.
	seedDriver(t, st, index, 2, 12)
	r := testRide(t, st)

	done := make(chan struct{})
	var winner uint
	go func() {
		defer close(done)
		winner, _ = coord.Dispatch(context.Background(), r)
	}()

	// The offer only goes out in the second, widened round.
	waitFor(t, func() bool { return len(bus.on(events.DriverChannel(2))) > 0 })
	coord.Resolve(r.ID, 2)
	<-done

	if winner != 2 {
		t.Fatalf("winner = %d", winner)
	}
}

func TestDispatchNoDrivers(t *testing.T) {
	coord, st, _, bus := newCoordinator(t)
	r := testRide(t, st)

	_, err := coord.Dispatch(context.Background(), r)
	if !errors.Is(err, ride.ErrNoDriversAvailable) {
		t.Fatalf("err = %v, want ErrNoDriversAvailable", err)
	}

	evs := bus.on(events.UserChannel(r.RiderID))
	if len(evs) != 1 || evs[0].Type != events.TypeNoDrivers {
		t.Fatalf("rider events = %+v", evs)
	}
}

func TestDispatchOfferWindowExpires(t *testing.T) {
	coord, st, index, _ := newCoordinator(t)
	seedDriver(t, st, index, 2, 1)
	r := testRide(t, st)

	start := time.Now()
	_, err := coord.Dispatch(context.Background(), r)
	if !errors.Is(err, ride.ErrNoDriversAvailable) {
		t.Fatalf("err = %v, want ErrNoDriversAvailable", err)
	}
	// Two full windows: default round plus escalated round.
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Fatalf("gave up after %v", elapsed)
	}

	// A late acceptance finds no open offer.
	if coord.Resolve(r.ID, 2) {
		t.Fatal("late resolve won")
	}
}

func TestDispatchInvalidate(t *testing.T) {
	coord, st, index, bus := newCoordinator(t)
	coord.SetOfferWindow(5 * time.Second)
	seedDriver(t, st, index, 2, 1)
	r := testRide(t, st)

	done := make(chan struct{})
	var dispatchErr error
	go func() {
		defer close(done)
		_, dispatchErr = coord.Dispatch(context.Background(), r)
	}()
	waitFor(t, func() bool { return len(bus.on(events.DriverChannel(2))) > 0 })

	coord.Invalidate(r.ID)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not stop on invalidate")
	}
	if !errors.Is(dispatchErr, ride.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", dispatchErr)
	}

	// The offered driver hears the retraction.
	waitFor(t, func() bool {
		evs := bus.on(events.DriverChannel(2))
		return len(evs) == 2 && evs[1].Type == events.TypeRideTaken
	})
}

func TestDispatchSeesBoundaryAcceptance(t *testing.T) {
	coord, st, index, bus := newCoordinator(t)
	coord.SetOfferWindow(200 * time.Millisecond)
	seedDriver(t, st, index, 2, 1)
	r := testRide(t, st)

	done := make(chan struct{})
	var winner uint
	var dispatchErr error
	go func() {
		defer close(done)
		winner, dispatchErr = coord.Dispatch(context.Background(), r)
	}()
	waitFor(t, func() bool { return len(bus.on(events.DriverChannel(2))) > 0 })

	// The acceptance wins the ride in the store without settling the
	// offer round, as happens when it lands just as the window closes.
	stored, err := st.GetRide(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("GetRide: %v", err)
	}
	driverID := uint(2)
	stored.Status = models.StatusAccepted
	stored.DriverID = &driverID
	if err := st.UpdateRide(context.Background(), stored); err != nil {
		t.Fatalf("UpdateRide: %v", err)
	}

	<-done
	if dispatchErr != nil || winner != 2 {
		t.Fatalf("winner = %d, err = %v", winner, dispatchErr)
	}
	// No widened round, and the rider is never told nobody came.
	if evs := bus.on(events.UserChannel(r.RiderID)); len(evs) != 0 {
		t.Fatalf("rider events = %+v", evs)
	}
}

func TestDispatchStopsWhenRideCancelled(t *testing.T) {
	coord, st, index, bus := newCoordinator(t)
	coord.SetOfferWindow(200 * time.Millisecond)
	seedDriver(t, st, index, 2, 1)
	r := testRide(t, st)

	done := make(chan struct{})
	var dispatchErr error
	go func() {
		defer close(done)
		_, dispatchErr = coord.Dispatch(context.Background(), r)
	}()
	waitFor(t, func() bool { return len(bus.on(events.DriverChannel(2))) > 0 })

	stored, err := st.GetRide(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("GetRide: %v", err)
	}
	stored.Status = models.StatusCancelled
	if err := st.UpdateRide(context.Background(), stored); err != nil {
		t.Fatalf("UpdateRide: %v", err)
	}

	<-done
	if !errors.Is(dispatchErr, ride.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", dispatchErr)
	}
	if evs := bus.on(events.UserChannel(r.RiderID)); len(evs) != 0 {
		t.Fatalf("rider events = %+v", evs)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
