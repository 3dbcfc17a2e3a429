package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ridelink/ridelink-backend/internal/logging"
	"github.com/ridelink/ridelink-backend/internal/models"
)

func startHub(t *testing.T, userID uint, role models.ActorRole) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(logging.NewNop())
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket(w, r, userID, role)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return e
}

func waitSubscribers(t *testing.T, hub *Hub, channel string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SubscriberCount(channel) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("channel %s never reached %d subscribers", channel, n)
}

func TestIdentityChannelAutoSubscribed(t *testing.T) {
	hub, conn := startHub(t, 7, models.RoleRider)
	waitSubscribers(t, hub, UserChannel(7), 1)

	hub.Publish(UserChannel(7), Event{Type: TypeStatusChange, RideID: 1, Status: models.StatusRequested})

	e := readEvent(t, conn)
	if e.Type != TypeStatusChange || e.RideID != 1 || e.Status != models.StatusRequested {
		t.Fatalf("event = %+v", e)
	}
}

func TestDriverIdentityChannel(t *testing.T) {
	hub, conn := startHub(t, 9, models.RoleDriver)
	waitSubscribers(t, hub, DriverChannel(9), 1)

	hub.Publish(DriverChannel(9), Event{Type: TypeRideOffer, RideID: 3})
	if e := readEvent(t, conn); e.Type != TypeRideOffer {
		t.Fatalf("event = %+v", e)
	}
}

func TestSubscribeControlMessage(t *testing.T) {
	hub, conn := startHub(t, 7, models.RoleRider)
	waitSubscribers(t, hub, UserChannel(7), 1)

	join := controlMessage{Action: "subscribe", Channel: RideChannel(5)}
	if err := conn.WriteJSON(join); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitSubscribers(t, hub, RideChannel(5), 1)

	hub.Publish(RideChannel(5), Event{Type: TypeDriverLocation, RideID: 5})
	if e := readEvent(t, conn); e.Type != TypeDriverLocation || e.RideID != 5 {
		t.Fatalf("event = %+v", e)
	}

	leave := controlMessage{Action: "unsubscribe", Channel: RideChannel(5)}
	if err := conn.WriteJSON(leave); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitSubscribers(t, hub, RideChannel(5), 0)
}

func TestChannelIsolation(t *testing.T) {
	hub, conn := startHub(t, 7, models.RoleRider)
	waitSubscribers(t, hub, UserChannel(7), 1)

	// An event for another user must not reach this client.
	hub.Publish(UserChannel(8), Event{Type: TypeStatusChange, RideID: 2})
	hub.Publish(UserChannel(7), Event{Type: TypeStatusChange, RideID: 3})

	if e := readEvent(t, conn); e.RideID != 3 {
		t.Fatalf("leaked event %+v", e)
	}
}

func TestChannelOrdering(t *testing.T) {
	hub, conn := startHub(t, 7, models.RoleRider)
	waitSubscribers(t, hub, UserChannel(7), 1)

	statuses := []models.RideStatus{
		models.StatusRequested,
		models.StatusAccepted,
		models.StatusDriverArrived,
		models.StatusOtpPending,
		models.StatusInProgress,
		models.StatusCompleted,
	}
	for _, s := range statuses {
		hub.Publish(UserChannel(7), Event{Type: TypeStatusChange, RideID: 1, Status: s})
	}

	for i, want := range statuses {
		if e := readEvent(t, conn); e.Status != want {
			t.Fatalf("event %d status = %s, want %s", i, e.Status, want)
		}
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	hub, conn := startHub(t, 7, models.RoleRider)
	waitSubscribers(t, hub, UserChannel(7), 1)

	conn.Close()
	waitSubscribers(t, hub, UserChannel(7), 0)

	// Publishing to a dead channel must not block or panic.
	hub.Publish(UserChannel(7), Event{Type: TypeStatusChange})
}
