package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ridelink", Name: "matches_total",
		Help: "Total matcher invocations that produced at least one candidate",
	})
	MatchEmptyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ridelink", Name: "matches_empty_total",
		Help: "Total matcher invocations that produced no candidates",
	})
	DispatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridelink", Name: "dispatch_outcomes_total",
		Help: "Dispatch attempts by outcome",
	}, []string{"outcome"}) // accepted, escalated, no_drivers, cancelled
	OffersSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ridelink", Name: "offers_sent_total",
		Help: "Ride offers fanned out to driver channels",
	})
	OtpVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridelink", Name: "otp_verifications_total",
		Help: "OTP verification attempts by result",
	}, []string{"result"}) // ok, mismatch, expired, exhausted, missing
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridelink", Name: "ride_transitions_total",
		Help: "Committed ride status transitions",
	}, []string{"to"})
	ConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ridelink", Name: "ride_conflicts_total",
		Help: "Ride updates lost to the version CAS",
	})
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ridelink", Name: "ws_connected_clients",
		Help: "Currently connected websocket clients",
	})
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridelink", Name: "events_published_total",
		Help: "Events published on the fabric by type",
	}, []string{"type"})
	LocationPings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ridelink", Name: "location_pings_total",
		Help: "Driver location updates received",
	})
)
