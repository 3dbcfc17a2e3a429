// Package match ranks eligible drivers for a ride offer.
package match

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ridelink/ridelink-backend/internal/geo"
	"github.com/ridelink/ridelink-backend/internal/models"
	"github.com/ridelink/ridelink-backend/internal/observability"
	"github.com/ridelink/ridelink-backend/internal/store"
	"github.com/ridelink/ridelink-backend/pkg/geomath"
)

// Eligibility floors and ranking knobs.
const (
	DefaultRadiusKm   = 10.0
	EscalatedRadiusKm = 15.0
	MaxCandidates     = 10

	minRating         = 3.5
	minAcceptanceRate = 0.75

	// Experience contribution caps out at this many completed rides.
	experienceCap = 500
)

// Candidate is an eligible driver with the computed offer context.
type Candidate struct {
	Driver     models.DriverAvailability
	DistanceKm float64
	EtaMin     int
	Score      float64
}

// Matcher queries the location index and scores survivors on a 100-point
// scale: proximity 30, rating 30, acceptance rate 20, experience 20.
type Matcher struct {
	index   geo.Index
	drivers store.DriverStore
	logger  *zap.SugaredLogger
}

func NewMatcher(index geo.Index, drivers store.DriverStore, logger *zap.SugaredLogger) *Matcher {
	return &Matcher{index: index, drivers: drivers, logger: logger}
}

// Rank produces the top candidates for a pickup point, best first. The
// requesting rider is excluded so a driver can't be offered their own ride.
func (m *Matcher) Rank(ctx context.Context, pickupLat, pickupLng float64, class models.VehicleClass, radiusKm float64, excludeUser uint) ([]Candidate, error) {
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}

	nearby, err := m.index.Nearby(ctx, pickupLat, pickupLng, radiusKm)
	if err != nil {
		return nil, fmt.Errorf("location index query: %w", err)
	}

	// One pool query instead of a per-candidate lookup. Index entries with
	// no pool record are offline, mid-ride, or stale.
	pool, err := m.drivers.OnlineUnassigned(ctx)
	if err != nil {
		return nil, fmt.Errorf("driver pool query: %w", err)
	}
	byID := make(map[uint]*models.DriverAvailability, len(pool))
	for i := range pool {
		byID[pool[i].DriverID] = &pool[i]
	}

	candidates := make([]Candidate, 0, len(nearby))
	for _, pos := range nearby {
		if pos.DriverID == excludeUser {
			continue
		}
		d, ok := byID[pos.DriverID]
		if !ok {
			continue
		}
		if !eligible(d, class) {
			continue
		}
		candidates = append(candidates, Candidate{
			Driver:     *d,
			DistanceKm: pos.DistanceKm,
			EtaMin:     geomath.ETA(pos.DistanceKm),
			Score:      score(d, pos.DistanceKm, radiusKm),
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}

	if len(candidates) == 0 {
		observability.MatchEmptyTotal.Inc()
	} else {
		observability.MatchesTotal.Inc()
	}
	return candidates, nil
}

func eligible(d *models.DriverAvailability, class models.VehicleClass) bool {
	if !d.Online || d.Assigned() {
		return false
	}
	if d.Rating < minRating {
		return false
	}
	if d.AcceptanceRate < minAcceptanceRate {
		return false
	}
	return models.ClassCompatible(class, d.VehicleClass)
}

// score composes four independently weighted factors into [0,100]:
//   - proximity, 30 points, decaying linearly with distance over the radius
//   - rating, 30 points, proportional to rating/5
//   - acceptance rate, 20 points, proportional
//   - experience, 20 points, proportional to completed rides, capped
func score(d *models.DriverAvailability, distanceKm, radiusKm float64) float64 {
	proximity := 30 * (1 - distanceKm/radiusKm)
	if proximity < 0 {
		proximity = 0
	}
	rating := d.Rating / 5 * 30
	acceptance := d.AcceptanceRate * 20
	completed := float64(d.CompletedRides)
	if completed > experienceCap {
		completed = experienceCap
	}
	experience := completed / experienceCap * 20

	total := proximity + rating + acceptance + experience
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}
	return total
}
