// Package geo maintains the driver location index read by the matcher. Each
// driver's own location updates are the only writers, so there is no
// cross-driver contention.
package geo

import (
	"context"
	"sync"
	"time"

	"github.com/ridelink/ridelink-backend/pkg/geomath"
)

// Position is one indexed driver location.
type Position struct {
	DriverID uint
	Lat      float64
	Lng      float64
	Updated  time.Time
}

// Candidate is a position annotated with distance from a query point.
type Candidate struct {
	Position
	DistanceKm float64
}

// Index is the minimal spatial interface required by the matcher.
type Index interface {
	Upsert(ctx context.Context, p Position) error
	Remove(ctx context.Context, driverID uint) error
	Nearby(ctx context.Context, lat, lng, radiusKm float64) ([]Candidate, error)
}

// MemoryIndex is a haversine-scan index. Fine for one node and modest fleets;
// the redis GEO index takes over beyond that.
type MemoryIndex struct {
	mu        sync.RWMutex
	positions map[uint]Position
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{positions: make(map[uint]Position)}
}

func (g *MemoryIndex) Upsert(_ context.Context, p Position) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.Updated.IsZero() {
		p.Updated = time.Now()
	}
	g.positions[p.DriverID] = p
	return nil
}

func (g *MemoryIndex) Remove(_ context.Context, driverID uint) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.positions, driverID)
	return nil
}

func (g *MemoryIndex) Nearby(_ context.Context, lat, lng, radiusKm float64) ([]Candidate, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Candidate, 0, len(g.positions))
	for _, p := range g.positions {
		dist := geomath.Distance(lat, lng, p.Lat, p.Lng)
		if dist <= radiusKm {
			out = append(out, Candidate{Position: p, DistanceKm: dist})
		}
	}
	return out, nil
}
