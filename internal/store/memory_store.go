package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ridelink/ridelink-backend/internal/models"
)

// MemoryStore is an in-memory implementation of the store interfaces with the
// same version-CAS semantics as the gorm one. Used by tests and local runs
// without Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  uint
	rides   map[uint]models.Ride
	drivers map[uint]models.DriverAvailability
	users   map[uint]models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		rides:   make(map[uint]models.Ride),
		drivers: make(map[uint]models.DriverAvailability),
		users:   make(map[uint]models.User),
	}
}

func (m *MemoryStore) CreateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		r.ID = m.nextID
		m.nextID++
	}
	if r.Version == 0 {
		r.Version = 1
	}
	m.rides[r.ID] = cloneRide(r)
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id uint) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneRide(&r)
	return &out, nil
}

func (m *MemoryStore) UpdateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rides[r.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != r.Version {
		return ErrVersionConflict
	}
	r.Version++
	m.rides[r.ID] = cloneRide(r)
	return nil
}

func (m *MemoryStore) ActiveRideForRider(_ context.Context, riderID uint) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rides {
		if r.RiderID == riderID && r.Status.Active() {
			out := cloneRide(&r)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) RidesForUser(_ context.Context, userID uint, role models.ActorRole, limit, offset int) ([]models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rides []models.Ride
	for _, r := range m.rides {
		if role == models.RoleDriver {
			if r.AssignedTo(userID) {
				rides = append(rides, cloneRide(&r))
			}
		} else if r.RiderID == userID {
			rides = append(rides, cloneRide(&r))
		}
	}
	sort.Slice(rides, func(i, j int) bool { return rides[i].CreatedAt.After(rides[j].CreatedAt) })
	if offset >= len(rides) {
		return nil, nil
	}
	rides = rides[offset:]
	if limit > 0 && len(rides) > limit {
		rides = rides[:limit]
	}
	return rides, nil
}

func (m *MemoryStore) GetDriver(_ context.Context, driverID uint) (*models.DriverAvailability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return nil, ErrNotFound
	}
	out := d
	return &out, nil
}

func (m *MemoryStore) SaveDriver(_ context.Context, d *models.DriverAvailability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.DriverID] = *d
	return nil
}

func (m *MemoryStore) SaveDriverLocation(_ context.Context, driverID uint, lat, lng float64, seen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return ErrNotFound
	}
	d.Latitude = lat
	d.Longitude = lng
	d.LastSeen = seen
	m.drivers[driverID] = d
	return nil
}

func (m *MemoryStore) SetDriverOnline(_ context.Context, driverID uint, online bool, seen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return ErrNotFound
	}
	d.Online = online
	d.LastSeen = seen
	m.drivers[driverID] = d
	return nil
}

func (m *MemoryStore) OnlineUnassigned(_ context.Context) ([]models.DriverAvailability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DriverAvailability
	for _, d := range m.drivers {
		if d.Online && d.CurrentRideID == nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetUser(_ context.Context, id uint) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := u
	return &out, nil
}

func (m *MemoryStore) PutUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// cloneRide deep-copies the pointer fields so callers cannot mutate stored
// state behind the lock.
func cloneRide(r *models.Ride) models.Ride {
	out := *r
	if r.DriverID != nil {
		v := *r.DriverID
		out.DriverID = &v
	}
	if r.OtpVerifiedAt != nil {
		v := *r.OtpVerifiedAt
		out.OtpVerifiedAt = &v
	}
	if r.AcceptedAt != nil {
		v := *r.AcceptedAt
		out.AcceptedAt = &v
	}
	if r.ArrivedAt != nil {
		v := *r.ArrivedAt
		out.ArrivedAt = &v
	}
	if r.StartedAt != nil {
		v := *r.StartedAt
		out.StartedAt = &v
	}
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		out.CompletedAt = &v
	}
	if r.CancelledAt != nil {
		v := *r.CancelledAt
		out.CancelledAt = &v
	}
	if r.RiderRating != nil {
		v := *r.RiderRating
		out.RiderRating = &v
	}
	if r.DriverRating != nil {
		v := *r.DriverRating
		out.DriverRating = &v
	}
	out.Rider = nil
	out.Driver = nil
	return out
}
