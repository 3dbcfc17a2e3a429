package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ridelink/ridelink-backend/internal/models"
)

// GormStore implements the store interfaces on a gorm-managed Postgres
// database.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateRide(ctx context.Context, r *models.Ride) error {
	if r.Version == 0 {
		r.Version = 1
	}
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *GormStore) GetRide(ctx context.Context, id uint) (*models.Ride, error) {
	var r models.Ride
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// UpdateRide writes the full ride row guarded by the version column. The
// WHERE clause carries the expected version; zero rows affected means a
// concurrent writer already moved the ride on.
func (s *GormStore) UpdateRide(ctx context.Context, r *models.Ride) error {
	expected := r.Version
	r.Version = expected + 1

	res := s.db.WithContext(ctx).
		Model(&models.Ride{}).
		Where("id = ? AND version = ?", r.ID, expected).
		Select("*").
		Omit("id", "created_at").
		Updates(r)
	if res.Error != nil {
		r.Version = expected
		return res.Error
	}
	if res.RowsAffected == 0 {
		r.Version = expected
		return ErrVersionConflict
	}
	return nil
}

func (s *GormStore) ActiveRideForRider(ctx context.Context, riderID uint) (*models.Ride, error) {
	var r models.Ride
	err := s.db.WithContext(ctx).
		Where("rider_id = ? AND status NOT IN (?)", riderID, []models.RideStatus{
			models.StatusCompleted,
			models.StatusCancelled,
		}).
		Order("created_at DESC").
		First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *GormStore) RidesForUser(ctx context.Context, userID uint, role models.ActorRole, limit, offset int) ([]models.Ride, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset)
	if role == models.RoleDriver {
		q = q.Where("driver_id = ?", userID).Preload("Rider")
	} else {
		q = q.Where("rider_id = ?", userID).Preload("Driver")
	}
	var rides []models.Ride
	if err := q.Find(&rides).Error; err != nil {
		return nil, err
	}
	return rides, nil
}

func (s *GormStore) GetDriver(ctx context.Context, driverID uint) (*models.DriverAvailability, error) {
	var d models.DriverAvailability
	err := s.db.WithContext(ctx).Where("driver_id = ?", driverID).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *GormStore) SaveDriver(ctx context.Context, d *models.DriverAvailability) error {
	return s.db.WithContext(ctx).Save(d).Error
}

func (s *GormStore) SaveDriverLocation(ctx context.Context, driverID uint, lat, lng float64, seen time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.DriverAvailability{}).
		Where("driver_id = ?", driverID).
		Updates(map[string]interface{}{"latitude": lat, "longitude": lng, "last_seen": seen})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) SetDriverOnline(ctx context.Context, driverID uint, online bool, seen time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.DriverAvailability{}).
		Where("driver_id = ?", driverID).
		Updates(map[string]interface{}{"online": online, "last_seen": seen})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) OnlineUnassigned(ctx context.Context) ([]models.DriverAvailability, error) {
	var drivers []models.DriverAvailability
	err := s.db.WithContext(ctx).
		Where("online = ? AND current_ride_id IS NULL", true).
		Find(&drivers).Error
	if err != nil {
		return nil, err
	}
	return drivers, nil
}

func (s *GormStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}
