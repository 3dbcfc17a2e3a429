package geo

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisIndex implements Index on Redis GEO commands, one sorted set for the
// whole fleet. Member names are decimal driver IDs.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(client *redis.Client, key string) *RedisIndex {
	if key == "" {
		key = "drivers:geo"
	}
	return &RedisIndex{client: client, key: key}
}

func (r *RedisIndex) Upsert(ctx context.Context, p Position) error {
	return r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Name:      strconv.FormatUint(uint64(p.DriverID), 10),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (r *RedisIndex) Remove(ctx context.Context, driverID uint) error {
	return r.client.ZRem(ctx, r.key, strconv.FormatUint(uint64(driverID), 10)).Err()
}

func (r *RedisIndex) Nearby(ctx context.Context, lat, lng, radiusKm float64) ([]Candidate, error) {
	locs, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lng,
			Latitude:   lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(locs))
	for _, loc := range locs {
		id, err := strconv.ParseUint(loc.Name, 10, 64)
		if err != nil {
			continue // foreign member in the set
		}
		out = append(out, Candidate{
			Position: Position{
				DriverID: uint(id),
				Lat:      loc.Latitude,
				Lng:      loc.Longitude,
			},
			DistanceKm: loc.Dist,
		})
	}
	return out, nil
}
