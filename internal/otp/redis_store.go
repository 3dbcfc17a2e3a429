package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "otp:challenge:"

// expiredRetention keeps a challenge around past its logical TTL so reads can
// distinguish "expired" from "never existed". Redis reaps it afterwards.
const expiredRetention = 24 * time.Hour

// RedisStore keeps challenges in redis as JSON values. The logical TTL lives
// inside the challenge and is checked on read; the redis key expiry is only a
// backstop against abandoned records.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, key string, ch Challenge) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	retain := time.Until(ch.ExpiresAt) + expiredRetention
	return s.client.Set(ctx, redisKeyPrefix+key, data, retain).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (Challenge, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Challenge{}, ErrNotFound
		}
		return Challenge{}, err
	}
	var ch Challenge
	if err := json.Unmarshal([]byte(data), &ch); err != nil {
		return Challenge{}, fmt.Errorf("unmarshal challenge: %w", err)
	}
	return ch, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
