package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore implements Store on a Redis connection. SETNX with expiry
// provides the atomic set-if-absent the gate's correctness depends on.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SetIfAbsent implements Store using SET NX EX.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, "1", ttl).Result()
}

// AddToSet implements Store using SADD.
func (s *RedisStore) AddToSet(ctx context.Context, set, member string) error {
	return s.client.SAdd(ctx, set, member).Err()
}

// IsMember implements Store using SISMEMBER.
func (s *RedisStore) IsMember(ctx context.Context, set, member string) (bool, error) {
	return s.client.SIsMember(ctx, set, member).Result()
}

// Delete implements Store using DEL.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Connect dials Redis and verifies the connection with a bounded number of
// pings. A sustained failure to reach the store is the caller's cue to exit:
// without it the gate cannot guarantee at-most-once admission.
func Connect(ctx context.Context, addr, password string, db, pingAttempts int, pingBackoff time.Duration, log zerolog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	var err error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		if err = client.Ping(ctx).Err(); err == nil {
			log.Info().Str("addr", addr).Msg("Connected to idempotency store")
			return client, nil
		}
		log.Warn().
			Str("addr", addr).
			Int("attempt", attempt).
			Int("max_attempts", pingAttempts).
			Err(err).
			Msg("Idempotency store unreachable, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pingBackoff):
		}
	}
	return nil, fmt.Errorf("idempotency store unreachable after %d attempts: %w", pingAttempts, err)
}
