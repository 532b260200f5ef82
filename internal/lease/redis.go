package lease

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Commander is the slice of the go-redis client the locker needs.
type Commander interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// releaseScript deletes the lease only while it still holds the
// caller's token. The check and the delete run as one script, so a
// lease that expired and was re-acquired in between is never freed.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0`)

// RedisLocker implements Locker as a TTL'd Redis lease (SET NX PX). The
// TTL bounds how long a crashed holder can wedge a duel; release checks
// lease ownership so an expired holder cannot free a successor's lock.
type RedisLocker struct {
	client Commander
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisLocker wires a Redis client into a locker.
func NewRedisLocker(client Commander, ttl time.Duration, logger zerolog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "redis_lease").Logger(),
	}
}

// TryAcquire claims the key with a unique token if free.
func (r *RedisLocker) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()

	acquired, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		return nil, false, nil
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		freed, err := releaseScript.Run(releaseCtx, r.client, []string{key}, token).Int()
		if err != nil {
			r.logger.Error().Err(err).Str("key", key).Msg("lease release failed")
			return
		}
		if freed == 0 {
			// Lease expired and was re-acquired elsewhere; not ours to free.
			r.logger.Warn().Str("key", key).Msg("lease token mismatch on release")
		}
	}
	return release, true, nil
}

var _ Locker = (*RedisLocker)(nil)
