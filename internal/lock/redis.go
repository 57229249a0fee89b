package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
    if redis.call('GET', KEYS[1]) == ARGV[1] then
        return redis.call('DEL', KEYS[1])
    end
    return 0
`)

// RedisLocker is a token lock shared by every API instance pointing at the same Redis.
type RedisLocker struct {
	client    *redis.Client
	prefix    string
	retryWait time.Duration
	logger    zerolog.Logger
}

func NewRedisLocker(client *redis.Client, logger *zerolog.Logger) *RedisLocker {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "redis_lock").Logger()
	}
	return &RedisLocker{
		client:    client,
		prefix:    "lock:",
		retryWait: 25 * time.Millisecond,
		logger:    l,
	}
}

// Lock polls SET NX until it wins or ctx ends. The key expires after ttl
// so a crashed holder cannot wedge the slot.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}

	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-timer.C:
		}
	}

	return func() {
		// release must not depend on the caller's ctx, which may already be done
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("failed to release lock")
		}
	}, nil
}
