package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const redisKeyPrefix = "ealtrack:lock:"

// RedisLocker shares record locks between server replicas.
type RedisLocker struct {
	client *redis.Client
	locker *redislock.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRedisLocker(addr string, password string, db int, ttl time.Duration, logger *logrus.Logger) *RedisLocker {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &RedisLocker{client: client, locker: redislock.New(client), ttl: ttl, logger: logger}
}

func (r *RedisLocker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLocker) Close() error {
	return r.client.Close()
}

func (r *RedisLocker) Acquire(ctx context.Context, keys ...string) (Release, error) {
	keys = normalize(keys)
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), int(r.ttl/(50*time.Millisecond))),
	}

	held := make([]*redislock.Lock, 0, len(keys))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			// The request context may already be cancelled here.
			if err := held[i].Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.logger.WithFields(logrus.Fields{"module": "lock", "key": held[i].Key()}).WithError(err).Warn("failed to release redis lock")
			}
		}
	}

	for _, key := range keys {
		l, err := r.locker.Obtain(ctx, redisKeyPrefix+key, r.ttl, opts)
		if errors.Is(err, redislock.ErrNotObtained) {
			releaseAll()
			return nil, ErrNotObtained
		}
		if err != nil {
			releaseAll()
			return nil, err
		}
		held = append(held, l)
	}
	return releaseAll, nil
}
