package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	defaultTTL   = 30 * time.Second
	defaultRetry = 50 * time.Millisecond
	keyPrefix    = "roofquote:lock:"
)

// Deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Extends the key's expiry only while it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker holds locks in Redis so several server processes share them.
//
// Keys expire after ttl so a crashed holder cannot block an estimate forever.
// While a lock is held its expiry is pushed out every ttl/3, so work longer
// than ttl stays exclusive as long as the holder can reach Redis. A holder
// that loses Redis for a full ttl loses the lock and a warning is logged.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	renew  time.Duration
	retry  time.Duration
	log    logrus.FieldLogger
}

// NewRedis returns a RedisLocker. A zero ttl uses 30s.
func NewRedis(client redis.UniversalClient, ttl time.Duration, log logrus.FieldLogger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	renew := ttl / 3
	if renew <= 0 {
		renew = ttl
	}
	return &RedisLocker{client: client, ttl: ttl, renew: renew, retry: defaultRetry, log: log}
}

// Lock polls SET NX PX until it wins or ctx is done.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	entry := r.log.WithField("lock_key", key)
	l := startLease(r.renew, func() error {
		return r.refresh(redisKey, token)
	}, func(err error) {
		entry.WithError(err).Warn("refresh redis lock")
	})

	return func() {
		l.release(func() {
			// The caller's ctx may already be cancelled; release on a fresh one.
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, r.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				entry.WithError(err).Warn("release redis lock")
			}
		})
	}, nil
}

func (r *RedisLocker) refresh(redisKey, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.renew)
	defer cancel()

	n, err := refreshScript.Run(ctx, r.client, []string{redisKey}, token, r.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend %s: %w", redisKey, err)
	}
	if n == 0 {
		return errLeaseLost
	}
	return nil
}
