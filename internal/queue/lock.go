package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// unlockScript deletes the lock only if it still holds our token, so an
// expired-and-reacquired lock is never released by the old holder.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisLocker provides keyed distributed locks via SET NX PX. Locks are
// token-fenced: release is a no-op when the TTL already expired and someone
// else holds the key.
type RedisLocker struct {
	rdb redis.UniversalClient
}

// NewRedisLocker creates a RedisLocker.
func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

// Acquire attempts to take the lock without blocking. acquired is false when
// another holder has it; release returns the lock when called.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, eris.Wrapf(err, "lock: acquire %s", key)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		if _, err := unlockScript.Run(ctx, l.rdb, []string{key}, token).Int(); err != nil {
			return eris.Wrapf(err, "lock: release %s", key)
		}
		return nil
	}
	return release, true, nil
}

// Holder reports whether the key is currently locked by anyone.
func (l *RedisLocker) Holder(ctx context.Context, key string) (bool, error) {
	n, err := l.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, eris.Wrapf(err, "lock: check %s", key)
	}
	return n > 0, nil
}
