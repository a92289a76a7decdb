package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/mailtrack/internal/lock"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL = 5 * time.Second
	backoffStep    = 10 * time.Millisecond
	backoffMax     = 100 * time.Millisecond
	keyPrefix      = "mailtrack:lock:"
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ lock.Locker = (*RedisLocker)(nil)

// RedisLocker is a short-lived advisory lock backed by SET NX PX. A waiter
// gives up after one TTL, which is also the longest a crashed holder can keep
// the key.
type RedisLocker struct {
	client *goredis.Client
	ttl    time.Duration
	token  func() string
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisLocker(client *goredis.Client, ttl time.Duration) (*RedisLocker, error) {
	return newRedisLocker(client, ttl, uuid.NewString, sleepWithContext)
}

func newRedisLocker(
	client *goredis.Client,
	ttl time.Duration,
	tokenFn func() string,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if tokenFn == nil {
		tokenFn = uuid.NewString
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisLocker{
		client: client,
		ttl:    ttl,
		token:  tokenFn,
		sleep:  sleepFn,
	}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (lock.ReleaseFunc, error) {
	if l == nil || l.client == nil {
		return nil, fmt.Errorf("locker is not initialized")
	}

	normalizedKey := strings.TrimSpace(key)
	if normalizedKey == "" {
		return nil, fmt.Errorf("lock key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisKey := keyPrefix + normalizedKey
	token := l.token()
	deadline := time.Now().Add(l.ttl)

	backoff := backoffStep
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %q: %w", normalizedKey, err)
		}
		if ok {
			return l.releaser(redisKey, token), nil
		}

		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", lock.ErrNotAcquired, normalizedKey)
		}
		if err := l.sleep(ctx, backoff); err != nil {
			return nil, err
		}

		backoff += backoffStep
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func (l *RedisLocker) releaser(redisKey, token string) lock.ReleaseFunc {
	return func(ctx context.Context) error {
		if ctx == nil {
			ctx = context.Background()
		}
		err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("failed to release lock: %w", err)
		}
		return nil
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
