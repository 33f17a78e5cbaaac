package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/KeyMed-Intelligence/internal/application/importing"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

var ErrLockNotHeld = errors.New(errors.ErrCodeConflict, "lock not held by this owner")

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Locker hands out SET NX locks so that only one replica confirms a session
// at a time.  It implements importing.Locker.
type Locker struct {
	client *Client
	logger logging.Logger
}

func NewLocker(client *Client, log logging.Logger) *Locker {
	return &Locker{client: client, logger: logging.OrNop(log).Named("redis-lock")}
}

// Acquire takes key for ttl without waiting.  A held key yields
// errors.ErrCodeSessionBusy.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (importing.Lock, error) {
	m := &Mutex{client: l.client, key: l.client.Key("lock:" + key), value: uuid.NewString(), logger: l.logger}
	ok, err := l.client.SetNX(ctx, m.key, m.value, ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "failed to set lock")
	}
	if !ok {
		return nil, errors.New(errors.ErrCodeSessionBusy, "import session is busy").WithDetail(key)
	}
	return m, nil
}

// Mutex is one held lock, identified by a random owner value.
type Mutex struct {
	client *Client
	key    string
	value  string
	logger logging.Logger
}

// Release frees the lock if this owner still holds it.  A lock that expired
// and was taken by someone else is left alone.
func (m *Mutex) Release(ctx context.Context) error {
	res, err := m.client.Run(ctx, unlockScript, []string{m.key}, m.value).Int64()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to release lock")
	}
	if res == 0 {
		m.logger.Warn("Lock expired before release", logging.String("key", m.key))
	}
	return nil
}

// Extend pushes the expiry out to ttl.  It fails with ErrLockNotHeld once
// the lock has been lost.
func (m *Mutex) Extend(ctx context.Context, ttl time.Duration) error {
	res, err := m.client.Run(ctx, extendScript, []string{m.key}, m.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to extend lock")
	}
	if res != 1 {
		return ErrLockNotHeld
	}
	return nil
}

//Personal.AI order the ending
