package cache

import (
	"errors"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired means another instance holds the distributed lock.
var ErrLockNotAcquired = errors.New("distributed lock not acquired")

// DistLock is a redsync-backed distributed lock. The poll expiry sweeper
// takes it so only one instance closes expired polls per tick.
type DistLock struct {
	rs *redsync.Redsync
}

// NewDistLock builds a lock service over a connected Redis client. Returns
// nil when no client is available; callers treat a nil lock as
// single-instance mode and run unguarded.
func NewDistLock(client *redis.Client) *DistLock {
	if client == nil {
		return nil
	}
	return &DistLock{rs: redsync.New(goredis.NewPool(client))}
}

// WithLock runs action while holding the named lock, releasing it on return.
func (l *DistLock) WithLock(name string, expiry time.Duration, action func() error) error {
	if l == nil {
		return action()
	}

	mutex := l.rs.NewMutex(name,
		redsync.WithExpiry(expiry),
		redsync.WithTries(1),
		redsync.WithDriftFactor(0.01),
	)
	if err := mutex.Lock(); err != nil {
		return errors.Join(ErrLockNotAcquired, err)
	}
	defer func() {
		_, _ = mutex.Unlock()
	}()

	return action()
}
