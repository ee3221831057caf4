// Package lock provides per-group advisory locks. They narrow the window
// in which two runs for the same group interleave; they are never relied on
// for correctness.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrNotObtained is returned when a lock is still held by someone else after
// the configured wait.
var ErrNotObtained = errors.New("lock not obtained")

// Release gives a lock back.
type Release func(ctx context.Context) error

// Locker hands out exclusive locks by key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// Key is the lock key of a production group.
func Key(groupID string) string {
	return "castplan:group:" + groupID
}

// MutexMap holds one mutex per key. Unlike sync.Mutex, Lock gives up when
// ctx is done.
type MutexMap struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewMutexMap() *MutexMap {
	return &MutexMap{
		slots: make(map[string]chan struct{}),
	}
}

// Lock blocks until key is free or ctx is done.
func (m *MutexMap) Lock(ctx context.Context, key string) error {
	select {
	case m.slot(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryLock takes key if it is free.
func (m *MutexMap) TryLock(key string) bool {
	select {
	case m.slot(key) <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases key. Unlocking a free key is a no-op.
func (m *MutexMap) Unlock(key string) {
	select {
	case <-m.slot(key):
	default:
	}
}

func (m *MutexMap) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.slots[key]; ok {
		return ch
	}
	ch := make(chan struct{}, 1)
	m.slots[key] = ch
	return ch
}

// Local is an in-process Locker.
type Local struct {
	m    *MutexMap
	wait time.Duration
}

// NewLocal returns a Locker that waits up to wait for a held key. A zero
// wait fails immediately.
func NewLocal(wait time.Duration) *Local {
	return &Local{m: NewMutexMap(), wait: wait}
}

func (l *Local) Acquire(ctx context.Context, key string) (Release, error) {
	if l.wait <= 0 {
		if !l.m.TryLock(key) {
			return nil, ErrNotObtained
		}
		return l.release(key), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()
	if err := l.m.Lock(waitCtx, key); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrNotObtained
	}
	return l.release(key), nil
}

func (l *Local) release(key string) Release {
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { l.m.Unlock(key) })
		return nil
	}
}

// Redis is a Locker shared by every process that talks to the same Redis.
// Locks expire after ttl so a crashed holder cannot block a group forever.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedis wraps a go-redis client.
func NewRedis(rdb redis.Scripter, ttl, wait time.Duration) *Redis {
	return &Redis{client: redislock.New(rdb), ttl: ttl, wait: wait}
}

// DialRedis connects to addr and pings it.
func DialRedis(ctx context.Context, addr string, ttl, wait time.Duration) (*Redis, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedis(rdb, ttl, wait), rdb, nil
}

const redisBackoff = 100 * time.Millisecond

func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	retries := int(r.wait / redisBackoff)
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(redisBackoff), retries),
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.wait+redisBackoff)
	defer cancel()

	l, err := r.client.Obtain(waitCtx, key, r.ttl, opts)
	switch {
	case errors.Is(err, redislock.ErrNotObtained):
		return nil, ErrNotObtained
	case err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
		return nil, ErrNotObtained
	case err != nil:
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := l.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}, nil
}

// Nop never blocks.
type Nop struct{}

func (Nop) Acquire(context.Context, string) (Release, error) {
	return func(context.Context) error { return nil }, nil
}
