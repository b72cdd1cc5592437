// Package lock provides short-lived mutual exclusion keyed by string.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Unlock releases a held lock. Releasing after the TTL has passed is a
// no-op and never frees a lock taken over by someone else.
type Unlock func(ctx context.Context) error

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

// Retry bounds how long Acquire waits for a held lock.
type Retry struct {
	Attempts int
	Delay    time.Duration
}

var DefaultRetry = Retry{Attempts: 50, Delay: 100 * time.Millisecond}

func (r Retry) orDefault() Retry {
	if r.Attempts <= 0 {
		r.Attempts = DefaultRetry.Attempts
	}
	if r.Delay <= 0 {
		r.Delay = DefaultRetry.Delay
	}
	return r
}

func acquireWithRetry(ctx context.Context, retry Retry, try func() (bool, error)) error {
	for attempt := 0; attempt < retry.Attempts; attempt++ {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if attempt == retry.Attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry.Delay):
		}
	}
	return ErrNotAcquired
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis holds locks as SET NX PX keys whose value is a per-holder token.
type Redis struct {
	rdb   redis.UniversalClient
	retry Retry
}

func NewRedis(rdb redis.UniversalClient, retry Retry) *Redis {
	return &Redis{rdb: rdb, retry: retry.orDefault()}
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	token := uuid.NewString()
	err := acquireWithRetry(ctx, r.retry, func() (bool, error) {
		ok, err := r.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return false, fmt.Errorf("redis lock error: %w", err)
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.rdb, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("redis unlock error: %w", err)
		}
		return nil
	}, nil
}

type heldLock struct {
	token   string
	expires time.Time
}

// Memory is an in-process Locker for single-instance deployments and tests.
type Memory struct {
	mu    sync.Mutex
	held  map[string]heldLock
	retry Retry
	now   func() time.Time
}

func NewMemory(retry Retry) *Memory {
	return &Memory{held: make(map[string]heldLock), retry: retry.orDefault(), now: time.Now}
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	token := uuid.NewString()
	err := acquireWithRetry(ctx, m.retry, func() (bool, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		now := m.now()
		if h, ok := m.held[key]; ok && now.Before(h.expires) {
			return false, nil
		}
		m.held[key] = heldLock{token: token, expires: now.Add(ttl)}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if h, ok := m.held[key]; ok && h.token == token {
			delete(m.held, key)
		}
		return nil
	}, nil
}
