package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = Retry{Attempts: 3, Delay: 5 * time.Millisecond}

func newRedisLocker(t *testing.T, retry Retry) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedis(rdb, retry), mr
}

func TestRedis_AcquireRelease(t *testing.T) {
	l, mr := newRedisLocker(t, fastRetry)
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "webhook_lock:barion-PAY123", time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("webhook_lock:barion-PAY123"))

	_, err = l.Acquire(ctx, "webhook_lock:barion-PAY123", time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("webhook_lock:barion-PAY123"))

	unlock, err = l.Acquire(ctx, "webhook_lock:barion-PAY123", time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}

func TestRedis_ReleaseDoesNotFreeOthersLock(t *testing.T) {
	l, mr := newRedisLocker(t, fastRetry)
	ctx := context.Background()

	staleUnlock, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	freshUnlock, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	require.NoError(t, staleUnlock(ctx))
	assert.True(t, mr.Exists("k"))

	require.NoError(t, freshUnlock(ctx))
	assert.False(t, mr.Exists("k"))
}

func TestRedis_WaitsForRelease(t *testing.T) {
	l, _ := newRedisLocker(t, Retry{Attempts: 100, Delay: 5 * time.Millisecond})
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "k", 5*time.Second)
	require.NoError(t, err)
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = unlock(ctx)
	}()

	second, err := l.Acquire(ctx, "k", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, second(ctx))
}

func TestMemory_MutualExclusion(t *testing.T) {
	l := NewMemory(Retry{Attempts: 1000, Delay: time.Millisecond})
	ctx := context.Background()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Acquire(ctx, "k", time.Minute)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			_ = unlock(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
}

func TestMemory_ExpiredLockCanBeTaken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemory(Retry{Attempts: 1, Delay: time.Millisecond})
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	_, err = l.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired)

	now = now.Add(2 * time.Second)
	fresh, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	_, err = l.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired)
	require.NoError(t, fresh(ctx))
}

func TestAcquire_HonoursContext(t *testing.T) {
	l := NewMemory(Retry{Attempts: 1000, Delay: 10 * time.Millisecond})
	_, err := l.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
