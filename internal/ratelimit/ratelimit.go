// Package ratelimit enforces a request budget per caller and window.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// fixedWindow increments the counter and starts the window on first hit.
// A key that lost its TTL gets one again so it cannot block forever.
var fixedWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// Redis is a fixed-window counter shared by every instance.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedis(rdb redis.UniversalClient, prefix string, limit int, window time.Duration) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := fixedWindow.Run(ctx, r.rdb, []string{r.prefix + ":" + key}, r.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit: unexpected script result %v", res)
	}
	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond

	d := Decision{Allowed: count <= r.limit, Limit: r.limit, Remaining: r.limit - count}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d, nil
}

type visitor struct {
	limiter *rate.Limiter
	start   time.Time
	last    time.Time
}

// Memory is a per-process fixed window per key, the same budget the Redis
// script enforces. Used when Redis is not configured.
//
// Each window gets a fresh bucket of limit tokens that refills at one token
// per window, so less than one token comes back before the window ends and
// at most limit requests are admitted inside it.
type Memory struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    int
	window   time.Duration
	now      func() time.Time
}

func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{visitors: make(map[string]*visitor), limit: limit, window: window, now: time.Now}
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	v, ok := m.visitors[key]
	if !ok || !now.Before(v.start.Add(m.window)) {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(m.window), m.limit), start: now}
		m.visitors[key] = v
	}
	v.last = now

	d := Decision{Limit: m.limit}
	if v.limiter.AllowN(now, 1) {
		d.Allowed = true
		d.Remaining = max(int(v.limiter.TokensAt(now)), 0)
		return d, nil
	}
	d.RetryAfter = v.start.Add(m.window).Sub(now)
	return d, nil
}

// Sweep drops keys idle for longer than idle.
func (m *Memory) Sweep(idle time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-idle)
	for k, v := range m.visitors {
		if v.last.Before(cutoff) {
			delete(m.visitors, k)
		}
	}
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Memory) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep(idle)
		}
	}
}
