// Package ratelimit bounds request rates per identity.
//
// The Redis limiter is the production path: the counter lives outside the process, so
// every replica enforces the same budget. The local limiter only approximates the budget
// per process and is used when Redis is not configured.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrInvalidLimit is returned for a non-positive limit or window
var ErrInvalidLimit = errors.New("rate limit and window must be positive")

func checkLimit(limit int, window time.Duration) error {
	if limit <= 0 || window <= 0 {
		return fmt.Errorf("%w: limit=%d window=%s", ErrInvalidLimit, limit, window)
	}
	return nil
}

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// WindowCounter is satisfied by redisclient.Client
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisLimiter is a fixed-window counter shared by all replicas
type RedisLimiter struct {
	counter WindowCounter
	prefix  string
	limit   int
	window  time.Duration
}

func NewRedisLimiter(counter WindowCounter, prefix string, limit int, window time.Duration) (*RedisLimiter, error) {
	if err := checkLimit(limit, window); err != nil {
		return nil, err
	}
	return &RedisLimiter{counter: counter, prefix: prefix, limit: limit, window: window}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, ttl, err := l.counter.IncrWindow(ctx, fmt.Sprintf("ratelimit:%s:%s", l.prefix, key), l.window)
	if err != nil {
		return Decision{}, err
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d, nil
}

// LocalLimiter keeps one token bucket per key in process memory
type LocalLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    int
	every    rate.Limit
	idleTTL  time.Duration
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter allows limit requests per window with a burst of limit.
func NewLocalLimiter(limit int, window time.Duration) (*LocalLimiter, error) {
	if err := checkLimit(limit, window); err != nil {
		return nil, err
	}
	return &LocalLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		every:    rate.Every(window / time.Duration(limit)),
		idleTTL:  3 * window,
		now:      time.Now,
	}, nil
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.every, l.limit)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	l.mu.Unlock()

	if v.limiter.AllowN(now, 1) {
		return Decision{
			Allowed:   true,
			Limit:     l.limit,
			Remaining: int(math.Floor(v.limiter.TokensAt(now))),
		}, nil
	}

	r := v.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return Decision{Allowed: false, Limit: l.limit, RetryAfter: delay}, nil
}

// Cleanup drops keys idle for longer than three windows
func (l *LocalLimiter) Cleanup() {
	cutoff := l.now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
		}
	}
}

// RunCleanup calls Cleanup on every tick until ctx is done
func (l *LocalLimiter) RunCleanup(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}
