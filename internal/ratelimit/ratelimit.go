// Package ratelimit admits or rejects requests per key within a time window.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"videoinsight/internal/redis"
)

// Limiter decides whether one more request for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Memory is an in-process sliding window limiter.
type Memory struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	hits    map[string][]time.Time
	sweptAt time.Time
}

// NewMemory returns a limiter admitting limit requests per window and key.
// A non-positive limit admits everything.
func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{limit: limit, window: window, now: time.Now, hits: make(map[string][]time.Time)}
}

func (l *Memory) Allow(_ context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-l.window)
	if now.Sub(l.sweptAt) >= l.window {
		l.pruneLocked(cutoff)
		l.sweptAt = now
	}
	queue := l.hits[key]
	idx := 0
	for _, t := range queue {
		if t.After(cutoff) {
			break
		}
		idx++
	}
	queue = queue[idx:]
	if len(queue) >= l.limit {
		l.hits[key] = queue
		return false, nil
	}
	l.hits[key] = append(queue, now)
	return true, nil
}

// pruneLocked drops keys whose newest hit is outside the window.
func (l *Memory) pruneLocked(cutoff time.Time) {
	for key, queue := range l.hits {
		if len(queue) == 0 || !queue[len(queue)-1].After(cutoff) {
			delete(l.hits, key)
		}
	}
}

// Keys reports how many keys currently hold a window.
func (l *Memory) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// Forget drops the window for key.
func (l *Memory) Forget(key string) {
	l.mu.Lock()
	delete(l.hits, key)
	l.mu.Unlock()
}

// counter is the subset of the redis wrapper used here.
type counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

var _ counter = (*redis.Client)(nil)

// Redis is a fixed window limiter shared by every process pointing at the
// same redis database.
type Redis struct {
	client counter
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return newRedis(client, limit, window)
}

func newRedis(client counter, limit int, window time.Duration) *Redis {
	return &Redis{client: client, prefix: "videoinsight:ratelimit:", limit: limit, window: window, now: time.Now}
}

func (l *Redis) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	slot := l.now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, key, slot)
	n, err := l.client.IncrWindow(ctx, redisKey, l.window)
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	return n <= int64(l.limit), nil
}
