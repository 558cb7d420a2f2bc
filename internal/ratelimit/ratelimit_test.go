package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemorySlidingWindow(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(2, time.Minute)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	current := base
	l.now = func() time.Time { return current }

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "a"); !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if ok, _ := l.Allow(ctx, "a"); ok {
		t.Fatalf("third request should be rejected")
	}
	if ok, _ := l.Allow(ctx, "b"); !ok {
		t.Fatalf("other keys are independent")
	}

	current = base.Add(61 * time.Second)
	if ok, _ := l.Allow(ctx, "a"); !ok {
		t.Fatalf("window should have slid")
	}

	l.Forget("a")
	if ok, _ := l.Allow(ctx, "a"); !ok {
		t.Fatalf("forgotten key should start fresh")
	}
}

func TestMemoryDropsExpiredKeys(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(1, time.Minute)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	current := base
	l.now = func() time.Time { return current }

	for i := 0; i < 10000; i++ {
		if ok, _ := l.Allow(ctx, fmt.Sprintf("run:%d", i)); !ok {
			t.Fatalf("key %d should be admitted", i)
		}
	}
	if l.Keys() != 10000 {
		t.Fatalf("expected 10000 keys inside the window, got %d", l.Keys())
	}

	current = base.Add(24 * time.Hour)
	if ok, _ := l.Allow(ctx, "run:new"); !ok {
		t.Fatalf("new key should be admitted")
	}
	if got := l.Keys(); got != 1 {
		t.Fatalf("expired keys retained: %d", got)
	}

	l.Forget("run:new")
	if got := l.Keys(); got != 0 {
		t.Fatalf("forgotten key retained: %d", got)
	}
}

func TestMemoryDisabled(t *testing.T) {
	l := NewMemory(0, time.Minute)
	for i := 0; i < 10; i++ {
		if ok, _ := l.Allow(context.Background(), "a"); !ok {
			t.Fatalf("limit 0 must admit everything")
		}
	}
}

type fakeCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Duration
	err     error
}

func (f *fakeCounter) IncrWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	if _, ok := f.expires[key]; !ok {
		f.expires[key] = window
	}
	return f.counts[key], nil
}

func TestRedisFixedWindow(t *testing.T) {
	fc := &fakeCounter{counts: map[string]int64{}, expires: map[string]time.Duration{}}
	l := newRedis(fc, 2, time.Hour)
	l.now = func() time.Time { return time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC) }
	ctx := context.Background()

	results := []bool{}
	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "1.2.3.4")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		results = append(results, ok)
	}
	if !results[0] || !results[1] || results[2] {
		t.Fatalf("unexpected admissions %v", results)
	}
	if len(fc.expires) != 1 {
		t.Fatalf("expected one window key, got %d", len(fc.expires))
	}

	fc.err = errors.New("connection refused")
	if _, err := l.Allow(ctx, "1.2.3.4"); err == nil {
		t.Fatalf("expected redis error to surface")
	}
}
