package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestFixedWindowRejectsOverMax(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(10*time.Minute, 3, WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		if err := l.Allow("1.2.3.4:/auth/login"); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}
	err := l.Allow("1.2.3.4:/auth/login")
	if err == nil {
		t.Fatal("request over max was admitted")
	}
	retry, ok := RetryAfter(err)
	if !ok {
		t.Fatalf("rejection is not a limiter error: %v", err)
	}
	if retry < 1 || retry > 600 {
		t.Fatalf("retry_after_seconds = %d, want within (0, 600]", retry)
	}
}

func TestWindowResetStartsFreshCounter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(time.Minute, 1, WithClock(func() time.Time { return now }))

	if err := l.Allow("k"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := l.Allow("k"); err == nil {
		t.Fatal("second request in window should be rejected")
	}

	now = now.Add(61 * time.Second)
	if err := l.Allow("k"); err != nil {
		t.Fatalf("request after reset: %v", err)
	}
	if err := l.Allow("k"); err == nil {
		t.Fatal("fresh window should count from 1")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(time.Minute, 1, WithClock(func() time.Time { return now }))

	if err := l.Allow("a:/auth/login"); err != nil {
		t.Fatalf("key a: %v", err)
	}
	if err := l.Allow("b:/auth/login"); err != nil {
		t.Fatalf("key b: %v", err)
	}
	if err := l.Allow("a:/auth/register"); err != nil {
		t.Fatalf("same client, other class: %v", err)
	}
}

func TestConcurrentAllowAdmitsExactlyMax(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	const max = 50
	l := New(time.Minute, max, WithClock(func() time.Time { return now }))

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Allow("shared"); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if admitted != max {
		t.Fatalf("admitted %d requests, want exactly %d", admitted, max)
	}
}

func TestSweepDropsExpiredBuckets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(time.Minute, 1, WithClock(func() time.Time { return now }))
	_ = l.Allow("old")
	now = now.Add(2 * time.Minute)
	l.Sweep()
	l.mu.Lock()
	n := len(l.buckets)
	l.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no buckets after sweep, got %d", n)
	}
}
