package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	l := New(Config{Interval: 100 * time.Millisecond, Burst: 1})
	ctx := context.Background()

	var mu sync.Mutex
	var delays []string
	l.OnDelay = func(host string, _ time.Duration) {
		mu.Lock()
		delays = append(delays, host)
		mu.Unlock()
	}

	if err := l.Wait(ctx, "http://tracker.example/fotopedia/request"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "http://tracker.example/fotopedia/request"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(delays) != 1 || delays[0] != "tracker.example" {
		t.Errorf("expected one observed delay for tracker.example, got %v", delays)
	}
}

func TestLimiter_DifferentHosts(t *testing.T) {
	l := New(Config{Interval: time.Second, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.example/1"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://b.example/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("host B blocked unexpectedly")
	}
}

func TestLimiter_Unpaced(t *testing.T) {
	l := New(Config{})
	for range 50 {
		if err := l.Wait(context.Background(), "http://x/"); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLimiter_PenalizeHonoursContext(t *testing.T) {
	l := New(Config{Interval: 10 * time.Millisecond, Burst: 1})
	l.Penalize("http://tracker.example/", time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "http://tracker.example/request"); err == nil {
		t.Fatal("expected wait to fail while penalized")
	}
}
