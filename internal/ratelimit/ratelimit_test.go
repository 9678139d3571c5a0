package ratelimit

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
)

func testConfig(calls int, period time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Default = Limit{Calls: calls, Period: period}
	cfg.MaxInFlight = 64
	cfg.PauseDuration = 200 * time.Millisecond
	cfg.Cooldown = time.Hour
	return cfg
}

func mustWindow(t *testing.T, cfg Config) *Window {
	t.Helper()
	g, err := NewWindow(cfg)
	if err != nil {
		t.Fatalf("failed to create governor: %v", err)
	}
	return g
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"valid", func(*Config) {}, nil},
		{"zero default calls", func(c *Config) { c.Default.Calls = 0 }, ErrInvalidLimit},
		{"bad category period", func(c *Config) { c.Categories["feed"] = Limit{Calls: 1} }, ErrInvalidLimit},
		{"zero in-flight", func(c *Config) { c.MaxInFlight = 0 }, ErrInvalidMaxInFlight},
		{"shrink above one", func(c *Config) { c.ShrinkFactor = 1.5 }, ErrInvalidShrinkFactor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestWindowLimitPlusOne(t *testing.T) {
	t.Parallel()

	const period = 300 * time.Millisecond
	g := mustWindow(t, testConfig(2, period))
	ctx := context.Background()

	start := time.Now()
	var starts []time.Duration
	for range 3 {
		p, err := g.Acquire(ctx, "feed")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		starts = append(starts, time.Since(start))
		p.Release()
	}

	if starts[1] > 50*time.Millisecond {
		t.Errorf("second call should proceed immediately, started at %v", starts[1])
	}
	if starts[2]-starts[0] < period-5*time.Millisecond {
		t.Errorf("third call started %v after the first, want >= %v", starts[2]-starts[0], period)
	}
	if starts[2] > period+150*time.Millisecond {
		t.Errorf("third call started too late: %v", starts[2])
	}
}

func TestWindowConcurrentCallersSerialize(t *testing.T) {
	t.Parallel()

	const period = 150 * time.Millisecond
	g := mustWindow(t, testConfig(1, period))

	var (
		mu     sync.Mutex
		starts []time.Time
		wg     sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := g.Acquire(context.Background(), "likes")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
			p.Release()
		}()
	}
	wg.Wait()

	slices.SortFunc(starts, func(a, b time.Time) int { return a.Compare(b) })
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < period-10*time.Millisecond {
			t.Errorf("starts %d and %d only %v apart, want >= %v", i-1, i, gap, period)
		}
	}
}

func TestWindowCategoriesAreIndependent(t *testing.T) {
	t.Parallel()

	cfg := testConfig(1, time.Hour)
	cfg.Categories["search"] = Limit{Calls: 1, Period: time.Hour}
	g := mustWindow(t, cfg)

	for _, category := range []string{"feed", "search"} {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		p, err := g.Acquire(ctx, category)
		cancel()
		if err != nil {
			t.Fatalf("category %s: unexpected error: %v", category, err)
		}
		p.Release()
	}
}

func TestWindowRemainingIsReadOnly(t *testing.T) {
	t.Parallel()

	g := mustWindow(t, testConfig(3, time.Hour))
	for range 5 {
		if r := g.Remaining("feed"); r != 3 {
			t.Fatalf("expected 3 remaining, got %d", r)
		}
	}
	p, err := g.Acquire(context.Background(), "feed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Release()
	if r := g.Remaining("feed"); r != 2 {
		t.Errorf("expected 2 remaining after one call, got %d", r)
	}
}

func TestWindowCancelledWaiterLeavesQueue(t *testing.T) {
	t.Parallel()

	const period = 200 * time.Millisecond
	g := mustWindow(t, testConfig(1, period))

	p, err := g.Acquire(context.Background(), "feed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := g.Acquire(ctx, "feed"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// The abandoned ticket must not block the next caller.
	done := make(chan error, 1)
	go func() {
		p, err := g.Acquire(context.Background(), "feed")
		if err == nil {
			p.Release()
		}
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * period):
		t.Fatal("next caller was blocked by a cancelled waiter")
	}
}

func TestWindowOnErrorPausesAndShrinks(t *testing.T) {
	t.Parallel()

	g := mustWindow(t, testConfig(4, time.Hour))

	g.OnError(apierr.KindTransientNetworkFailure)
	if g.Paused() != 0 {
		t.Fatal("only rate limiting should pause")
	}

	g.OnError(apierr.KindRateLimited)
	if g.Paused() <= 0 {
		t.Fatal("expected a global pause")
	}
	if r := g.Remaining("feed"); r != 0 {
		t.Errorf("expected 0 remaining while paused, got %d", r)
	}

	start := time.Now()
	p, err := g.Acquire(context.Background(), "other")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Release()
	if waited := time.Since(start); waited < 150*time.Millisecond {
		t.Errorf("expected acquire to wait out the pause, waited %v", waited)
	}

	if r := g.Remaining("feed"); r != 2 {
		t.Errorf("expected capacity halved to 2, got %d", r)
	}
}

func TestWindowCooldownRestoresCapacity(t *testing.T) {
	t.Parallel()

	cfg := testConfig(4, time.Hour)
	cfg.PauseDuration = 10 * time.Millisecond
	cfg.Cooldown = 50 * time.Millisecond
	g := mustWindow(t, cfg)

	g.OnError(apierr.KindRateLimited)
	time.Sleep(150 * time.Millisecond)
	if r := g.Remaining("feed"); r != 4 {
		t.Errorf("expected capacity restored to 4, got %d", r)
	}
}

func TestGlobalInFlightCeiling(t *testing.T) {
	t.Parallel()

	cfg := testConfig(100, time.Second)
	cfg.MaxInFlight = 1

	for name, newGov := range map[string]func(Config) (Governor, error){
		"window": func(c Config) (Governor, error) { return NewWindow(c) },
		"bucket": func(c Config) (Governor, error) { return NewBucket(c) },
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			g, err := newGov(cfg)
			if err != nil {
				t.Fatalf("failed to create governor: %v", err)
			}
			first, err := g.Acquire(context.Background(), "a")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			if _, err := g.Acquire(ctx, "b"); !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("expected second acquire to block, got %v", err)
			}

			first.Release()
			first.Release()
			second, err := g.Acquire(context.Background(), "b")
			if err != nil {
				t.Fatalf("unexpected error after release: %v", err)
			}
			second.Release()
		})
	}
}

func TestBucketBurstThenRefill(t *testing.T) {
	t.Parallel()

	g, err := NewBucket(testConfig(2, 400*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create governor: %v", err)
	}

	if r := g.Remaining("feed"); r != 2 {
		t.Fatalf("expected 2 remaining before use, got %d", r)
	}

	start := time.Now()
	for range 3 {
		p, err := g.Acquire(context.Background(), "feed")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p.Release()
	}
	// Burst of two, then one token every 200ms.
	if waited := time.Since(start); waited < 150*time.Millisecond {
		t.Errorf("expected third call to wait for a refill, waited %v", waited)
	}
}

func TestBucketOnErrorPauses(t *testing.T) {
	t.Parallel()

	g, err := NewBucket(testConfig(10, time.Second))
	if err != nil {
		t.Fatalf("failed to create governor: %v", err)
	}
	g.OnError(apierr.KindRateLimited)
	if g.Remaining("feed") != 0 {
		t.Error("expected 0 remaining while paused")
	}

	start := time.Now()
	p, err := g.Acquire(context.Background(), "feed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Release()
	if waited := time.Since(start); waited < 150*time.Millisecond {
		t.Errorf("expected acquire to wait out the pause, waited %v", waited)
	}
}
