package rate_limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLimiter_UnconfiguredServiceIsUnlimited(t *testing.T) {
	l := New(nil)
	for i := 0; i < 100; i++ {
		if d := l.Acquire("web"); d != 0 {
			t.Fatalf("expected no wait for unconfigured service, got %v", d)
		}
	}
	if got := l.Metrics("web").TotalRequests; got != 100 {
		t.Errorf("expected 100 requests counted, got %d", got)
	}
}

func TestLimiter_PerSecondBucket(t *testing.T) {
	clock := newFakeClock()
	l := New(nil, WithClock(clock.Now))
	l.SetLimit("github", ports.ServiceLimit{RequestsPerSecond: 2})

	if d := l.Acquire("github"); d != 0 {
		t.Errorf("first request should not wait, got %v", d)
	}
	if d := l.Acquire("github"); d != 0 {
		t.Errorf("second request fits the burst, got %v", d)
	}

	d := l.Acquire("github")
	if d <= 0 || d > 500*time.Millisecond {
		t.Errorf("third request should wait about 500ms, got %v", d)
	}

	clock.Advance(2 * time.Second)
	if d := l.Acquire("github"); d != 0 {
		t.Errorf("bucket should refill, got wait %v", d)
	}

	if l.Acquire("web") != 0 {
		t.Error("limits are per service")
	}
}

func TestLimiter_FractionalRateHasBurstOne(t *testing.T) {
	clock := newFakeClock()
	l := New(nil, WithClock(clock.Now))
	l.SetLimit("youtube", ports.ServiceLimit{RequestsPerSecond: 0.5})

	if l.Acquire("youtube") != 0 {
		t.Error("first request should pass")
	}
	d := l.Acquire("youtube")
	if d < 1900*time.Millisecond || d > 2*time.Second {
		t.Errorf("expected about 2s wait, got %v", d)
	}
}

func TestLimiter_DayWindow(t *testing.T) {
	clock := newFakeClock()
	l := New(nil, WithClock(clock.Now))
	l.SetLimit("arxiv", ports.ServiceLimit{RequestsPerDay: 2})

	if l.Acquire("arxiv") != 0 || l.Acquire("arxiv") != 0 {
		t.Fatal("first two requests fit the day budget")
	}

	clock.Advance(time.Hour)
	d := l.Acquire("arxiv")
	if d != 23*time.Hour {
		t.Errorf("expected wait until window reset (23h), got %v", d)
	}

	m := l.Metrics("arxiv")
	if m.DayUsed != 3 || m.DayLimit != 2 {
		t.Errorf("unexpected day usage %d/%d", m.DayUsed, m.DayLimit)
	}

	clock.Advance(23 * time.Hour)
	if d := l.Acquire("arxiv"); d != 0 {
		t.Errorf("second window still has room, got %v", d)
	}
	if d := l.Acquire("arxiv"); d != 24*time.Hour {
		t.Errorf("expected a full window wait, got %v", d)
	}
}

func TestLimiter_WaitUsesSleeperAndHonorsContext(t *testing.T) {
	clock := newFakeClock()
	var slept []time.Duration
	l := New(nil, WithClock(clock.Now), WithSleeper(func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}))
	l.SetLimit("web", ports.ServiceLimit{RequestsPerSecond: 1})

	if err := l.Wait(context.Background(), "web"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Wait(context.Background(), "web"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slept) != 1 {
		t.Fatalf("expected exactly one sleep, got %d", len(slept))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx, "web"); err == nil {
		t.Error("expected cancelled context to abort the wait")
	}
}

func TestLimiter_RealSleepRespectsCancel(t *testing.T) {
	l := New(nil)
	l.SetLimit("custom", ports.ServiceLimit{RequestsPerSecond: 0.01})
	_ = l.Acquire("custom")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := l.Wait(ctx, "custom"); err == nil {
		t.Error("expected deadline error")
	}
	if time.Since(start) > time.Second {
		t.Error("wait did not return promptly on cancellation")
	}
}

func TestLimiter_AbandonedWaitReleasesDayBudget(t *testing.T) {
	clock := newFakeClock()
	l := New(nil, WithClock(clock.Now), WithSleeper(func(ctx context.Context, d time.Duration) error {
		return context.DeadlineExceeded
	}))
	l.SetLimit("github", ports.ServiceLimit{RequestsPerDay: 1})

	if d := l.Acquire("github"); d != 0 {
		t.Fatalf("first request fits the day budget, got %v", d)
	}
	for i := 0; i < 4; i++ {
		if err := l.Wait(context.Background(), "github"); err == nil {
			t.Fatal("expected the interrupted wait to fail")
		}
	}
	if used := l.Metrics("github").DayUsed; used != 1 {
		t.Errorf("abandoned waits must not keep their booking, day used %d", used)
	}

	clock.Advance(24 * time.Hour)
	if d := l.Acquire("github"); d != 0 {
		t.Errorf("next window should be open, got wait %v", d)
	}
}

func TestLimiter_AbandonedWaitReturnsToken(t *testing.T) {
	clock := newFakeClock()
	l := New(nil, WithClock(clock.Now), WithSleeper(func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}))
	l.SetLimit("web", ports.ServiceLimit{RequestsPerSecond: 1})

	if d := l.Acquire("web"); d != 0 {
		t.Fatalf("first request should pass, got %v", d)
	}
	if err := l.Wait(context.Background(), "web"); err == nil {
		t.Fatal("expected the interrupted wait to fail")
	}

	d := l.Acquire("web")
	if d <= 0 || d > time.Second {
		t.Errorf("expected at most one token of debt, got wait %v", d)
	}
}

func TestFromConfig(t *testing.T) {
	l := FromConfig(map[string]domain.ServiceConfig{
		"github": {RateLimit: 5, RateLimitPerDay: 1000},
		"web":    {APIKey: "k"},
	}, nil)

	metrics := l.GlobalMetrics()
	if _, ok := metrics["github"]; !ok {
		t.Error("expected github bucket to be configured")
	}
	if _, ok := metrics["web"]; ok {
		t.Error("services without limits should not get a bucket")
	}
	if metrics["github"].DayLimit != 1000 {
		t.Errorf("expected day limit 1000, got %d", metrics["github"].DayLimit)
	}
}
