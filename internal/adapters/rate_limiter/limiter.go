package rate_limiter

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/ports"
)

const dayWindow = 24 * time.Hour

type bucket struct {
	mu          sync.Mutex
	limit       ports.ServiceLimit
	perSecond   *rate.Limiter
	windowStart time.Time
	dayUsed     int

	totalRequests   int64
	delayedRequests int64
	totalWait       int64
	maxWait         int64
}

// Limiter enforces per-service request budgets: a token bucket for
// requests/second and a rolling 24h counter for requests/day. Services
// without a configured limit are never delayed.
type Limiter struct {
	logger  *slog.Logger
	buckets sync.Map
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	metrics atomic.Value
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleeper replaces the timer used by Wait.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

func New(logger *slog.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Limiter{
		logger: logger.With("component", "rate-limiter"),
		now:    time.Now,
		sleep:  sleepCtx,
	}
	l.metrics.Store(ports.Metrics(ports.NoopMetrics{}))
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FromConfig builds a limiter with every configured service limit applied.
func FromConfig(services map[string]domain.ServiceConfig, logger *slog.Logger, opts ...Option) *Limiter {
	l := New(logger, opts...)
	for name, svc := range services {
		if svc.RateLimit > 0 || svc.RateLimitPerDay > 0 {
			l.SetLimit(name, ports.ServiceLimit{
				RequestsPerSecond: svc.RateLimit,
				RequestsPerDay:    svc.RateLimitPerDay,
			})
		}
	}
	return l
}

func (l *Limiter) SetMetrics(m ports.Metrics) {
	if m == nil {
		m = ports.NoopMetrics{}
	}
	l.metrics.Store(m)
}

func (l *Limiter) getBucket(service string) *bucket {
	if value, ok := l.buckets.Load(service); ok {
		return value.(*bucket)
	}

	b := &bucket{windowStart: l.now()}
	value, _ := l.buckets.LoadOrStore(service, b)
	return value.(*bucket)
}

func (l *Limiter) SetLimit(service string, limit ports.ServiceLimit) {
	b := l.getBucket(service)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.limit = limit
	if limit.RequestsPerSecond > 0 {
		burst := int(math.Ceil(limit.RequestsPerSecond))
		if burst < 1 {
			burst = 1
		}
		if b.perSecond == nil {
			b.perSecond = rate.NewLimiter(rate.Limit(limit.RequestsPerSecond), burst)
		} else {
			b.perSecond.SetLimit(rate.Limit(limit.RequestsPerSecond))
			b.perSecond.SetBurst(burst)
		}
	} else {
		b.perSecond = nil
	}

	l.logger.Debug("updated rate limit", "service", service, "rps", limit.RequestsPerSecond, "per_day", limit.RequestsPerDay)
}

func (l *Limiter) Acquire(service string) time.Duration {
	wait, _ := l.reserve(service)
	return wait
}

// reserve books one request and returns the wait together with a rollback
// that hands the booked capacity back when the request is never issued.
func (l *Limiter) reserve(service string) (time.Duration, func()) {
	b := l.getBucket(service)
	now := l.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	atomic.AddInt64(&b.totalRequests, 1)

	var wait time.Duration
	var perSecond *rate.Reservation
	if b.perSecond != nil {
		r := b.perSecond.ReserveN(now, 1)
		if r.OK() {
			perSecond = r
			wait = r.DelayFrom(now)
		}
	}

	bookedDay := false
	if b.limit.RequestsPerDay > 0 {
		bookedDay = true
		if d := l.reserveDayLocked(b, now); d > wait {
			wait = d
		}
	}

	if wait > 0 {
		atomic.AddInt64(&b.delayedRequests, 1)
		atomic.AddInt64(&b.totalWait, int64(wait))
		for {
			current := atomic.LoadInt64(&b.maxWait)
			if int64(wait) <= current || atomic.CompareAndSwapInt64(&b.maxWait, current, int64(wait)) {
				break
			}
		}
	}

	rollback := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if perSecond != nil {
			perSecond.CancelAt(l.now())
		}
		if bookedDay && b.dayUsed > 0 {
			b.dayUsed--
		}
	}
	return wait, rollback
}

// reserveDayLocked books the request into the first 24h window with room
// and returns how long until that window opens.
func (l *Limiter) reserveDayLocked(b *bucket, now time.Time) time.Duration {
	if elapsed := now.Sub(b.windowStart); elapsed >= dayWindow {
		windows := int(elapsed / dayWindow)
		b.windowStart = b.windowStart.Add(time.Duration(windows) * dayWindow)
		b.dayUsed -= windows * b.limit.RequestsPerDay
		if b.dayUsed < 0 {
			b.dayUsed = 0
		}
	}

	ahead := b.dayUsed / b.limit.RequestsPerDay
	b.dayUsed++
	if ahead == 0 {
		return 0
	}
	opens := b.windowStart.Add(time.Duration(ahead) * dayWindow)
	return opens.Sub(now)
}

// Wait acquires a request slot and sleeps until it opens. An interrupted
// wait releases the slot it booked.
func (l *Limiter) Wait(ctx context.Context, service string) error {
	d, rollback := l.reserve(service)
	if d <= 0 {
		return nil
	}

	l.metrics.Load().(ports.Metrics).RateLimitWait(service, d)
	l.logger.Debug("waiting for rate limit", "service", service, "wait", d)
	if err := l.sleep(ctx, d); err != nil {
		rollback()
		l.logger.Debug("rate limit wait abandoned", "service", service, "error", err)
		return err
	}
	return nil
}

func (l *Limiter) Metrics(service string) ports.RateLimiterMetrics {
	b := l.getBucket(service)
	now := l.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	m := ports.RateLimiterMetrics{
		TotalRequests:   atomic.LoadInt64(&b.totalRequests),
		DelayedRequests: atomic.LoadInt64(&b.delayedRequests),
		TotalWait:       float64(atomic.LoadInt64(&b.totalWait)) / 1e6,
		MaxWait:         float64(atomic.LoadInt64(&b.maxWait)) / 1e6,
		DayUsed:         b.dayUsed,
		DayLimit:        b.limit.RequestsPerDay,
		TokensAvailable: -1,
	}
	if b.limit.RequestsPerDay > 0 {
		m.WindowResetsAt = b.windowStart.Add(dayWindow)
	}
	if b.perSecond != nil {
		m.TokensAvailable = b.perSecond.TokensAt(now)
	}
	return m
}

func (l *Limiter) GlobalMetrics() map[string]ports.RateLimiterMetrics {
	metrics := make(map[string]ports.RateLimiterMetrics)
	l.buckets.Range(func(key, _ interface{}) bool {
		service := key.(string)
		metrics[service] = l.Metrics(service)
		return true
	})
	return metrics
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
