package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/eleven-am/researchflow/internal/domain"
)

type Policy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	BackoffFactor  float64
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

func PolicyFrom(c domain.RetryConfig) Policy {
	return Policy{
		MaxRetries:     c.MaxRetries,
		BaseDelay:      c.BaseDelay,
		BackoffFactor:  c.BackoffFactor,
		MaxDelay:       c.MaxDelay,
		AttemptTimeout: c.RequestTimeout,
	}
}

// Delay returns the wait before retry number attempt (0-based):
// BaseDelay * BackoffFactor^attempt, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.BaseDelay) * math.Pow(factor, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

type Operation func(ctx context.Context) error

// RetryEvent describes one scheduled retry.
type RetryEvent struct {
	Attempt int
	Delay   time.Duration
	Err     error
}

type options struct {
	onRetry       func(RetryEvent)
	sleep         func(ctx context.Context, d time.Duration) error
	beforeAttempt func(ctx context.Context) error
}

type Option func(*options)

func OnRetry(fn func(RetryEvent)) Option {
	return func(o *options) { o.onRetry = fn }
}

// BeforeAttempt runs fn ahead of every attempt under the caller's context,
// outside the attempt timeout. An error from fn ends Execute.
func BeforeAttempt(fn func(ctx context.Context) error) Option {
	return func(o *options) { o.beforeAttempt = fn }
}

func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// Execute runs op until it succeeds, fails terminally, or MaxRetries retries
// are spent. Each attempt gets its own AttemptTimeout. Cancellation of ctx
// stops immediately and returns the context error.
func (p Policy) Execute(ctx context.Context, op Operation, opts ...Option) error {
	o := options{sleep: sleepCtx}
	for _, opt := range opts {
		opt(&o)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.beforeAttempt != nil {
			if err := o.beforeAttempt(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return err
			}
		}

		err := p.attempt(ctx, op)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err

		if !domain.IsRetryable(err) {
			return err
		}
		if attempt >= p.MaxRetries {
			break
		}

		delay := p.Delay(attempt)
		if ra := domain.RetryAfter(err); ra > delay {
			delay = ra
		}
		if o.onRetry != nil {
			o.onRetry(RetryEvent{Attempt: attempt + 1, Delay: delay, Err: err})
		}
		if err := o.sleep(ctx, delay); err != nil {
			return err
		}
	}

	attempts := p.MaxRetries + 1
	return domain.NewTerminalError(fmt.Sprintf("gave up after %d attempts", attempts), lastErr).
		WithDetail("attempts", attempts)
}

func (p Policy) attempt(ctx context.Context, op Operation) error {
	if p.AttemptTimeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()

	err := op(attemptCtx)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return domain.NewTransientError(fmt.Sprintf("attempt timed out after %s", p.AttemptTimeout), err)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
