package ports

import (
	"context"
	"time"
)

type ServiceLimit struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	RequestsPerDay    int     `json:"requests_per_day"`
}

type RateLimiterMetrics struct {
	TotalRequests   int64     `json:"total_requests"`
	DelayedRequests int64     `json:"delayed_requests"`
	TotalWait       float64   `json:"total_wait_ms"`
	MaxWait         float64   `json:"max_wait_ms"`
	DayUsed         int       `json:"day_used"`
	DayLimit        int       `json:"day_limit"`
	WindowResetsAt  time.Time `json:"window_resets_at"`
	// TokensAvailable is -1 for services without a per-second limit.
	TokensAvailable float64   `json:"tokens_available"`
}

type RateLimiter interface {
	// Acquire reserves one request for service and returns how long the
	// caller must wait before issuing it.
	Acquire(service string) time.Duration
	Wait(ctx context.Context, service string) error
	SetLimit(service string, limit ServiceLimit)
	Metrics(service string) RateLimiterMetrics
	GlobalMetrics() map[string]RateLimiterMetrics
}
