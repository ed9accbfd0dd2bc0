package resource_governor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/ports"
)

type Config struct {
	MaxConcurrentTasks int
	MaxPerClass        map[string]int
	MaxCPUPercent      float64
	MaxMemoryPercent   float64
	SampleInterval     time.Duration
}

func ConfigFrom(r domain.ResourceConfig) Config {
	return Config{
		MaxConcurrentTasks: r.MaxConcurrentTasks,
		MaxPerClass:        r.MaxPerClass,
		MaxCPUPercent:      r.MaxCPUPercent,
		MaxMemoryPercent:   r.MaxMemoryPercent,
		SampleInterval:     r.SampleInterval,
	}
}

// Governor is process-wide admission control. Admission reads the last
// cached utilization sample and never blocks on sampling.
type Governor struct {
	config  Config
	sampler ports.UtilizationSampler
	metrics ports.Metrics
	logger  *slog.Logger

	mu         sync.RWMutex
	executing  map[string]int
	totalCount int
	last       ports.Utilization
	sampledAt  time.Time
	denied     int64
	lastDeny   string
}

func New(config Config, sampler ports.UtilizationSampler, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SampleInterval <= 0 {
		config.SampleInterval = 2 * time.Second
	}

	return &Governor{
		config:    config,
		sampler:   sampler,
		metrics:   ports.NoopMetrics{},
		logger:    logger.With("component", "resource-governor"),
		executing: make(map[string]int),
	}
}

func (g *Governor) SetMetrics(m ports.Metrics) {
	if m == nil {
		m = ports.NoopMetrics{}
	}
	g.mu.Lock()
	g.metrics = m
	g.mu.Unlock()
}

// Start samples utilization immediately and then every SampleInterval until
// ctx is done. Without a sampler only the count caps apply.
func (g *Governor) Start(ctx context.Context) {
	if g.sampler == nil {
		return
	}
	g.Refresh()

	go func() {
		ticker := time.NewTicker(g.config.SampleInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.Refresh()
			}
		}
	}()
}

// Refresh takes one utilization sample. A failed sample clears the reading
// so only the count caps apply until sampling recovers.
func (g *Governor) Refresh() {
	if g.sampler == nil {
		return
	}

	u, err := g.sampler.Sample()
	if err != nil {
		g.logger.Warn("utilization sample failed", "error", err)
		g.mu.Lock()
		g.last = ports.Utilization{}
		g.sampledAt = time.Time{}
		g.mu.Unlock()
		return
	}

	g.mu.Lock()
	g.last = u
	g.sampledAt = time.Now()
	g.mu.Unlock()
}

func (g *Governor) TryAdmit(class string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if reason := g.denyReasonLocked(class); reason != "" {
		g.denied++
		g.lastDeny = reason
		g.metrics.AdmissionDenied(class)
		g.logger.Debug("admission denied", "class", class, "reason", reason, "total_executing", g.totalCount)
		return false
	}

	g.executing[class]++
	g.totalCount++

	g.logger.Debug("admitted", "class", class, "class_executing", g.executing[class], "total_executing", g.totalCount)
	return true
}

func (g *Governor) denyReasonLocked(class string) string {
	if g.totalCount >= g.config.MaxConcurrentTasks {
		return fmt.Sprintf("concurrent task cap %d reached", g.config.MaxConcurrentTasks)
	}
	if limit, ok := g.config.MaxPerClass[class]; ok && g.executing[class] >= limit {
		return fmt.Sprintf("class cap %d reached", limit)
	}
	if g.config.MaxCPUPercent > 0 && g.last.CPUPercent >= g.config.MaxCPUPercent {
		return fmt.Sprintf("cpu %.1f%% over cap %.1f%%", g.last.CPUPercent, g.config.MaxCPUPercent)
	}
	if g.config.MaxMemoryPercent > 0 && g.last.MemoryPercent >= g.config.MaxMemoryPercent {
		return fmt.Sprintf("memory %.1f%% over cap %.1f%%", g.last.MemoryPercent, g.config.MaxMemoryPercent)
	}
	return ""
}

func (g *Governor) Release(class string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	currentCount := g.executing[class]
	if currentCount <= 0 {
		g.logger.Error("release with nothing in flight", "class", class)
		return domain.NewInternalError(fmt.Sprintf("release of %s with nothing in flight", class), nil)
	}

	g.executing[class] = currentCount - 1
	g.totalCount--
	if g.executing[class] == 0 {
		delete(g.executing, class)
	}

	g.logger.Debug("released", "class", class, "total_executing", g.totalCount)
	return nil
}

// AvailableSlots is the number of further admissions the count cap allows,
// or zero while utilization is over its caps.
func (g *Governor) AvailableSlots() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.config.MaxCPUPercent > 0 && g.last.CPUPercent >= g.config.MaxCPUPercent {
		return 0
	}
	if g.config.MaxMemoryPercent > 0 && g.last.MemoryPercent >= g.config.MaxMemoryPercent {
		return 0
	}
	if free := g.config.MaxConcurrentTasks - g.totalCount; free > 0 {
		return free
	}
	return 0
}

func (g *Governor) Stats() ports.ExecutionStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	perClass := make(map[string]int, len(g.executing))
	for class, count := range g.executing {
		perClass[class] = count
	}
	capacity := make(map[string]int, len(g.config.MaxPerClass))
	for class, limit := range g.config.MaxPerClass {
		capacity[class] = limit
	}

	available := g.config.MaxConcurrentTasks - g.totalCount
	if available < 0 {
		available = 0
	}

	return ports.ExecutionStats{
		TotalExecuting:    g.totalCount,
		PerClassExecuting: perClass,
		TotalCapacity:     g.config.MaxConcurrentTasks,
		PerClassCapacity:  capacity,
		AvailableSlots:    available,
		CPUPercent:        g.last.CPUPercent,
		MemoryPercent:     g.last.MemoryPercent,
		SampledAt:         g.sampledAt,
		Denied:            g.denied,
		LastDenyReason:    g.lastDeny,
	}
}

// IsHealthy reports whether the per-class counts add up to the total.
func (g *Governor) IsHealthy() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.totalCount < 0 || g.totalCount > g.config.MaxConcurrentTasks {
		return false
	}
	sum := 0
	for _, count := range g.executing {
		if count < 0 {
			return false
		}
		sum += count
	}
	return sum == g.totalCount
}
