package ports

import (
	"context"
	"time"
)

type ResourceGovernor interface {
	TryAdmit(class string) bool
	Release(class string) error
	AvailableSlots() int
	Stats() ExecutionStats
	Start(ctx context.Context)
}

type ExecutionStats struct {
	TotalExecuting    int            `json:"total_executing"`
	PerClassExecuting map[string]int `json:"per_class_executing"`
	TotalCapacity     int            `json:"total_capacity"`
	PerClassCapacity  map[string]int `json:"per_class_capacity,omitempty"`
	AvailableSlots    int            `json:"available_slots"`
	CPUPercent        float64        `json:"cpu_percent"`
	MemoryPercent     float64        `json:"memory_percent"`
	SampledAt         time.Time      `json:"sampled_at"`
	Denied            int64          `json:"denied"`
	LastDenyReason    string         `json:"last_deny_reason,omitempty"`
}

type Utilization struct {
	CPUPercent    float64
	MemoryPercent float64
}

// UtilizationSampler reports process-host CPU and memory utilization.
type UtilizationSampler interface {
	Sample() (Utilization, error)
}
