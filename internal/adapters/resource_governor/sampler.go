package resource_governor

import (
	"sync"

	"github.com/prometheus/procfs"

	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/ports"
)

// ProcSampler reads host CPU and memory utilization from /proc. CPU percent
// is computed from the delta between consecutive samples, so the first
// sample reports 0.
type ProcSampler struct {
	fs procfs.FS

	mu        sync.Mutex
	prevBusy  float64
	prevTotal float64
}

func NewProcSampler() (*ProcSampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, domain.NewInternalError("open procfs", err)
	}
	return &ProcSampler{fs: fs}, nil
}

func NewProcSamplerAt(mountPoint string) (*ProcSampler, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, domain.NewInternalError("open procfs at "+mountPoint, err)
	}
	return &ProcSampler{fs: fs}, nil
}

func (s *ProcSampler) Sample() (ports.Utilization, error) {
	cpu, err := s.cpuPercent()
	if err != nil {
		return ports.Utilization{}, err
	}
	mem, err := s.memoryPercent()
	if err != nil {
		return ports.Utilization{}, err
	}
	return ports.Utilization{CPUPercent: cpu, MemoryPercent: mem}, nil
}

func (s *ProcSampler) cpuPercent() (float64, error) {
	stat, err := s.fs.Stat()
	if err != nil {
		return 0, domain.NewInternalError("read /proc/stat", err)
	}

	c := stat.CPUTotal
	idle := c.Idle + c.Iowait
	busy := c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
	total := idle + busy

	s.mu.Lock()
	defer s.mu.Unlock()

	dTotal := total - s.prevTotal
	dBusy := busy - s.prevBusy
	first := s.prevTotal == 0
	s.prevTotal, s.prevBusy = total, busy

	if first || dTotal <= 0 {
		return 0, nil
	}
	return 100 * dBusy / dTotal, nil
}

func (s *ProcSampler) memoryPercent() (float64, error) {
	mi, err := s.fs.Meminfo()
	if err != nil {
		return 0, domain.NewInternalError("read /proc/meminfo", err)
	}
	if mi.MemTotal == nil || *mi.MemTotal == 0 || mi.MemAvailable == nil {
		return 0, nil
	}
	used := float64(*mi.MemTotal - *mi.MemAvailable)
	return 100 * used / float64(*mi.MemTotal), nil
}

// StaticSampler always reports the same utilization.
type StaticSampler struct {
	mu sync.Mutex
	u  ports.Utilization
}

func NewStaticSampler(cpu, mem float64) *StaticSampler {
	return &StaticSampler{u: ports.Utilization{CPUPercent: cpu, MemoryPercent: mem}}
}

func (s *StaticSampler) Set(cpu, mem float64) {
	s.mu.Lock()
	s.u = ports.Utilization{CPUPercent: cpu, MemoryPercent: mem}
	s.mu.Unlock()
}

func (s *StaticSampler) Sample() (ports.Utilization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.u, nil
}
