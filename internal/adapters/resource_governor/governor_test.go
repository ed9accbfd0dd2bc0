package resource_governor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/researchflow/internal/ports"
)

func TestGovernor_TryAdmitRespectsTotalCap(t *testing.T) {
	g := New(Config{MaxConcurrentTasks: 2}, nil, nil)

	if !g.TryAdmit("web") || !g.TryAdmit("github") {
		t.Fatal("expected first two admissions to succeed")
	}
	if g.TryAdmit("web") {
		t.Error("expected third admission to be denied")
	}
	if g.AvailableSlots() != 0 {
		t.Errorf("expected 0 available slots, got %d", g.AvailableSlots())
	}

	if err := g.Release("web"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if !g.TryAdmit("arxiv") {
		t.Error("expected admission after release")
	}

	stats := g.Stats()
	if stats.TotalExecuting != 2 {
		t.Errorf("expected 2 executing, got %d", stats.TotalExecuting)
	}
	if stats.Denied != 1 {
		t.Errorf("expected 1 denial, got %d", stats.Denied)
	}
	if !g.IsHealthy() {
		t.Error("expected governor to be healthy")
	}
}

func TestGovernor_PerClassCap(t *testing.T) {
	g := New(Config{MaxConcurrentTasks: 10, MaxPerClass: map[string]int{"github": 1}}, nil, nil)

	if !g.TryAdmit("github") {
		t.Fatal("expected first github admission")
	}
	if g.TryAdmit("github") {
		t.Error("expected github class cap to deny")
	}
	if !g.TryAdmit("web") {
		t.Error("other classes should not be affected")
	}
	if g.Stats().PerClassExecuting["github"] != 1 {
		t.Error("expected one github in flight")
	}
}

func TestGovernor_ReleaseWithoutAdmitFails(t *testing.T) {
	g := New(Config{MaxConcurrentTasks: 1}, nil, nil)
	if err := g.Release("web"); err == nil {
		t.Error("expected error releasing a class with nothing in flight")
	}
}

func TestGovernor_UtilizationCaps(t *testing.T) {
	sampler := NewStaticSampler(90, 10)
	g := New(Config{MaxConcurrentTasks: 4, MaxCPUPercent: 80, MaxMemoryPercent: 80}, sampler, nil)
	g.Refresh()

	if g.TryAdmit("web") {
		t.Error("expected cpu cap to deny admission")
	}
	if g.AvailableSlots() != 0 {
		t.Error("expected no slots while cpu is over cap")
	}

	sampler.Set(10, 95)
	g.Refresh()
	if g.TryAdmit("web") {
		t.Error("expected memory cap to deny admission")
	}

	sampler.Set(10, 10)
	g.Refresh()
	if !g.TryAdmit("web") {
		t.Error("expected admission once utilization drops")
	}
}

type failingSampler struct{}

func (failingSampler) Sample() (ports.Utilization, error) {
	return ports.Utilization{}, errors.New("no proc")
}

func TestGovernor_SamplerErrorsDoNotDeny(t *testing.T) {
	g := New(Config{MaxConcurrentTasks: 1, MaxCPUPercent: 50}, failingSampler{}, nil)
	g.Refresh()
	if !g.TryAdmit("web") {
		t.Error("sampling failures must not deny admission")
	}
}

// scriptedSampler returns its readings in order, then fails.
type scriptedSampler struct {
	readings []ports.Utilization
}

func (s *scriptedSampler) Sample() (ports.Utilization, error) {
	if len(s.readings) == 0 {
		return ports.Utilization{}, errors.New("proc unavailable")
	}
	u := s.readings[0]
	s.readings = s.readings[1:]
	return u, nil
}

func TestGovernor_FailedSampleDropsStaleOverCapReading(t *testing.T) {
	sampler := &scriptedSampler{readings: []ports.Utilization{{CPUPercent: 95}}}
	g := New(Config{MaxConcurrentTasks: 2, MaxCPUPercent: 80}, sampler, nil)

	g.Refresh()
	if g.TryAdmit("web") {
		t.Fatal("expected denial while cpu is over cap")
	}

	for i := 0; i < 5; i++ {
		g.Refresh()
	}
	if !g.TryAdmit("web") {
		t.Errorf("stale reading still denies admission: %s", g.Stats().LastDenyReason)
	}
	if g.AvailableSlots() != 1 {
		t.Errorf("expected count caps only, got %d slots", g.AvailableSlots())
	}
	if !g.Stats().SampledAt.IsZero() {
		t.Error("expected no current sample after failures")
	}
}

func TestGovernor_StartSamplesPeriodically(t *testing.T) {
	sampler := NewStaticSampler(0, 0)
	g := New(Config{MaxConcurrentTasks: 1, MaxCPUPercent: 50, SampleInterval: 10 * time.Millisecond}, sampler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)

	sampler.Set(99, 0)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if g.Stats().CPUPercent == 99 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("expected sampler loop to pick up new utilization")
}

func TestGovernor_ConcurrentAdmitNeverExceedsCap(t *testing.T) {
	g := New(Config{MaxConcurrentTasks: 3}, nil, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAdmit("web") {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 3 {
		t.Errorf("expected exactly 3 admissions, got %d", admitted)
	}
}

func TestProcSampler_ReadsFakeProc(t *testing.T) {
	dir := t.TempDir()
	writeProc := func(idle int) {
		stat := "cpu  100 0 100 " + strconv.Itoa(idle) + " 0 0 0 0 0 0\n"
		if err := os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	meminfo := "MemTotal:       1000 kB\nMemFree:         100 kB\nMemAvailable:    250 kB\n"
	if err := os.WriteFile(filepath.Join(dir, "meminfo"), []byte(meminfo), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewProcSamplerAt(dir)
	if err != nil {
		t.Fatalf("open fake proc: %v", err)
	}

	writeProc(800)
	first, err := s.Sample()
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if first.CPUPercent != 0 {
		t.Errorf("first cpu sample should be 0, got %.2f", first.CPUPercent)
	}
	if first.MemoryPercent != 75 {
		t.Errorf("expected 75%% memory, got %.2f", first.MemoryPercent)
	}

	writeProc(1000)
	second, err := s.Sample()
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if second.CPUPercent != 0 {
		t.Errorf("idle-only delta should be 0%% busy, got %.2f", second.CPUPercent)
	}
}
