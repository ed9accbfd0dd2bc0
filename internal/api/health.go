package api

import (
	"context"
	"net/http"
	"runtime"
	"time"
)

type HealthResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Uptime       string    `json:"uptime"`
	ActiveFlows  int       `json:"active_flows"`
	PollInterval string    `json:"poll_interval"`
	Error        string    `json:"error,omitempty"`
}

type RuntimeMetrics struct {
	GoVersion    string `json:"go_version"`
	GOOS         string `json:"goos"`
	GOARCH       string `json:"goarch"`
	NumCPU       int    `json:"num_cpu"`
	NumGoroutine int    `json:"num_goroutine"`
	HeapAlloc    uint64 `json:"heap_alloc_bytes"`
	HeapObjects  uint64 `json:"heap_objects"`
	Sys          uint64 `json:"sys_bytes"`
	NumGC        uint32 `json:"gc_cycles"`
	PauseTotalNs uint64 `json:"gc_pause_total_ns"`
	Uptime       string `json:"uptime"`
}

// pollInterval is the cadence clients should fall back to when the push
// channel is unavailable.
func (s *Server) pollInterval() time.Duration {
	if s.config.PollInterval > 0 {
		return s.config.PollInterval
	}
	return 5 * time.Second
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:       "ok",
		Timestamp:    time.Now().UTC(),
		Uptime:       time.Since(s.startTime).Truncate(time.Second).String(),
		ActiveFlows:  s.flows.Stats().ActiveFlows,
		PollInterval: s.pollInterval().String(),
	}

	status := http.StatusOK
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.flows.Ready(ctx); err != nil {
		response.Status = "unhealthy"
		response.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.flows.Ready(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("live"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.flows.Stats())
}

func (s *Server) handleRuntime(w http.ResponseWriter, _ *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeJSON(w, http.StatusOK, RuntimeMetrics{
		GoVersion:    runtime.Version(),
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
		HeapAlloc:    m.HeapAlloc,
		HeapObjects:  m.HeapObjects,
		Sys:          m.Sys,
		NumGC:        m.NumGC,
		PauseTotalNs: m.PauseTotalNs,
		Uptime:       time.Since(s.startTime).Truncate(time.Second).String(),
	})
}
