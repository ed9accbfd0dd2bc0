package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eleven-am/researchflow/internal/ports"
)

// Prometheus implements ports.Metrics on a private registry so several
// orchestrators (and tests) can coexist in one process.
type Prometheus struct {
	registry *prometheus.Registry

	flowsByStatus     *prometheus.GaugeVec
	flowTransitions   *prometheus.CounterVec
	tasksStarted      *prometheus.CounterVec
	tasksFinished     *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec
	admissionDenied   *prometheus.CounterVec
	retries           *prometheus.CounterVec
	rateLimitWait     *prometheus.HistogramVec
	itemsFetched      *prometheus.CounterVec
	governorExecuting prometheus.Gauge
	governorCPU       prometheus.Gauge
	governorMemory    prometheus.Gauge

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	httpInFlight  prometheus.Gauge
	wsConnections prometheus.Gauge
	wsFramesSent  prometheus.Counter
}

var _ ports.Metrics = (*Prometheus)(nil)

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		flowsByStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "researchflow_flows",
				Help: "Number of flows currently in each status",
			},
			[]string{"status"},
		),
		flowTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "researchflow_flow_transitions_total",
				Help: "Flow status transitions",
			},
			[]string{"from", "to"},
		),
		tasksStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "researchflow_tasks_started_total",
				Help: "Tasks admitted and started, per source",
			},
			[]string{"source"},
		),
		tasksFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "researchflow_tasks_finished_total",
				Help: "Tasks that reached a terminal status",
			},
			[]string{"source", "status"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "researchflow_task_duration_seconds",
				Help:    "Wall time from task start to terminal status",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"source"},
		),
		admissionDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "researchflow_admission_denied_total",
				Help: "Task admissions refused by the resource governor",
			},
			[]string{"class"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "researchflow_backend_retries_total",
				Help: "Backend calls retried after a retryable failure",
			},
			[]string{"source"},
		),
		rateLimitWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "researchflow_rate_limit_wait_seconds",
				Help:    "Time spent waiting on per-service rate limits",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		itemsFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "researchflow_items_fetched_total",
				Help: "Items committed from backend pages",
			},
			[]string{"source"},
		),
		governorExecuting: factory.NewGauge(prometheus.GaugeOpts{
			Name: "researchflow_governor_executing",
			Help: "Tasks currently holding an execution slot",
		}),
		governorCPU: factory.NewGauge(prometheus.GaugeOpts{
			Name: "researchflow_governor_cpu_percent",
			Help: "Last sampled host CPU utilization",
		}),
		governorMemory: factory.NewGauge(prometheus.GaugeOpts{
			Name: "researchflow_governor_memory_percent",
			Help: "Last sampled host memory utilization",
		}),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "researchflow_http_requests_total",
				Help: "HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "researchflow_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		httpInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "researchflow_http_requests_in_flight",
			Help: "HTTP requests currently being served",
		}),
		wsConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "researchflow_websocket_connections",
			Help: "Open flow push channel connections",
		}),
		wsFramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "researchflow_websocket_frames_sent_total",
			Help: "Flow snapshots written to push channel clients",
		}),
	}
}

// FlowStatusChanged moves one flow between status gauges. An empty from
// means the flow is new; an empty to means it was deleted.
func (p *Prometheus) FlowStatusChanged(from, to string) {
	if from != "" {
		p.flowsByStatus.WithLabelValues(from).Dec()
	}
	if to != "" {
		p.flowsByStatus.WithLabelValues(to).Inc()
	}
	if from != "" && to != "" {
		p.flowTransitions.WithLabelValues(from, to).Inc()
	}
}

func (p *Prometheus) TaskStarted(source string) {
	p.tasksStarted.WithLabelValues(source).Inc()
}

func (p *Prometheus) TaskFinished(source, status string, d time.Duration) {
	p.tasksFinished.WithLabelValues(source, status).Inc()
	p.taskDuration.WithLabelValues(source).Observe(d.Seconds())
}

func (p *Prometheus) AdmissionDenied(class string) {
	p.admissionDenied.WithLabelValues(class).Inc()
}

func (p *Prometheus) Retry(source string) {
	p.retries.WithLabelValues(source).Inc()
}

func (p *Prometheus) RateLimitWait(service string, d time.Duration) {
	p.rateLimitWait.WithLabelValues(service).Observe(d.Seconds())
}

func (p *Prometheus) ItemsFetched(source string, n int) {
	p.itemsFetched.WithLabelValues(source).Add(float64(n))
}

func (p *Prometheus) ObserveGovernor(stats ports.ExecutionStats) {
	p.governorExecuting.Set(float64(stats.TotalExecuting))
	p.governorCPU.Set(stats.CPUPercent)
	p.governorMemory.Set(stats.MemoryPercent)
}

// HTTPStarted marks a request in flight and returns the func that records
// its outcome. route is the matched pattern, never the raw path.
func (p *Prometheus) HTTPStarted() func(method, route string, status int, d time.Duration) {
	p.httpInFlight.Inc()
	return func(method, route string, status int, d time.Duration) {
		p.httpInFlight.Dec()
		p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		p.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
	}
}

func (p *Prometheus) WebSocketOpened() { p.wsConnections.Inc() }

func (p *Prometheus) WebSocketClosed() { p.wsConnections.Dec() }

func (p *Prometheus) WebSocketFrameSent() { p.wsFramesSent.Inc() }

func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
