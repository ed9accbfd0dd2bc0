package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/eleven-am/researchflow/internal/core"
	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/logging"
)

// FlowService is the orchestrator surface the HTTP API drives.
type FlowService interface {
	CreateFlow(ctx context.Context, req domain.CreateFlowRequest) (*domain.Flow, error)
	GetFlow(ctx context.Context, flowID string) (*domain.Flow, error)
	ListFlows(ctx context.Context) ([]domain.FlowSummary, error)
	StartFlow(ctx context.Context, flowID string) (domain.FlowSummary, error)
	PauseFlow(ctx context.Context, flowID string) (domain.FlowSummary, error)
	ResumeFlow(ctx context.Context, flowID string) (domain.FlowSummary, error)
	CancelFlow(ctx context.Context, flowID string) (domain.FlowSummary, error)
	DeleteFlow(ctx context.Context, flowID string) error
	ListResults(ctx context.Context, flowID string) ([]domain.ResultRecord, error)
	ExportResult(ctx context.Context, flowID, resultID string, format core.ExportFormat) (*core.Export, error)
	Subscribe(ctx context.Context, flowID string) (*domain.Flow, <-chan domain.FlowEvent, func(), error)
	Stats() core.Stats
	Ready(ctx context.Context) error
}

// Metrics is the optional instrumentation the server reports to.
type Metrics interface {
	HTTPStarted() func(method, route string, status int, d time.Duration)
	WebSocketOpened()
	WebSocketClosed()
	WebSocketFrameSent()
	Handler() http.Handler
}

var _ FlowService = (*core.Orchestrator)(nil)

type Server struct {
	flows     FlowService
	metrics   Metrics
	config    domain.ServerConfig
	logger    *slog.Logger
	startTime time.Time
	handler   http.Handler

	// pingInterval is the websocket keepalive period.
	pingInterval time.Duration
}

func NewServer(flows FlowService, metrics Metrics, config domain.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		flows:        flows,
		metrics:      metrics,
		config:       config,
		logger:       logger.With("component", "http-api"),
		startTime:    time.Now(),
		pingInterval: 30 * time.Second,
	}
	s.handler = s.withRecovery(s.withObservability(s.routes()))
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /research-flows", s.handleCreateFlow)
	mux.HandleFunc("GET /research-flows", s.handleListFlows)
	mux.HandleFunc("GET /research-flows/{flow_id}", s.handleGetFlow)
	mux.HandleFunc("DELETE /research-flows/{flow_id}", s.handleDeleteFlow)
	mux.HandleFunc("POST /research-flows/{flow_id}/start", s.transition(s.flows.StartFlow))
	mux.HandleFunc("POST /research-flows/{flow_id}/pause", s.transition(s.flows.PauseFlow))
	mux.HandleFunc("POST /research-flows/{flow_id}/resume", s.transition(s.flows.ResumeFlow))
	mux.HandleFunc("POST /research-flows/{flow_id}/cancel", s.transition(s.flows.CancelFlow))
	mux.HandleFunc("GET /research-flows/{flow_id}/results", s.handleListResults)
	mux.HandleFunc("GET /research-flows/{flow_id}/results/{result_id}/export", s.handleExport)
	mux.HandleFunc("GET /ws/research-flows/{flow_id}", s.handleFlowSocket)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /debug/runtime", s.handleRuntime)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return mux
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve answers requests on lis until ctx is done, then drains in-flight
// requests for up to ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	readTimeout := s.config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	shutdownTimeout := s.config.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readTimeout,
		IdleTimeout:       60 * time.Second,
		ErrorLog: logging.HCLogger(s.logger).StandardLogger(&hclog.StandardLoggerOptions{
			ForceLevel: hclog.Warn,
		}),
	}

	s.logger.Info("starting http server", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.logger.Error("http server error", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return domain.NewInternalError("http shutdown", err)
	}
	return nil
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.config.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return domain.NewInternalError("listen on "+addr, err)
	}
	return s.Serve(ctx, lis)
}
