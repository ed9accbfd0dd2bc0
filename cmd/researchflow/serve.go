package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eleven-am/researchflow/internal/adapters/grpchealth"
	"github.com/eleven-am/researchflow/internal/api"
	"github.com/eleven-am/researchflow/internal/core"
	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator and its HTTP API",
	Long: `Start the orchestrator, recover flows left behind by a previous run,
and serve the HTTP API and flow push channel. When GRPC_HEALTH_ADDR is set a
standard gRPC health service is served there too.

Stops cleanly on SIGINT or SIGTERM; running flows are resumed on the next
start according to RECOVERY_MODE.`,
	RunE: runServe,
}

func loadConfig() (*domain.Config, error) {
	return domain.LoadConfig(domain.LoadOptions{EnvFiles: envFiles, ConfigFile: configFile})
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Observability, os.Stderr)
	if err != nil {
		return err
	}
	cfg.Logger = logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager, err := core.NewManager(cfg)
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		_ = manager.Stop(context.Background())
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := manager.Stop(shutdownCtx); err != nil {
			logger.Error("shutdown incomplete", "error", err)
		}
	}()

	var metrics api.Metrics
	if m := manager.Metrics(); m != nil {
		metrics = m
	}
	server := api.NewServer(manager.Orchestrator(), metrics, cfg.Server, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})

	if addr := cfg.Server.GRPCHealthAddr; addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			stop()
			_ = g.Wait()
			return domain.NewInternalError("listen on "+addr, err)
		}
		health := grpchealth.New(manager.Orchestrator().Ready, 5*time.Second, logger)
		g.Go(func() error {
			return health.Serve(gctx, lis)
		})
	}

	logger.Info("researchflow serving", "http_addr", cfg.Server.HTTPAddr, "grpc_health_addr", cfg.Server.GRPCHealthAddr)
	err = g.Wait()
	logger.Info("shutting down")
	return err
}
