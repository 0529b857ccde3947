package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/DracoR22/InvoiceIQ/internal/app"
	"github.com/DracoR22/InvoiceIQ/internal/common"
	"github.com/DracoR22/InvoiceIQ/internal/server"
)

func main() {
	// a missing .env is fine; the environment may already be set
	_ = godotenv.Load()

	cfg, err := common.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stdout, cfg.LogLevel, false)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close error", "error", err)
		}
	}()

	if err := a.DB.HealthCheck(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	queue, err := a.NewQueue(ctx)
	if err != nil {
		logger.Error("failed to start queue", "backend", cfg.Queue.Backend, "error", err)
		os.Exit(1)
	}

	grpcServer, healthServer := server.NewGRPCServer(logger)
	server.RegisterStructuredService(grpcServer, server.NewStructuredServer(a.Structured, a.Creds, a.DefaultModel, logger))
	server.RegisterDocumentService(grpcServer, server.NewDocumentServer(a.Parser, a.Loader, logger))
	server.RegisterExtractionService(grpcServer, a.ExtractionServer(queue))
	for _, name := range server.ServiceNames() {
		healthServer.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	if os.Getenv("GRPC_REFLECTION") != "" {
		reflection.Register(grpcServer)
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	logger.Info("invoiceiq listening",
		"addr", lis.Addr().String(),
		"db_driver", cfg.Database.Driver,
		"queue", cfg.Queue.Backend,
		"default_model", a.DefaultModel,
	)

	serveErr := make(chan error, 1)
	go func() { serveErr <- grpcServer.Serve(lis) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		logger.Error("gRPC serve error", "error", err)
	}

	healthServer.Shutdown()
	grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ProcessTimeout+5*time.Second)
	defer cancel()
	queue.Shutdown(shutdownCtx)
	logger.Info("stopped")
}
