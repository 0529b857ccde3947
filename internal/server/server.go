package server

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewGRPCServer returns a server with the request interceptor and the
// standard health service installed. Callers register the InvoiceIQ
// services on it.
func NewGRPCServer(logger *slog.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(UnaryInterceptor(logger))}, opts...)
	s := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s, hs
}

// ServiceNames lists the services NewGRPCServer callers are expected to
// register, for health reporting.
func ServiceNames() []string {
	return []string{structuredServiceName, documentServiceName, extractionServiceName}
}
