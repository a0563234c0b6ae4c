// Package grpcapi exposes the relay's serving state over the standard gRPC
// health protocol, with reflection enabled for grpcurl.
package grpcapi

import (
	"net"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"speech-relay-service/internal/observability"
	"speech-relay-service/internal/observability/metrics"
)

// ServiceName is the health service name reported for the relay.
const ServiceName = "speech.relay.Bridge"

// HealthServer serves grpc.health.v1 for the relay.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
}

// NewHealthServer builds the gRPC server with health and reflection
// registered. Both the overall and the relay service start NOT_SERVING.
func NewHealthServer(m *metrics.Metrics) *HealthServer {
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(server)

	return &HealthServer{server: server, health: hs}
}

// SetServing flips the reported status of both services.
func (h *HealthServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

// Serve blocks serving on lis until Stop is called.
func (h *HealthServer) Serve(lis net.Listener) error {
	log.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC health server")
	return h.server.Serve(lis)
}

// Stop reports NOT_SERVING and stops the server, letting in-flight calls
// finish.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
