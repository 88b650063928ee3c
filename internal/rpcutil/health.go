package rpcutil

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
)

// HealthServer is a standalone gRPC server exposing only the standard
// health-check service, mounted alongside a service's primary NATS
// subject so liveness probes don't need to speak this module's RPC
// envelope.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewHealthServer builds a HealthServer reporting serving for every
// service name it is told about via SetServing.
func NewHealthServer() *HealthServer {
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &HealthServer{grpc: gs, health: hs}
}

// SetServing marks service as healthy (or not). An empty service name
// sets the overall server status.
func (h *HealthServer) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(service, status)
}

// Serve blocks accepting connections on addr until the listener
// fails or Stop is called.
func (h *HealthServer) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return domerr.Wrap(domerr.Internal, "rpcutil.Serve", "listen", err)
	}
	return h.grpc.Serve(lis)
}

// Stop gracefully shuts down the health server.
func (h *HealthServer) Stop() {
	h.grpc.GracefulStop()
}
