package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// HealthServer answers the standard gRPC health protocol, backed by the same
// readiness probe as /readyz. Load balancers poll it between sweeps.
type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	probe ReadyProbe
}

func NewHealthServer(probe ReadyProbe) *HealthServer {
	return &HealthServer{probe: probe}
}

// Register attaches the health service to the given server.
func (h *HealthServer) Register(srv *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(srv, h)
}

func (h *HealthServer) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if err := h.probe.Check(ctx); err != nil {
		return &grpc_health_v1.HealthCheckResponse{
			Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
		}, nil
	}
	return &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}, nil
}

func (h *HealthServer) Watch(_ *grpc_health_v1.HealthCheckRequest, _ grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "watch is not supported")
}
