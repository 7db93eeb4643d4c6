package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"seatgrid.io/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer exposes readiness over the standard gRPC health protocol.
type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer

	readiness readinessChecker
}

func NewHealthServer(r readinessChecker) *HealthServer {
	return &HealthServer{readiness: r}
}

// RegisterGRPC attaches the health service to the given server.
func (s *HealthServer) RegisterGRPC(srv *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(srv, s)
}

func (s *HealthServer) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return &grpc_health_v1.HealthCheckResponse{
			Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
		}, nil
	}
	obs.SetReady(true)
	return &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}, nil
}

// Watch re-evaluates readiness every few seconds until the client goes away.
func (s *HealthServer) Watch(_ *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	last := grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN
	for {
		status := grpc_health_v1.HealthCheckResponse_SERVING
		if err := s.readiness.Check(stream.Context()); err != nil {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		if status != last {
			if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: status}); err != nil {
				return err
			}
			last = status
		}
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-ticker.C:
		}
	}
}
