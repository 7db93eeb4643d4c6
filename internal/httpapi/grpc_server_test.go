package httpapi

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/health/grpc_health_v1"
)

type stubReadiness struct {
	err error
}

func (s stubReadiness) Check(ctx context.Context) error { return s.err }

func TestHealthServerCheck(t *testing.T) {
	srv := NewHealthServer(stubReadiness{})
	resp, err := srv.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.Status)
	}

	srv = NewHealthServer(stubReadiness{err: errors.New("db down")})
	resp, err = srv.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %v", resp.Status)
	}
}
