package database

import (
	"fmt"
	"net"

	"chat_relay_service/pkg/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer grpc health endpoint for the relay
type HealthServer struct {
	server  *grpc.Server
	health  *health.Server
	service string
}

// StartHealthServer listen on port and serve grpc.health.v1; status starts NOT_SERVING
func StartHealthServer(port, service string) (*HealthServer, error) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, fmt.Errorf("health listen: %w", err)
	}

	s := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	h.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)

	go func() {
		if err := s.Serve(lis); err != nil {
			logger.Log.Error("grpc health server stopped", zap.Error(err))
		}
	}()
	logger.Log.Info("grpc health server listening", zap.String("port", port))

	return &HealthServer{server: s, health: h, service: service}, nil
}

// SetServing flip the service status
func (h *HealthServer) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(h.service, status)
	h.health.SetServingStatus("", status)
}

// Stop mark not serving and stop the server
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
