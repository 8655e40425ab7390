package server

import (
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/devrev/ringkv/internal/service"
)

// WritesService is the health service name that reports NOT_SERVING while
// the node is write-locked
const WritesService = "ringkv.writes"

// HealthServer exposes the standard gRPC health service for a node
type HealthServer struct {
	grpcServer *grpc.Server
	health     *grpchealth.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewHealthServer creates a health server that follows node's write lock
func NewHealthServer(node *service.StorageService, logger *zap.Logger) *HealthServer {
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(WritesService, writesStatus(node.IsWriteLocked()))

	node.OnWriteLockChange(func(locked bool) {
		hs.SetServingStatus(WritesService, writesStatus(locked))
	})

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	return &HealthServer{
		grpcServer: grpcServer,
		health:     hs,
		logger:     logger,
	}
}

func writesStatus(locked bool) healthpb.HealthCheckResponse_ServingStatus {
	if locked {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// Listen binds the health port
func (s *HealthServer) Listen(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind health server %s: %w", addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *HealthServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve blocks serving health checks until Stop
func (s *HealthServer) Serve() error {
	if s.listener == nil {
		return fmt.Errorf("health server is not listening")
	}
	s.logger.Info("Starting gRPC health server", zap.String("addr", s.listener.Addr().String()))
	return s.grpcServer.Serve(s.listener)
}

// Stop marks every service NOT_SERVING and stops the server
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.grpcServer.Stop()
}
