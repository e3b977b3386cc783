package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer exposes the standard health service so orchestrators can check
// the gateway without speaking HTTP.
type GRPCServer struct {
	addr   string
	server *grpc.Server
	health *health.Server
}

func NewGRPCServer(port string, enableReflection bool) *GRPCServer {
	addr := strings.TrimSpace(port)
	if addr != "" && !strings.HasPrefix(addr, ":") && !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	server := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)

	if enableReflection {
		reflection.Register(server)
	}

	return &GRPCServer{
		addr:   addr,
		server: server,
		health: healthServer,
	}
}

// SetServing flips the health status reported for service.
func (g *GRPCServer) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus(service, status)
}

// Start listens and serves until Shutdown. An empty address disables the server.
func (g *GRPCServer) Start() error {
	if g.addr == "" {
		return nil
	}

	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", g.addr, err)
	}

	logrus.WithField("addr", g.addr).Info("grpc server starting")
	return g.Serve(lis)
}

func (g *GRPCServer) Serve(lis net.Listener) error {
	if err := g.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (g *GRPCServer) Shutdown(ctx context.Context) error {
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		g.server.Stop()
		return ctx.Err()
	}
}
