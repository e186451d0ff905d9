package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// serviceName is the gRPC health service name reported for the director.
const serviceName = "verdictswarm.director"

// healthProbe reports whether the director can serve sessions.
type healthProbe func(ctx context.Context) error

// grpcHealth serves the standard gRPC health protocol for orchestrators
// that probe over gRPC instead of HTTP.
type grpcHealth struct {
	server *grpc.Server
	health *health.Server
	probe  healthProbe
	every  time.Duration
	cancel context.CancelFunc
	done   chan struct{}
}

func newGRPCHealth(probe healthProbe, every time.Duration) *grpcHealth {
	h := &grpcHealth{
		server: grpc.NewServer(),
		health: health.NewServer(),
		probe:  probe,
		every:  every,
		done:   make(chan struct{}),
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	h.setServing(true)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.watch(ctx)
	return h
}

// Serve serves on ln until Stop. It blocks.
func (h *grpcHealth) Serve(ln net.Listener) error {
	return h.server.Serve(ln)
}

func (h *grpcHealth) watch(ctx context.Context) {
	defer close(h.done)
	if h.probe == nil || h.every <= 0 {
		return
	}
	ticker := time.NewTicker(h.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := h.probe(probeCtx)
			cancel()
			if err != nil {
				slog.Warn("Health probe failed", "error", err)
			}
			h.setServing(err == nil)
		}
	}
}

func (h *grpcHealth) setServing(ok bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(serviceName, status)
}

// Stop marks every service as not serving and stops the server.
func (h *grpcHealth) Stop() {
	h.cancel()
	<-h.done
	h.health.Shutdown()
	h.server.GracefulStop()
}
