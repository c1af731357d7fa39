package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth exposes the standard gRPC health service, reporting
// NOT_SERVING while the archive database is unreachable.
type GRPCHealth struct {
	server   *grpc.Server
	health   *health.Server
	db       Pinger
	interval time.Duration
	log      *slog.Logger
}

// NewGRPCHealth creates the health server. The status is refreshed every
// interval.
func NewGRPCHealth(db Pinger, interval time.Duration, log *slog.Logger) *GRPCHealth {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	g := &GRPCHealth{
		server:   grpc.NewServer(),
		health:   health.NewServer(),
		db:       db,
		interval: interval,
		log:      log,
	}
	healthpb.RegisterHealthServer(g.server, g.health)
	return g
}

// Serve blocks serving on lis until ctx is cancelled.
func (g *GRPCHealth) Serve(ctx context.Context, lis net.Listener) error {
	g.refresh(ctx)

	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				g.health.Shutdown()
				g.server.GracefulStop()
				return
			case <-ticker.C:
				g.refresh(ctx)
			}
		}
	}()

	g.log.Info("gRPC health server started", "addr", lis.Addr().String())
	if err := g.server.Serve(lis); err != nil {
		return fmt.Errorf("grpc health serve: %w", err)
	}
	return nil
}

func (g *GRPCHealth) refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if g.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := g.db.Ping(pingCtx)
		cancel()
		if err != nil {
			g.log.Warn("gRPC health check failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	g.health.SetServingStatus("", status)
}
