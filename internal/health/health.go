// Package health exposes the standard gRPC health service, driven by
// periodic pings of the counter/cache store.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

const (
	defaultInterval = 15 * time.Second
	pingTimeout     = 3 * time.Second
)

// Pinger is checked on every tick.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor keeps the gRPC health server in step with the store.
type Monitor struct {
	server   *grpchealth.Server
	store    Pinger
	interval time.Duration
	logger   *slog.Logger
	serving  bool
}

// NewMonitor creates a Monitor. The service starts NOT_SERVING until the
// first successful check.
func NewMonitor(store Pinger, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		server:   grpchealth.NewServer(),
		store:    store,
		interval: interval,
		logger:   logger,
	}
	m.server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return m
}

// Server returns the health service implementation.
func (m *Monitor) Server() healthpb.HealthServer {
	return m.server
}

// Check pings the store once and updates the serving status.
func (m *Monitor) Check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	err := m.store.Ping(ctx)
	serving := err == nil
	if serving != m.serving {
		if serving {
			m.logger.Info("gRPC health: store reachable, SERVING")
		} else {
			m.logger.Warn("gRPC health: store unreachable, NOT_SERVING", "error", err)
		}
	}
	m.serving = serving

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	m.server.SetServingStatus("", status)
}

// Run checks the store every interval until ctx is done, then marks every
// service NOT_SERVING.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Serve runs a gRPC server with the health service on lis until ctx is done.
func Serve(ctx context.Context, lis net.Listener, m *Monitor) error {
	srv := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    2 * time.Minute,
		Timeout: 10 * time.Second,
	}))
	healthpb.RegisterHealthServer(srv, m.Server())

	go m.Run(ctx)
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	m.logger.Info("gRPC health listener started", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve grpc health: %w", err)
	}
	return nil
}
