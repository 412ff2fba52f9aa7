// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package control serves the standard gRPC health checking protocol for
// the gatehouse process and its session.
package control

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/gatehouse/gatehouse/internal/events"
)

// SessionService is the health service name that reports SERVING while a
// user is logged in. The empty service name reports the process itself.
const SessionService = "gatehouse.session"

// HealthServer runs a gRPC server exposing grpc.health.v1.Health.
type HealthServer struct {
	addr   string
	log    *slog.Logger
	health *health.Server

	mu       sync.Mutex
	listener net.Listener
	server   *grpc.Server
}

// NewHealthServer creates a health server for addr. Both services start
// NOT_SERVING. A nil logger falls back to slog.Default.
func NewHealthServer(addr string, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(SessionService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{addr: addr, log: logger, health: hs}
}

// SetServing reports the process status.
func (s *HealthServer) SetServing(serving bool) {
	s.health.SetServingStatus("", status(serving))
}

// SetSession reports whether a session is active.
func (s *HealthServer) SetSession(authenticated bool) {
	s.health.SetServingStatus(SessionService, status(authenticated))
}

// Track returns an event handler that re-reads authenticated after every
// event and updates the session status.
func (s *HealthServer) Track(authenticated func() bool) events.Handler {
	return func(context.Context, events.Event) {
		s.SetSession(authenticated())
	}
}

func status(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Start listens and serves in the background. The returned channel
// receives the serve error, if any, and is closed when the server stops.
func (s *HealthServer) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil, oops.Code("CONTROL_SERVER_RUNNING").Errorf("health server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, oops.Code("CONTROL_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)
	s.listener = listener
	s.server = srv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(listener); err != nil {
			s.log.Error("health server failed", "error", err)
			errCh <- err
		}
	}()

	s.log.Info("health server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop marks every service NOT_SERVING and drains open RPCs until ctx
// ends, after which remaining connections are closed.
func (s *HealthServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("health server stopped")
		return nil
	case <-ctx.Done():
		srv.Stop()
		<-done
		return oops.Code("CONTROL_SHUTDOWN_FAILED").Wrap(ctx.Err())
	}
}

// Addr returns the bound address, or "" before Start.
func (s *HealthServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
