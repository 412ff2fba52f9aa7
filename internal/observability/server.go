// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package observability exposes gatehouse metrics and health probes over HTTP.
package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/events"
)

// ReadinessChecker returns whether the service is ready to serve.
type ReadinessChecker func() bool

// Result label values besides the lowercased error kinds.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics holds the identity service counters. It satisfies the session
// manager's metrics hook and can be passed to events.WithOnDrop through
// ObserveDrop.
type Metrics struct {
	OperationsTotal    *prometheus.CounterVec
	LockoutsTotal      prometheus.Counter
	EventsDroppedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the gatehouse metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_auth_operations_total",
				Help: "Total number of auth operations by operation and result",
			},
			[]string{"operation", "result"},
		),
		LockoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_auth_lockouts_total",
				Help: "Total number of login attempts rejected by the rate limiter",
			},
		),
		EventsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_events_dropped_total",
				Help: "Total number of events dropped on full subscriber mailboxes",
			},
			[]string{"event"},
		),
	}

	reg.MustRegister(m.OperationsTotal)
	reg.MustRegister(m.LockoutsTotal)
	reg.MustRegister(m.EventsDroppedTotal)

	return m
}

// ObserveOperation counts one finished operation.
func (m *Metrics) ObserveOperation(op string, err error) {
	m.OperationsTotal.WithLabelValues(op, ResultOf(err)).Inc()
}

// ObserveLockout counts one rate-limited login.
func (m *Metrics) ObserveLockout() {
	m.LockoutsTotal.Inc()
}

// ObserveDrop counts an event a subscriber never received.
func (m *Metrics) ObserveDrop(ev events.Event) {
	m.EventsDroppedTotal.WithLabelValues(ev.Name.String()).Inc()
}

// ResultOf maps an operation error to its result label: success, the
// lowercased auth error kind without its prefix, or error.
func ResultOf(err error) string {
	if err == nil {
		return ResultSuccess
	}
	kind := auth.ErrorKindOf(err)
	if kind == "" {
		return ResultError
	}
	return strings.ToLower(strings.TrimPrefix(string(kind), "AUTH_"))
}

// Server serves /metrics and the liveness and readiness probes.
type Server struct {
	addr       string
	log        *slog.Logger
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a metrics server for addr ("127.0.0.1:9100", ":0").
// A nil logger falls back to slog.Default.
func NewServer(addr string, ready ReadinessChecker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	registry := prometheus.NewRegistry()

	return &Server{
		addr:     addr,
		log:      logger,
		registry: registry,
		metrics:  NewMetrics(registry),
		isReady:  ready,
	}
}

// Metrics returns the registered gatehouse metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start listens and serves in the background. Serve failures after Start
// returns arrive on the returned channel, which is closed on shutdown.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("METRICS_SERVER_RUNNING").Errorf("metrics server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("METRICS_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	// The default gatherer carries the Go and process collectors and the
	// package-level audit metrics.
	gatherers := prometheus.Gatherers{s.registry, prometheus.DefaultGatherer}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = srv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server failed", "error", err)
			errCh <- err
		}
	}()

	s.log.Info("metrics server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.Code("METRICS_SHUTDOWN_FAILED").Wrap(err)
		}
	}
	s.log.Info("metrics server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, http.StatusOK, "ok")
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if s.isReady == nil || s.isReady() {
		writeProbe(w, http.StatusOK, "ok")
		return
	}
	writeProbe(w, http.StatusServiceUnavailable, "not ready")
}

func writeProbe(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // the client may have gone away
	io.WriteString(w, body+"\n")
}
