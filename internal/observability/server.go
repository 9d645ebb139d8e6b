// Package observability provides the HTTP server for health checks,
// instance status and Prometheus metrics.
//
// # Endpoints
//
//   - GET /healthz: 200 while the process is running.
//   - GET /readyz: 200 once every prober has started, 503 before.
//   - GET /status: last known status of each monitored instance, as JSON.
//   - GET /metrics: Prometheus text exposition format.
//
// # Custom Metrics
//
//	┌────────────────────────────────────────┬─────────┬─────────────────────────────────────┐
//	│ Metric Name                            │ Type    │ Description                         │
//	├────────────────────────────────────────┼─────────┼─────────────────────────────────────┤
//	│ sninstance_api_requests_total          │ Counter │ ServiceNow API requests             │
//	│ sninstance_api_errors_total            │ Counter │ ServiceNow API errors (by code)     │
//	│ sninstance_api_latency_seconds         │ Hist    │ ServiceNow API response latency     │
//	│ sninstance_up                          │ Gauge   │ 1 if the last probe saw the instance│
//	│ sninstance_probes_total                │ Counter │ Probes by result (up/down/error)    │
//	│ sninstance_status_events_total         │ Counter │ Status events by outcome            │
//	└────────────────────────────────────────┴─────────┴─────────────────────────────────────┘
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RaikaSurendra/servicenow-instance/internal/state"
)

// ----- Prometheus Metrics -----

// Metrics holds all Prometheus metrics, registered with the default registry.
var Metrics = struct {
	SNAPIRequestsTotal *prometheus.CounterVec
	SNAPIErrorsTotal   *prometheus.CounterVec
	SNAPILatency       *prometheus.HistogramVec

	InstanceUp        *prometheus.GaugeVec
	ProbesTotal       *prometheus.CounterVec
	StatusEventsTotal *prometheus.CounterVec
}{
	SNAPIRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sninstance_api_requests_total",
		Help: "Total number of ServiceNow API requests.",
	}, []string{"instance", "endpoint"}),

	SNAPIErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sninstance_api_errors_total",
		Help: "Total number of ServiceNow API errors by status code.",
	}, []string{"instance", "status_code"}),

	SNAPILatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sninstance_api_latency_seconds",
		Help:    "ServiceNow API response latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"instance", "endpoint"}),

	InstanceUp: promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sninstance_up",
		Help: "Whether the last liveness probe found the instance up (1) or down (0).",
	}, []string{"instance"}),

	ProbesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sninstance_probes_total",
		Help: "Total number of liveness probes by result.",
	}, []string{"instance", "result"}),

	StatusEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sninstance_status_events_total",
		Help: "Total number of status change events by outcome.",
	}, []string{"instance", "outcome"}),
}

// ----- Health/Readiness Server -----

// StatusSource exposes the last known status per instance for /status.
type StatusSource interface {
	Snapshot() map[string]state.Status
}

// Server provides HTTP endpoints for health checks, readiness probes,
// instance status and Prometheus metrics.
type Server struct {
	addr   string
	ready  atomic.Bool
	status atomic.Pointer[StatusSource]
	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates a new observability HTTP server.
func NewServer(addr string, logger *slog.Logger) *Server {
	s := &Server{
		addr:   addr,
		logger: logger.With("component", "observability"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start begins listening for HTTP requests. Blocks until the context is
// cancelled, then gracefully shuts down the server.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("observability server starting", "addr", s.addr)

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down observability server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("observability server: %w", err)
	}
	return nil
}

// SetReady marks the server as ready (or not ready) for readiness probes.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	s.logger.Info("readiness state changed", "ready", ready)
}

// SetStatusSource sets what /status reports.
func (s *Server) SetStatusSource(src StatusSource) {
	s.status.Store(&src)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"status":"healthy"}`)
}

// handleReady responds with 200 if ready, 503 if not yet ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ready"}`)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, `{"status":"not_ready"}`)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	snapshot := map[string]state.Status{}
	if src := s.status.Load(); src != nil && *src != nil {
		snapshot = (*src).Snapshot()
	}
	if err := json.NewEncoder(w).Encode(map[string]any{"instances": snapshot}); err != nil {
		s.logger.Error("encoding status", "error", err)
	}
}
