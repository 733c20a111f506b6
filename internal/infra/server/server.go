// Package server runs the scheduler's liveness/readiness/metrics HTTP
// surface (A3): /health, /health/ready, and /metrics. Every request is
// traced and recorded in the HTTP request metrics.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sguzman/pulsewire-sub000/internal/observability/metrics"
	"github.com/sguzman/pulsewire-sub000/internal/observability/tracing"
)

// Server exposes the scheduler's operational HTTP endpoints. It supports
// graceful shutdown via context cancellation, mirroring the teacher's
// worker health server.
type Server struct {
	addr    string
	logger  *slog.Logger
	isReady *atomic.Bool
	server  *http.Server
}

type healthResponse struct {
	Status string `json:"status"`
}

// New creates a Server listening on addr, initially not ready.
func New(addr string, logger *slog.Logger) *Server {
	isReady := &atomic.Bool{}
	isReady.Store(false)
	return &Server{addr: addr, logger: logger, isReady: isReady}
}

// Start blocks, serving /health, /health/ready, and /metrics until ctx is
// cancelled or the server errors. On cancellation it shuts down gracefully
// within 5 seconds.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      tracing.Middleware(s.instrument(mux)),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("operational server starting", slog.String("addr", s.addr))
		if err := s.server.ListenAndServe(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("operational server shutting down")
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("operational server shutdown failed", slog.Any("error", err))
			return err
		}
		s.logger.Info("operational server stopped")
		return http.ErrServerClosed

	case err := <-errChan:
		if err == http.ErrServerClosed {
			return err
		}
		s.logger.Error("operational server failed", slog.Any("error", err))
		return err
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code for
// RecordHTTPRequest; promhttp's own handler writes directly, so this only
// observes what it reports.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument records request counts, latency, and in-flight connections for
// every request this server serves, regardless of route.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.ActiveConnections.Inc()
		defer metrics.ActiveConnections.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start))
	})
}

// SetReady toggles the readiness probe's response.
func (s *Server) SetReady(ready bool) {
	s.isReady.Store(ready)
	s.logger.Info("operational server readiness changed", slog.Bool("ready", ready))
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok"}); err != nil {
		s.logger.Error("failed to encode liveness response", slog.Any("error", err))
	}
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.isReady.Load() {
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok"}); err != nil {
			s.logger.Error("failed to encode readiness response", slog.Any("error", err))
		}
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	if err := json.NewEncoder(w).Encode(healthResponse{Status: "not ready"}); err != nil {
		s.logger.Error("failed to encode not ready response", slog.Any("error", err))
	}
}
