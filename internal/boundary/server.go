// Package boundary implements the HTTP boundary: plain-text health probes,
// the Prometheus scrape endpoint, and the WebSocket bus upgrade endpoint,
// all served from one HTTP listener.
package boundary

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /health, /healthz, /readyz, /metrics, and /ws.
type Server struct {
	httpServer *http.Server

	mu    sync.RWMutex
	ready bool
}

// New creates a boundary HTTP server listening on addr. wsHandler serves
// /ws; it may be nil if the bus is unconfigured.
func New(addr string, registry *prometheus.Registry, wsHandler http.Handler) *Server {
	s := &Server{}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.handleOK)
	mux.HandleFunc("/healthz", s.handleOK)
	mux.HandleFunc("/readyz", s.handleReady)
	if wsHandler != nil {
		mux.Handle("/ws", wsHandler)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

// Start begins serving HTTP requests. It blocks until the server is stopped
// or encounters a fatal error; ErrServerClosed is not returned.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("boundary server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, letting in-flight requests finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// SetReady marks the service ready or not for the readiness probe.
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

func (s *Server) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *Server) handleOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !s.isReady() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "NOT READY")
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
