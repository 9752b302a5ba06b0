// Package diagnostics serves Prometheus metrics and health/readiness
// endpoints, the same responsibility apply_configuration.go's
// DiagnosticsServer carries in the teacher, stripped down to the
// handful of routes this module actually needs.
package diagnostics

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	stateNotServing int32 = iota
	stateServing
)

// Server exposes /-/healthy, /-/ready and /metrics on ListenAddress.
// Callers mark it ready once the rest of the program has finished
// initializing, via SetServing.
type Server struct {
	ListenAddress string

	state  atomic.Int32
	server *http.Server
}

// SetServing flips the readiness endpoint to report healthy.
func (s *Server) SetServing() {
	s.state.Store(stateServing)
}

// SetNotServing flips the readiness endpoint back to unhealthy, for
// use during graceful shutdown.
func (s *Server) SetNotServing() {
	s.state.Store(stateNotServing)
}

// Serve blocks, running the diagnostics HTTP server until ctx is
// canceled. It returns nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	if s.ListenAddress == "" {
		<-ctx.Done()
		return nil
	}

	router := mux.NewRouter()
	router.HandleFunc("/-/healthy", func(http.ResponseWriter, *http.Request) {})
	router.HandleFunc("/-/ready", func(w http.ResponseWriter, _ *http.Request) {
		if s.state.Load() == stateServing {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	})
	router.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:    s.ListenAddress,
		Handler: router,
	}
	go func() {
		<-ctx.Done()
		s.SetNotServing()
		s.server.Shutdown(ctx)
	}()
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
