package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Server serves the observability surface: /healthz, /readyz and /metrics.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the server on the given port over the given health
// evaluator.
func NewServer(port int, health *Health) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HealthzHandler())
	mux.HandleFunc("/readyz", health.ReadyzHandler())
	mux.Handle("/metrics", MetricsHandler())

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start blocks serving until Shutdown or a listener error.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
