package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether the orchestrator is usable; nil means healthy
type HealthFunc func() error

// Server exposes /metrics and /healthz
type Server struct {
	srv    *http.Server
	logger *log.Logger
}

func NewServer(addr string, m *Metrics, health HealthFunc, logger *log.Logger) *Server {
	if m == nil {
		panic("MetricsServer: metrics cannot be nil")
	}
	if logger == nil {
		panic("MetricsServer: logger cannot be nil")
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           Handler(m, health),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Handler builds the router; split out so it can be served by httptest
func Handler(m *Metrics, health HealthFunc) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "ok"}
		code := http.StatusOK
		if health != nil {
			if err := health(); err != nil {
				body = map[string]string{"status": "unavailable", "error": err.Error()}
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	return mux
}

// Serve listens on the configured address and blocks until Shutdown
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Printf("MetricsServer: listening on %s", ln.Addr())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
