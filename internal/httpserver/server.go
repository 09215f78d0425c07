// Package httpserver is the engine's small observability surface:
// /metrics for Prometheus scraping and /healthz for liveness checks.
// Adapted from the teacher's read-only mux server, trimmed to the two
// routes an arbitrage daemon actually needs.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/arbitron/internal/metrics"
)

type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:         "127.0.0.1",
		Port:         9090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server serves /metrics and /healthz.
type Server struct {
	router *mux.Router
	server *http.Server
}

// New builds the server; gatherer is the Prometheus registry the
// metrics.Registry was constructed against.
func New(cfg Config, gatherer prometheus.Gatherer) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d busy or unavailable: %w", cfg.Port, err)
	}
	listener.Close()

	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler(gatherer)).Methods("GET")
	router.HandleFunc("/healthz", healthHandler).Methods("GET")
	router.NotFoundHandler = http.HandlerFunc(notFound)

	return &Server{
		router: router,
		server: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}, nil
}

// ListenAndServe blocks serving requests until the process shuts down
// or the server errors.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.server.Addr).Msg("httpserver: listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]any{"error": "not found"})
}
