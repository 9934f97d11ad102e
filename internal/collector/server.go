package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/SebastienMelki/pixel/internal/dedup"
	"github.com/SebastienMelki/pixel/internal/observability"
	"github.com/SebastienMelki/pixel/internal/store"
)

// Server is the collection endpoint.
type Server struct {
	cfg     Config
	store   *store.Store
	filter  *dedup.Filter
	metrics *observability.Metrics
	logger  *slog.Logger

	handler http.Handler
	server  *http.Server
}

// NewServer wires the collector's routes and middleware. filter and obs are
// optional: without a filter only the store's unique index catches repeats,
// without obs no metrics are recorded or served.
func NewServer(cfg Config, st *store.Store, filter *dedup.Filter, obs *observability.Module, logger *slog.Logger) (*Server, error) {
	if st == nil {
		return nil, errors.New("collector: store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		store:  st,
		filter: filter,
		logger: logger.With("component", "collector"),
	}
	if obs != nil {
		s.metrics = obs.Metrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /collect", s.handleCollect)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if obs != nil {
		mux.Handle("GET /metrics", obs.MetricsHandler())
	}

	s.handler = Chain(observability.HTTPMetrics(s.metrics)(mux),
		Recovery(s.logger),
		RequestID,
		CORS(cfg.CORS),
		RateLimit(cfg.RateLimit),
		PerClientRateLimit(cfg.RateLimit),
		BodySizeLimit(cfg.MaxBodyBytes),
	)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves until Shutdown. It
// returns nil after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("collector: listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("collector listening", "addr", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("collector: serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones, bounded by
// ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("collector shutting down")
	return s.server.Shutdown(ctx)
}
