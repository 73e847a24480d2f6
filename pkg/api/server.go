package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psaab/bbrd/pkg/backbone"
	"github.com/psaab/bbrd/pkg/logging"
	"github.com/psaab/bbrd/pkg/mroute"
)

// RoleSource reports the Backbone Router role.
type RoleSource interface {
	Role() backbone.Role
}

// ListenerSource reports the multicast listener table.
type ListenerSource interface {
	Listeners() []netip.Addr
}

// MFCSource exposes the kernel forwarding cache.
type MFCSource interface {
	Enabled() bool
	Routes() []mroute.RouteEntry
	Stats() mroute.Stats
}

// Config configures the API server.
type Config struct {
	Addr      string
	Auth      *AuthConfig // nil = no authentication
	Role      RoleSource
	Listeners ListenerSource
	MFC       MFCSource // nil when the kernel forwarder is not in use
	Events    *logging.EventBuffer
	Now       func() time.Time
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	role       RoleSource
	listeners  ListenerSource
	mfc        MFCSource
	events     *logging.EventBuffer
	now        func() time.Time
	startTime  time.Time
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	s := &Server{
		role:      cfg.Role,
		listeners: cfg.Listeners,
		mfc:       cfg.MFC,
		events:    cfg.Events,
		now:       cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.startTime = s.now()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(cfg.Auth),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the API routes, wrapped in authentication when auth is set.
func (s *Server) Handler(auth *AuthConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	// Prometheus metrics with isolated registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(newCollector(s))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/v1/status", s.statusHandler)
	mux.HandleFunc("GET /api/v1/role", s.roleHandler)
	mux.HandleFunc("GET /api/v1/mfc", s.mfcHandler)
	mux.HandleFunc("GET /api/v1/listeners", s.listenersHandler)
	mux.HandleFunc("GET /api/v1/events", s.eventsHandler)
	mux.HandleFunc("GET /api/v1/events/stream", s.eventStreamHandler)

	if auth != nil {
		return authMiddleware(*auth, mux)
	}
	return mux
}

// Run serves on the configured address and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// Streaming handlers end with ctx.
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api: HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
