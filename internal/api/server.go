package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/nerrad567/campus-auth/internal/audit"
	"github.com/nerrad567/campus-auth/internal/auth"
	"github.com/nerrad567/campus-auth/internal/infrastructure/config"
	"github.com/nerrad567/campus-auth/internal/infrastructure/logging"
	"github.com/nerrad567/campus-auth/internal/ratelimit"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by the database and other backends the
// health endpoint reports on.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ActivityLister lists recorded activity for the admin feed.
type ActivityLister interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	RateLimit config.RateLimitConfig
	Logger    *logging.Logger
	Auth      *auth.Service
	Database  HealthChecker      // optional
	Limiter   *ratelimit.Limiter // optional: nil disables throttling
	Activity  ActivityLister     // optional: nil disables GET /activity
	Version   string
}

// Server is the HTTP front door of the auth service.
//
// It owns the listener, routes and middleware. Every handler delegates to
// auth.Service; the server itself holds no auth state.
type Server struct {
	cfg      config.APIConfig
	limits   config.RateLimitConfig
	logger   *logging.Logger
	auth     *auth.Service
	db       HealthChecker
	limiter  *ratelimit.Limiter
	activity ActivityLister
	version  string
	server   *http.Server

	trustedProxies []netip.Prefix
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}

	proxies := make([]netip.Prefix, 0, len(deps.RateLimit.TrustedProxies))
	for _, entry := range deps.RateLimit.TrustedProxies {
		p, err := config.ParseProxy(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		proxies = append(proxies, p)
	}

	return &Server{
		cfg:            deps.Config,
		limits:         deps.RateLimit,
		logger:         deps.Logger,
		auth:           deps.Auth,
		db:             deps.Database,
		limiter:        deps.Limiter,
		activity:       deps.Activity,
		version:        deps.Version,
		trustedProxies: proxies,
	}, nil
}

// Start builds the router and begins listening in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
