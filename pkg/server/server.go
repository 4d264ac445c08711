// Package server exposes the manager's REST API: catalog queries,
// plugin uploads, blueprint lookups and on-demand import resolution.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ahmadiesa-abu/cloudify-manager/pkg/catalog"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/resolver"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/telemetry"
)

// API version prefix and tenant header, matching what the HTTP catalog
// client sends.
const (
	apiPrefix     = "/api/v3.1"
	tenantHeader  = "Tenant"
	defaultTenant = "default_tenant"
)

// Options configures a Server.
type Options struct {
	// Catalog is the artifact catalog the API fronts. Required.
	Catalog catalog.Client

	// Resolver serves the resolve endpoint. When nil the endpoint
	// responds 503.
	Resolver *resolver.Resolver

	// Telemetry instruments request handling. Optional.
	Telemetry *telemetry.Telemetry

	// ListenAddress is the host:port to serve on.
	ListenAddress string

	// CORSAllowedOrigins enables CORS for the listed origins.
	CORSAllowedOrigins []string

	// ReadTimeout bounds request reading.
	ReadTimeout time.Duration

	// WriteTimeout bounds response writing.
	WriteTimeout time.Duration
}

// Server is the manager's REST API server.
type Server struct {
	catalog  catalog.Client
	resolver *resolver.Resolver
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
	httpSrv  *http.Server
}

// New creates a Server and mounts its routes.
func New(opts Options) *Server {
	logger := telemetry.FromContext(context.Background())
	if opts.Telemetry != nil {
		logger = opts.Telemetry.Logger.NewComponentLogger("server")
	}

	s := &Server{
		catalog:  opts.Catalog,
		resolver: opts.Resolver,
		tel:      opts.Telemetry,
		logger:   logger,
	}

	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 60 * time.Second
	}

	s.httpSrv = &http.Server{
		Addr:         opts.ListenAddress,
		Handler:      s.router(opts.CORSAllowedOrigins),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s
}

// router builds the chi route tree.
func (s *Server) router(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.telemetryContext)

	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", tenantHeader},
		}))
	}

	r.Route(apiPrefix, func(r chi.Router) {
		r.Get("/manager", s.handleManagerInfo)
		r.Get("/plugins", s.handleListPlugins)
		r.Post("/plugins", s.handleUploadPlugin)
		r.Get("/plugins/{pluginID}/yaml", s.handlePluginYAML)
		r.Get("/blueprints/{blueprintID}", s.handleGetBlueprint)
		r.Post("/resolve", s.handleResolve)
	})

	r.Get("/health", s.handleHealth)
	return r
}

// telemetryContext attaches the telemetry instance to every request
// context so handlers and the resolver below them are instrumented.
func (s *Server) telemetryContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tel != nil {
			r = r.WithContext(s.tel.WithContext(r.Context()))
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves the API until the context is cancelled or the
// listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.httpSrv.ListenAndServe()
	}()

	s.logger.WithField("address", s.httpSrv.Addr).Info("REST API listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// requestTenant reads the tenant header, defaulting when absent.
func requestTenant(r *http.Request) string {
	if tenant := r.Header.Get(tenantHeader); tenant != "" {
		return tenant
	}
	return defaultTenant
}
