// Package server provides the HTTP server setup and wiring.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/polybuilder/polybuilder/internal/analysis"
	analysisTransport "github.com/polybuilder/polybuilder/internal/analysis/transport"
	"github.com/polybuilder/polybuilder/internal/auth"
	"github.com/polybuilder/polybuilder/internal/chains"
	"github.com/polybuilder/polybuilder/internal/chains/evm"
	"github.com/polybuilder/polybuilder/internal/compiler"
	compilerTransport "github.com/polybuilder/polybuilder/internal/compiler/transport"
	"github.com/polybuilder/polybuilder/internal/config"
	deploymentsDomain "github.com/polybuilder/polybuilder/internal/deployments/domain"
	deploymentsTransport "github.com/polybuilder/polybuilder/internal/deployments/transport"
	"github.com/polybuilder/polybuilder/internal/middleware/logging"
	"github.com/polybuilder/polybuilder/internal/middleware/ratelimit"
	"github.com/polybuilder/polybuilder/internal/middleware/realip"
	"github.com/polybuilder/polybuilder/internal/middleware/security"
	"github.com/polybuilder/polybuilder/internal/observability/metrics"
	"github.com/polybuilder/polybuilder/internal/pipeline"
	pipelineTransport "github.com/polybuilder/polybuilder/internal/pipeline/transport"
	"github.com/polybuilder/polybuilder/internal/storage"
	verificationDomain "github.com/polybuilder/polybuilder/internal/verification/domain"
	verificationTransport "github.com/polybuilder/polybuilder/internal/verification/transport"
)

// Server is the HTTP server
type Server struct {
	cfg    *config.Config
	store  storage.Store
	logger *slog.Logger
	router *chi.Mux

	compile      *compilerTransport.Handler
	deployments  *deploymentsTransport.Handler
	verification *verificationTransport.Handler
	pipeline     *pipelineTransport.Handler
	analysis     *analysisTransport.Handler

	deployLimit func(http.Handler) http.Handler
	stops       []func()
}

// New builds the services and routes. ctx bounds client construction only.
func New(ctx context.Context, cfg *config.Config, store storage.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: logger,
		router: chi.NewRouter(),
	}

	networks := chains.DefaultRegistry(cfg.Networks)
	defaultKey := evm.PrivateKey(cfg.Deploy.PrivateKey)

	comp, err := compiler.NewFromConfig(cfg.Compiler, logger)
	if err != nil {
		return nil, err
	}
	deployer := evm.NewDeployer(networks, cfg.Deploy, logger)
	verifier := verificationDomain.NewService(networks, cfg.Explorer, logger)
	deploySvc := deploymentsDomain.NewService(store, networks)

	runs := pipeline.NewStoreRecorder(store, deploySvc)
	orchestrator := pipeline.New(comp, deployer, verifier, networks, logger,
		pipeline.WithRecorder(runs),
		pipeline.WithDefaultKey(defaultKey),
	)

	var model analysis.Model
	if cfg.Analysis.APIKey != "" {
		gm, err := analysis.NewGeminiModel(ctx, cfg.Analysis.APIKey, cfg.Analysis.Model)
		if err != nil {
			return nil, fmt.Errorf("creating analysis model: %w", err)
		}
		model = gm
	}

	s.compile = compilerTransport.NewHandler(comp)
	s.deployments = deploymentsTransport.NewHandler(deploySvc, deployer, defaultKey, logger)
	s.verification = verificationTransport.NewHandler(verifier)
	s.pipeline = pipelineTransport.NewHandler(orchestrator, runs, cfg.Server.AllowedOrigins, logger)
	s.analysis = analysisTransport.NewHandler(analysis.NewService(model, logger))

	s.setupMiddleware()
	s.setupRoutes()

	logger.Info("server configured",
		"compiler", comp.Toolchain(),
		"auth", cfg.Auth.Type,
		"default_key", !defaultKey.IsZero(),
		"explorer_key", cfg.Explorer.APIKey != "",
		"analysis", model != nil,
	)
	return s, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// MetricsHandler returns the metrics handler for a separate metrics listener.
func (s *Server) MetricsHandler() http.Handler {
	return metrics.Handler()
}

// Close stops background work owned by the middleware.
func (s *Server) Close() {
	for _, stop := range s.stops {
		stop()
	}
}

func (s *Server) setupMiddleware() {
	// realip first so later middleware see the client address
	s.router.Use(realip.Middleware(realip.Config{
		TrustProxy:     s.cfg.Proxy.TrustProxy,
		TrustedProxies: s.cfg.Proxy.TrustedProxies,
	}))
	s.router.Use(security.FilterMiddleware(s.cfg.Security.FilterEnabled))
	s.router.Use(security.MaxBodySizeMiddleware(s.cfg.Security.MaxBodySizeMB))

	limit, stop := ratelimit.Middleware(ratelimit.Config{
		Enabled:        s.cfg.RateLimit.Enabled,
		Requests:       s.cfg.RateLimit.RequestsPerMin,
		BurstSize:      s.cfg.RateLimit.BurstSize,
		CleanupMinutes: s.cfg.RateLimit.CleanupMinutes,
	})
	s.stops = append(s.stops, stop)
	s.router.Use(limit)

	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders: []string{"Retry-After", "X-Request-Id"},
		MaxAge:         300,
	}))
	s.router.Use(middleware.Compress(5))

	deployLimit, stopDeploy := ratelimit.DeployMiddleware(s.cfg.RateLimit.Enabled, s.cfg.RateLimit.DeploysPerHour)
	s.stops = append(s.stops, stopDeploy)
	s.deployLimit = deployLimit
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	if s.cfg.Metrics.Enabled && s.cfg.Metrics.Port == 0 {
		s.router.Handle("/metrics", metrics.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				s.identify(r)
				s.deployments.RegisterReadRoutes(r)
				s.verification.RegisterReadRoutes(r)
				s.pipeline.RegisterReadRoutes(r)
			})

			r.Group(func(r chi.Router) {
				s.requireAuth(r)
				r.Get("/auth/whoami", s.handleWhoAmI)
				s.compile.RegisterWriteRoutes(r)
				s.verification.RegisterWriteRoutes(r)
				s.analysis.RegisterWriteRoutes(r)

				// routes that broadcast transactions
				r.Group(func(r chi.Router) {
					r.Use(s.deployLimit)
					s.deployments.RegisterWriteRoutes(r)
					s.pipeline.RegisterWriteRoutes(r)
				})
			})
		})

		// unversioned aliases kept for older frontends
		s.verification.RegisterReadRoutes(r)
		r.Group(func(r chi.Router) {
			s.requireAuth(r)
			s.compile.RegisterWriteRoutes(r)
			s.verification.RegisterWriteRoutes(r)
			r.Group(func(r chi.Router) {
				r.Use(s.deployLimit)
				s.deployments.RegisterWriteRoutes(r)
			})
		})
	})
}

// identify attaches a presented key to read requests without requiring one.
func (s *Server) identify(r chi.Router) {
	if s.cfg.Auth.Type == "api-key" {
		r.Use(auth.OptionalMiddleware(s.store))
	}
	r.Use(logging.CaptureKey)
}

// requireAuth guards write routes when API key auth is configured.
func (s *Server) requireAuth(r chi.Router) {
	if s.cfg.Auth.Type == "api-key" {
		r.Use(auth.Middleware(s.store, writeError))
	}
	r.Use(logging.CaptureKey)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWhoAmI lets clients check a key without side effects.
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"authenticated": false}
	if key := auth.GetAPIKeyFromContext(r.Context()); key != nil {
		resp = map[string]any{"authenticated": true, "keyId": key.ID, "name": key.Name}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
