// Package server wires the prescription ledger services into one HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/medrex/rx-ledger/internal/gateway"
	"github.com/medrex/rx-ledger/internal/prescription"
	"github.com/medrex/rx-ledger/internal/sharing"
	"github.com/medrex/rx-ledger/internal/verification"
	"github.com/medrex/rx-ledger/pkg/config"
	"github.com/medrex/rx-ledger/pkg/database"
	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/monitoring"
	"github.com/medrex/rx-ledger/pkg/repository"
)

const (
	// ServiceName identifies this service in metrics, traces and health reports
	ServiceName = "rx-ledger"
	// ServiceVersion is reported by the health endpoint
	ServiceVersion = "1.0.0"
)

// Server is the HTTP front of the prescription ledger
type Server struct {
	cfg        *config.Config
	logger     *logger.Logger
	db         *database.DB
	backends   *Backends
	metrics    *monitoring.MetricsCollector
	tracing    *monitoring.TracingManager
	health     *monitoring.HealthManager
	issuer     *prescription.Issuer
	router     *mux.Router
	httpServer *http.Server
	stopLimits context.CancelFunc
}

// New connects to the database, opens the ledger backends and builds the server
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		return nil, err
	}

	backends, err := OpenBackends(cfg, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	s, err := NewWithDependencies(cfg, log, db, backends)
	if err != nil {
		backends.Close()
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDependencies builds the server around an existing database handle
// and ledger backends.
func NewWithDependencies(cfg *config.Config, log *logger.Logger, db *database.DB, backends *Backends) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		logger:   log,
		db:       db,
		backends: backends,
		metrics:  monitoring.NewMetricsCollector(ServiceName),
		health:   monitoring.NewHealthManager(ServiceName, ServiceVersion),
		router:   mux.NewRouter(),
	}

	if cfg.Tracing.Enabled {
		tracing, err := monitoring.NewTracingManager(&monitoring.TracingConfig{
			ServiceName:    ServiceName,
			ServiceVersion: ServiceVersion,
			JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
			Environment:    cfg.Tracing.Environment,
			SamplingRate:   cfg.Tracing.SamplingRate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		s.tracing = tracing
	} else {
		s.tracing = monitoring.NewNoopTracingManager(ServiceName)
	}

	monitor := monitoring.NewMonitoringMiddleware(s.metrics, s.tracing, log)

	if cfg.Monitoring.HealthTimeout > 0 {
		s.health.SetTimeout(cfg.Monitoring.HealthTimeout)
	}
	s.health.RegisterChecker("database", monitoring.NewDatabaseHealthChecker(db.DB))
	if backends.Ledger != nil {
		s.health.RegisterChecker("ledger", monitoring.ErrorHealthChecker(backends.Ledger.Ping))
	}

	prescriptions := repository.NewPrescriptionRepository(db, log, s.metrics, s.tracing)
	dispensations := repository.NewDispensationRepository(db, log, s.metrics, s.tracing)
	grants := repository.NewSharedAccessRepository(db, log, s.metrics, s.tracing)

	engine := verification.NewEngine(prescriptions, backends.Oracle, cfg.Oracle.Timeout, monitor, s.metrics, log)
	assembler := prescription.NewAssembler(prescriptions, log)
	s.issuer = prescription.NewIssuer(prescriptions, backends.Notarizer, cfg.Notary.Timeout, monitor, log)
	dispenser := prescription.NewDispenser(dispensations, engine, cfg.Dispense.RequireVerification, s.metrics, log)

	sharingOptions := sharing.Options{EnforceOwnership: cfg.Sharing.EnforceOwnership}
	if cfg.Sharing.LinkSecret != "" {
		sharingOptions.Links = sharing.NewLinkSigner(cfg.Sharing.LinkSecret)
	} else {
		log.WithComponent("server").Warn("sharing.link_secret is empty; share links are disabled")
	}
	grantManager := sharing.NewManager(grants, prescriptions, sharingOptions, s.metrics, log)

	var verifyMW func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		proxies, err := gateway.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
		if err != nil {
			return nil, fmt.Errorf("failed to configure rate limiting: %w", err)
		}
		limiter := gateway.NewRateLimiter(cfg.RateLimit.RequestsPerMin, time.Minute)
		ctx, cancel := context.WithCancel(context.Background())
		limiter.StartCleanup(ctx, time.Duration(cfg.RateLimit.CleanupInterval)*time.Second)
		s.stopLimits = cancel
		verifyMW = gateway.RateLimit(limiter, proxies, log, s.metrics)
	}

	s.setupMiddleware(monitor)
	s.setupRoutes()

	api := s.router.PathPrefix("/api/v1").Subrouter()
	prescription.NewHandler(assembler, s.issuer, dispenser, engine, log).RegisterRoutes(api, verifyMW)
	sharing.NewHandler(grantManager, assembler, log).RegisterRoutes(api)

	// Preflight requests only need the CORS middleware to answer them.
	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	return s, nil
}

func (s *Server) setupMiddleware(monitor *monitoring.MonitoringMiddleware) {
	s.router.Use(monitor.RequestID)
	s.router.Use(s.tracing.HTTPMiddleware(routeTemplate))
	s.router.Use(monitor.HTTPMiddleware(routeTemplate))
	s.router.Use(gateway.CORS)
	s.router.Use(gateway.SecurityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc(s.cfg.Monitoring.HealthPath, s.health.HTTPHandler()).Methods("GET")
	if s.cfg.Monitoring.Enabled {
		s.router.Handle(s.cfg.Monitoring.MetricsPath, s.metrics.Handler()).Methods("GET")
	}
}

// routeTemplate labels requests by their mux path template so that ids do
// not explode metric cardinality.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until the server is stopped
func (s *Server) Start() error {
	s.logger.WithComponent("server").WithField("addr", s.httpServer.Addr).Info("Starting rx-ledger server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and background notarizations, then
// releases the database, ledger and tracing exporter.
func (s *Server) Stop(ctx context.Context) error {
	log := s.logger.WithComponent("server")
	log.Info("Stopping rx-ledger server")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	if s.stopLimits != nil {
		s.stopLimits()
	}

	drained := make(chan struct{})
	go func() {
		s.issuer.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		log.Warn("Timed out waiting for pending notarizations")
	}

	if err := s.tracing.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
	}
	if err := s.backends.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ledger close: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}

	return errors.Join(errs...)
}
