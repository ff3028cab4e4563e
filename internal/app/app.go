// Package app wires the bulk operation engine, transport handlers, and
// observability stack into a runnable HTTP service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"bulkhub/internal/bulk"
	"bulkhub/internal/config"
	apierrors "bulkhub/internal/errors"
	"bulkhub/internal/infrastructure"
	"bulkhub/internal/middleware"
	transporthttp "bulkhub/internal/transport/http"
	"bulkhub/internal/websocket"
)

// Application is the composed service: engine, router, and server.
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Manager       *bulk.Manager
	OTelProviders *infrastructure.OTelProviders
	Logger        *slog.Logger

	errorHandler *apierrors.ErrorHandler
	stopCleanup  context.CancelFunc
}

// NewApplication builds the application from configuration, with all
// dependencies injected top-down.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}

	logger := infrastructure.InitializeLogger(cfg.Logging)
	logger.Info("application starting",
		slog.String("service", infrastructure.ServiceName),
		slog.String("version", infrastructure.ServiceVersion),
		slog.Int("port", cfg.Server.Port))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	metrics, err := bulk.NewMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine metrics: %w", err)
	}

	engineCfg := bulk.NewConfigBuilder().
		WithWorkers(cfg.Engine.Workers).
		WithMaxBatchSize(cfg.Engine.MaxBatchSize).
		WithErrorCap(cfg.Engine.ErrorCap).
		WithRetry(bulk.RetryConfig{
			MaxAttempts:  cfg.Engine.RetryAttempts,
			InitialDelay: cfg.Engine.RetryDelay,
			MaxDelay:     cfg.Engine.RetryMaxDelay,
			Multiplier:   2.0,
		}).
		WithSoftTimeout(cfg.Engine.SoftTimeout).
		WithSubscriberBuffer(cfg.Engine.SubscriberBuffer).
		Build()

	manager := bulk.NewManager(bulk.NewMemoryStore(), bulk.NewRegistry(), engineCfg, logger, metrics)
	if err := registerBuiltinActions(manager, logger); err != nil {
		return nil, err
	}

	app := &Application{
		Config:        cfg,
		Manager:       manager,
		OTelProviders: otelProviders,
		Logger:        logger,
		errorHandler:  apierrors.NewErrorHandler(logger, cfg.Logging.Development),
	}
	app.setupRouter()
	app.createServer()
	return app, nil
}

// setupRouter configures the HTTP router. The WebSocket route sits outside
// the response-wrapping middleware group so the hijack works.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	wsHandler := websocket.NewHandler(a.Manager, a.Config, a.errorHandler, a.Logger)
	r.With(middleware.OwnerIdentity).Get("/ws", wsHandler.ServeHTTP)
	r.With(middleware.OwnerIdentity).Get("/ws/operations/{id}", wsHandler.ServeHTTP)

	healthHandler := transporthttp.NewHealthHandler()
	r.Get("/healthz", healthHandler.HealthCheck)
	r.Get("/api/version", healthHandler.Version)

	if a.OTelProviders != nil && a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.StructuredLogger(a.Logger))
		r.Use(middleware.Recoverer(a.Logger))
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: a.Config.Security.AllowedOrigins,
		}))

		if a.Config.Security.RateLimit.Enabled {
			r.Use(middleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		r.Use(middleware.OwnerIdentity)

		opsHandler := transporthttp.NewOperationsHandler(a.Manager, a.errorHandler, a.Logger)
		r.Mount("/api/operations", opsHandler.Routes())
	})

	a.Router = r
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// startCleanupLoop evicts terminal operations past the retention window on
// a fixed interval until the application stops.
func (a *Application) startCleanupLoop(ctx context.Context) {
	interval := a.Config.Engine.CleanupInterval
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed := a.Manager.CleanupTerminal(a.Config.Engine.Retention)
				if removed > 0 {
					a.Logger.Info("terminal operations evicted",
						slog.Int("removed", removed),
						slog.Duration("retention", a.Config.Engine.Retention))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop shuts the service down in order: refuse new requests, drain the
// engine, then flush telemetry.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if a.stopCleanup != nil {
		a.stopCleanup()
	}

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if err := a.Manager.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "engine shutdown incomplete", slog.String("error", err.Error()))
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "application shutdown complete")
	return nil
}

// Run starts the server and blocks until an interrupt signal or a fatal
// server error, then stops gracefully.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	a.stopCleanup = cancelCleanup
	a.startCleanupLoop(cleanupCtx)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.Stop(context.Background())
	})

	return g.Wait()
}
