// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/event-notifications/internal/config"
	"github.com/bissquit/event-notifications/internal/notifications"
	notificationspostgres "github.com/bissquit/event-notifications/internal/notifications/postgres"
	"github.com/bissquit/event-notifications/internal/notifications/webhook"
	"github.com/bissquit/event-notifications/internal/pkg/ctxlog"
	"github.com/bissquit/event-notifications/internal/pkg/httputil"
	"github.com/bissquit/event-notifications/internal/pkg/metrics"
	"github.com/bissquit/event-notifications/internal/pkg/postgres"
	"github.com/bissquit/event-notifications/internal/signing"
	"github.com/bissquit/event-notifications/internal/subscriptions"
	subscriptionspostgres "github.com/bissquit/event-notifications/internal/subscriptions/postgres"
	"github.com/bissquit/event-notifications/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsInterval = 15 * time.Second

// App represents the application instance.
type App struct {
	config         *config.Config
	logger         *slog.Logger
	db             *pgxpool.Pool
	server         *http.Server
	metricsServer  *http.Server
	metricsCancel  context.CancelFunc
	realtimeWorker *notifications.Worker
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	if cfg.Database.AutoMigrate {
		if _, err := postgres.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go app.collectDBMetrics(metricsCtx)

	router, err := app.setupRouter(metricsCtx)
	if err != nil {
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers and blocks until the main server stops.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Undelivered realtime notifications stay OPEN for polling.
	if a.realtimeWorker != nil {
		a.realtimeWorker.Stop()
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	shutdown := func(name string, srv *http.Server) {
		defer wg.Done()
		if err := srv.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
			mu.Unlock()
		}
	}

	wg.Add(2)
	go shutdown("server", a.server)
	go shutdown("metrics server", a.metricsServer)
	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context, repo notifications.Repository) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := repo.GetQueueStats(ctx)
			if err != nil {
				slog.Error("failed to get notification stats", "error", err)
				continue
			}
			notifications.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// RealtimeWorker returns the callback delivery worker, or nil when realtime
// delivery is disabled.
func (a *App) RealtimeWorker() *notifications.Worker {
	return a.realtimeWorker
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.config.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", httputil.ClientIDHeader, notifications.ResourceIDHeader},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})
	r.Get("/docs", docsHandler)

	signer, err := newSigner(a.config.Signing)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	builder := notifications.NewResponseBuilder(a.config.Notifications.TokenIssuer)
	generator, err := notifications.NewGenerator(a.config.Notifications.Generator, builder, signer)
	if err != nil {
		return nil, fmt.Errorf("create generator: %w", err)
	}

	subscriptionsRepo := subscriptionspostgres.NewRepository(a.db)
	subscriptionsService := subscriptions.NewService(subscriptionsRepo)
	subscriptionsHandler := subscriptions.NewHandler(subscriptionsService)

	notificationsRepo := notificationspostgres.NewRepository(a.db)
	pollingService := notifications.NewPollingService(notificationsRepo, generator, a.config.Notifications.SetsToReturn)

	var dispatcher notifications.Dispatcher
	if rt := a.config.Notifications.Realtime; rt.Enabled {
		sender := webhook.NewSender(webhook.Config{
			Timeout:   rt.RequestTimeout,
			RateLimit: rt.RateLimit,
		})

		a.realtimeWorker = notifications.NewWorker(notifications.WorkerConfig{
			NumWorkers:            rt.Workers,
			QueueSize:             rt.QueueSize,
			MaxRetries:            rt.MaxRetries,
			InitialBackoff:        rt.InitialBackoff,
			BackoffFunction:       notifications.BackoffFunction(rt.BackoffFunction),
			CircuitBreakerTimeout: rt.CircuitBreakerTimeout,
		}, subscriptionsService, sender, generator, pollingService)
		a.realtimeWorker.Start(ctx)
		dispatcher = a.realtimeWorker
	}

	slog.Info("notifications configured",
		"issuer", a.config.Notifications.TokenIssuer,
		"sets_to_return", a.config.Notifications.SetsToReturn,
		"signing_algorithm", signer.Algorithm(),
		"realtime_enabled", a.config.Notifications.Realtime.Enabled,
	)

	notificationsService := notifications.NewService(notificationsRepo, dispatcher)
	notificationsHandler := notifications.NewHandler(notificationsService, pollingService, a.config.Notifications.SetsToReturn)

	go a.collectQueueMetrics(ctx, notificationsRepo)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.ClientIDMiddleware)

		notificationsHandler.RegisterRoutes(r)
		subscriptionsHandler.RegisterRoutes(r)
	})

	return r, nil
}

func newSigner(cfg config.SigningConfig) (*signing.Signer, error) {
	signerCfg := signing.Config{
		Algorithm: cfg.Algorithm,
		SecretKey: cfg.SecretKey,
		KeyID:     cfg.KeyID,
	}
	if cfg.PrivateKeyPath != "" {
		return signing.NewSignerFromFile(signerCfg, cfg.PrivateKeyPath)
	}
	return signing.NewSigner(signerCfg)
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func docsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Event Notifications API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("service", "event-notifications")
}
