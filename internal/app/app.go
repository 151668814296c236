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

	"github.com/bissquit/incident-warden/internal/auth"
	"github.com/bissquit/incident-warden/internal/config"
	"github.com/bissquit/incident-warden/internal/eventlog"
	eventlogpostgres "github.com/bissquit/incident-warden/internal/eventlog/postgres"
	"github.com/bissquit/incident-warden/internal/incident"
	incidentpostgres "github.com/bissquit/incident-warden/internal/incident/postgres"
	"github.com/bissquit/incident-warden/internal/integrations"
	"github.com/bissquit/incident-warden/internal/integrations/confluence"
	"github.com/bissquit/incident-warden/internal/integrations/jira"
	"github.com/bissquit/incident-warden/internal/integrations/pagerduty"
	"github.com/bissquit/incident-warden/internal/integrations/statuspage"
	"github.com/bissquit/incident-warden/internal/notify"
	notifyslack "github.com/bissquit/incident-warden/internal/notify/slack"
	"github.com/bissquit/incident-warden/internal/pkg/ctxlog"
	"github.com/bissquit/incident-warden/internal/pkg/httputil"
	"github.com/bissquit/incident-warden/internal/pkg/metrics"
	"github.com/bissquit/incident-warden/internal/pkg/postgres"
	"github.com/bissquit/incident-warden/internal/postmortem"
	"github.com/bissquit/incident-warden/internal/scheduler"
	"github.com/bissquit/incident-warden/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	bgCancel      context.CancelFunc
	sched         *scheduler.Scheduler
	dispatcher    *integrations.Dispatcher
	incidents     *incident.Service
}

// New creates a new application instance: database, migrations,
// services, reminder jobs and both HTTP servers.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	if cfg.Database.MigrationsPath != "" {
		if err := postgres.Migrate("file://"+cfg.Database.MigrationsPath, cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
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

	bgCtx, bgCancel := context.WithCancel(context.Background())
	bgCtx = ctxlog.WithLogger(bgCtx, logger)

	app := &App{
		config:   cfg,
		logger:   logger,
		db:       db,
		bgCancel: bgCancel,
	}

	go app.collectDBMetrics(bgCtx)

	router, err := app.setup(bgCtx)
	if err != nil {
		db.Close()
		bgCancel()
		return nil, fmt.Errorf("setup application: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
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

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.bgCancel()

	// Reminder jobs stop before the servers so nothing fires mid-teardown.
	if a.sched != nil {
		a.sched.Stop()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	// Let in-flight integration calls finish before the pool closes.
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}

	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
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

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Incidents returns the incident service. Used in tests.
func (a *App) Incidents() *incident.Service {
	return a.incidents
}

func (a *App) setup(ctx context.Context) (*chi.Mux, error) {
	gateway, err := a.setupGateway()
	if err != nil {
		return nil, err
	}

	registry, err := a.setupRegistry()
	if err != nil {
		return nil, err
	}

	renderer, err := postmortem.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create postmortem renderer: %w", err)
	}

	a.dispatcher = integrations.NewDispatcher(a.logger,
		a.config.Dispatcher.Workers, a.config.Dispatcher.AdapterTimeout)
	a.sched = scheduler.New(a.logger)

	timelineRepo := eventlogpostgres.NewRepository(a.db)
	timeline := eventlog.NewService(timelineRepo)

	incidentRepo := incidentpostgres.NewRepository(a.db)
	a.incidents = incident.NewService(
		incidentRepo,
		a.config.Lifecycle,
		timeline,
		gateway,
		registry,
		a.dispatcher,
		a.sched,
		renderer,
		incident.Options{
			SlugPrefix:            a.config.Options.SlugPrefix,
			DigestChannel:         a.config.Options.DigestChannel,
			CommsReminderInterval: a.config.Options.CommsReminderInterval,
			RoleWatcherInterval:   a.config.Options.RoleWatcherInterval,
			RecentLimit:           a.config.Options.RecentLimit,
			AutoTicket:            a.config.Integrations.Jira.AutoCreateIssue,
			AutoPage:              a.config.Integrations.PagerDuty.AutoPage,
			AutoPostmortem:        a.config.Integrations.Confluence.AutoCreatePostmortem,
		},
	)

	a.sched.RegisterHandler(scheduler.KindCommsReminder, a.incidents.CommsReminder)
	a.sched.RegisterHandler(scheduler.KindRoleWatcher, a.incidents.RoleWatcher)
	a.sched.Start(ctx)

	// Jobs live in memory only; re-arm them for incidents that were open
	// before the restart.
	if err := a.incidents.ResumeReminders(ctx); err != nil {
		return nil, fmt.Errorf("resume reminders: %w", err)
	}

	var authenticator *auth.TokenAuthenticator
	if a.config.Auth.SecretKey != "" {
		authenticator, err = auth.NewTokenAuthenticator(a.config.Auth.SecretKey, a.config.Auth.TokenTTL)
		if err != nil {
			return nil, fmt.Errorf("create token authenticator: %w", err)
		}
	} else {
		a.logger.Warn("auth.secret_key is not set, the API accepts unauthenticated requests")
	}

	incidentHandler := incident.NewHandler(a.incidents, timeline)

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Route("/api/v1", func(r chi.Router) {
		if authenticator != nil {
			r.Use(httputil.AuthMiddleware(authenticator))
		}

		incidentHandler.RegisterRoutes(r)
	})

	return r, nil
}

func (a *App) setupGateway() (notify.Gateway, error) {
	if !a.config.Slack.Enabled {
		a.logger.Warn("slack gateway is disabled: incident channels and notifications will not be created")
		return notify.Nop{}, nil
	}

	gateway, err := notifyslack.NewGateway(notifyslack.Config{
		Enabled:  a.config.Slack.Enabled,
		BotToken: a.config.Slack.BotToken,
	})
	if err != nil {
		return nil, fmt.Errorf("create slack gateway: %w", err)
	}
	return gateway, nil
}

func (a *App) setupRegistry() (*integrations.Registry, error) {
	registry := integrations.NewRegistry()

	jiraAdapter, err := jira.NewAdapter(jira.Config{
		Enabled:         a.config.Integrations.Jira.Enabled,
		BaseURL:         a.config.Integrations.Jira.BaseURL,
		User:            a.config.Integrations.Jira.User,
		APIToken:        a.config.Integrations.Jira.APIToken,
		ProjectKey:      a.config.Integrations.Jira.ProjectKey,
		IssueType:       a.config.Integrations.Jira.IssueType,
		StatusMapping:   a.config.Integrations.Jira.StatusMapping,
		SeverityMapping: a.config.Integrations.Jira.SeverityMapping,
	})
	if err != nil {
		return nil, fmt.Errorf("create jira adapter: %w", err)
	}

	pagerdutyAdapter, err := pagerduty.NewAdapter(pagerduty.Config{
		Enabled:    a.config.Integrations.PagerDuty.Enabled,
		RoutingKey: a.config.Integrations.PagerDuty.RoutingKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create pagerduty adapter: %w", err)
	}

	confluenceAdapter, err := confluence.NewAdapter(confluence.Config{
		Enabled:    a.config.Integrations.Confluence.Enabled,
		BaseURL:    a.config.Integrations.Confluence.BaseURL,
		User:       a.config.Integrations.Confluence.User,
		APIToken:   a.config.Integrations.Confluence.APIToken,
		Space:      a.config.Integrations.Confluence.Space,
		ParentPage: a.config.Integrations.Confluence.ParentPage,
	})
	if err != nil {
		return nil, fmt.Errorf("create confluence adapter: %w", err)
	}

	statuspageAdapter, err := statuspage.NewAdapter(statuspage.Config{
		Enabled:   a.config.Integrations.Statuspage.Enabled,
		APIToken:  a.config.Integrations.Statuspage.APIToken,
		PageID:    a.config.Integrations.Statuspage.PageID,
		RateLimit: a.config.Integrations.Statuspage.RateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("create statuspage adapter: %w", err)
	}

	for _, adapter := range []integrations.Adapter{
		jiraAdapter, pagerdutyAdapter, confluenceAdapter, statuspageAdapter,
	} {
		if !adapter.Enabled() {
			a.logger.Info("integration adapter is disabled", "adapter", adapter.Name())
		}
		if err := registry.Register(adapter); err != nil {
			return nil, fmt.Errorf("register adapter: %w", err)
		}
	}

	return registry, nil
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
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
