package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/bluesky-social/warden/casestore"
	"github.com/bluesky-social/warden/enforcement"
	"github.com/bluesky-social/warden/flagstore"
	"github.com/bluesky-social/warden/lifecycle"
	"github.com/bluesky-social/warden/models"
	"github.com/bluesky-social/warden/notify"
	"github.com/bluesky-social/warden/pkg/metrics"
	"github.com/bluesky-social/warden/setstore"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// registers collectors on the default registry, so only once per process
var apiMetrics = echoprometheus.NewMiddleware("warden_api")

// the action kinds this service enforces
var actionKinds = []models.ActionKind{models.KindSuspend, models.KindMute, models.KindRestrict}

type Server struct {
	logger        *slog.Logger
	engine        *lifecycle.Engine
	echo          *echo.Echo
	httpd         *http.Server
	adminToken    string
	metricsListen string
}

type Config struct {
	Logger             *slog.Logger
	RedisURL           string
	EnforcementMode    string
	BackendHost        string
	BackendAdminToken  string
	BackendRateLimit   int
	SetsFileJSON       string
	ExemptSet          string
	SlackWebhookURL    string
	NotifyWebhookURL   string
	NotifyWebhookToken string
	AdminToken         string
	Bind               string
	MetricsListen      string
}

func NewServer(db *gorm.DB, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	store, err := casestore.NewGormCaseStore(db)
	if err != nil {
		return nil, fmt.Errorf("initializing case store: %v", err)
	}

	enforcers, err := configEnforcers(config, logger)
	if err != nil {
		return nil, err
	}

	sets := setstore.NewMemSetStore()
	if config.SetsFileJSON != "" {
		if err := sets.LoadFromFileJSON(config.SetsFileJSON); err != nil {
			return nil, fmt.Errorf("initializing in-process setstore: %v", err)
		} else {
			logger.Info("loaded set config from JSON", "path", config.SetsFileJSON)
		}
	}

	sinks := &notify.Multi{}
	logNotifier := notify.NewLogNotifier(logger)
	sinks.Notifiers = append(sinks.Notifiers, logNotifier)
	sinks.Auditors = append(sinks.Auditors, logNotifier)
	sinks.ErrorSinks = append(sinks.ErrorSinks, logNotifier)
	if config.SlackWebhookURL != "" {
		logger.Info("configuring slack audit log")
		slack := notify.NewSlackNotifier(config.SlackWebhookURL)
		sinks.Auditors = append(sinks.Auditors, slack)
		sinks.ErrorSinks = append(sinks.ErrorSinks, slack)
	}
	if config.NotifyWebhookURL != "" {
		logger.Info("configuring notification webhook", "url", config.NotifyWebhookURL)
		wh := notify.NewWebhookNotifier(config.NotifyWebhookURL, config.NotifyWebhookToken)
		sinks.Notifiers = append(sinks.Notifiers, wh)
		sinks.Auditors = append(sinks.Auditors, wh)
		sinks.ErrorSinks = append(sinks.ErrorSinks, wh)
	}

	engine := &lifecycle.Engine{
		Logger:    logger,
		Store:     store,
		Enforcers: enforcers,
		Notifier:  sinks,
		Audit:     sinks,
		Errors:    sinks,
		Exempt:    &lifecycle.SetExempter{Sets: sets, SetName: config.ExemptSet},
	}

	srv := newServer(engine, logger, config.AdminToken)
	srv.httpd.Addr = config.Bind
	srv.metricsListen = config.MetricsListen
	return srv, nil
}

func configEnforcers(config Config, logger *slog.Logger) (*enforcement.Registry, error) {
	reg := enforcement.NewRegistry()
	switch config.EnforcementMode {
	case "flags":
		var flags flagstore.FlagStore
		if config.RedisURL != "" {
			flg, err := flagstore.NewRedisFlagStore(config.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("initializing redis flagstore: %v", err)
			}
			flags = flg
		} else {
			logger.Warn("no redis configured; enforcement flags are in-process only")
			flags = flagstore.NewMemFlagStore()
		}
		for _, kind := range actionKinds {
			reg.Register(enforcement.NewFlagEnforcer(kind, flags))
		}
	case "http":
		if config.BackendHost == "" {
			return nil, fmt.Errorf("http enforcement mode requires a backend host")
		}
		// one limiter shared across kinds: it paces the backend, not each kind
		limiter := rate.NewLimiter(rate.Limit(config.BackendRateLimit), 1)
		for _, kind := range actionKinds {
			he := enforcement.NewHTTPEnforcer(kind, config.BackendHost, config.BackendAdminToken)
			he.Limiter = limiter
			reg.Register(he)
		}
	default:
		return nil, fmt.Errorf("unknown enforcement mode: %q", config.EnforcementMode)
	}
	logger.Info("configured enforcement", "mode", config.EnforcementMode, "kinds", reg.Kinds())
	return reg, nil
}

// wires the HTTP surface around an engine; shared with tests
func newServer(engine *lifecycle.Engine, logger *slog.Logger, adminToken string) *Server {
	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		logger:     logger.With("component", "api"),
		engine:     engine,
		echo:       e,
		adminToken: adminToken,
	}
	srv.httpd = &http.Server{
		Handler:        otelhttp.NewHandler(srv, "warden"),
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(apiMetrics)
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))

	e.GET("/_health", srv.HandleHealthCheck)

	v1 := e.Group("/v1", srv.checkAdminToken)
	v1.POST("/actions", srv.HandleIssue)
	v1.POST("/actions/revoke", srv.HandleRevoke)
	v1.POST("/cases/:case/expunge", srv.HandleExpunge)
	v1.GET("/cases/:case", srv.HandleGetCase)
	v1.GET("/targets/:target/cases", srv.HandleTargetHistory)

	return srv
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// Run rehydrates the expiry schedule, then serves the API and metrics until ctx is cancelled.
func (srv *Server) Run(ctx context.Context) error {
	// overdue expirations must be picked up before new actions are accepted
	if err := srv.engine.Start(ctx); err != nil {
		return err
	}
	defer srv.engine.Close()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		srv.logger.Info("starting server", "bind", srv.httpd.Addr)
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server shutting down unexpectedly: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		return metrics.RunServer(ctx, srv.metricsListen, srv.logger)
	})
	eg.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown()
	})

	err := eg.Wait()
	srv.logger.Info("graceful shutdown complete")
	return err
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}
