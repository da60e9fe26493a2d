package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"bridge-proxy-go/internal/client"
	"bridge-proxy-go/internal/config"
	"bridge-proxy-go/internal/handler"
	"bridge-proxy-go/internal/metrics"
	"bridge-proxy-go/internal/middleware"
	"bridge-proxy-go/internal/server"
	"bridge-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("bridge-proxy"),
		kong.Description("Forwards host-side calls to the trezord bridge inside the emulator container and serves the controller dashboard."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			client.NewBridgeClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
			newListeners,
		),
		fx.NopLogger,
		fx.Invoke(startListeners),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		h = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(h)
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	return e
}

// newProxyEcho builds the router for the forwarding port.
func newProxyEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, proxy *handler.ProxyHandler) *echo.Echo {
	e := newEcho()

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m, metrics.ListenerProxy))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimit(cfg.Server.RateLimit.RequestsPerSecond))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	handler.RegisterProxyRoutes(e, proxy)
	return e
}

// newDashboardEcho builds the router for the dashboard port.
func newDashboardEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, health *handler.HealthHandler) *echo.Echo {
	e := newEcho()

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger, "/healthz", cfg.Metrics.Path))
	e.Use(middleware.MetricsMiddleware(m, metrics.ListenerDashboard))
	e.Use(middleware.DashboardHeaders())

	handler.RegisterDashboardRoutes(e, cfg, health, m)
	return e
}

func newListeners(
	cfg *config.Config,
	logger *slog.Logger,
	m *metrics.Metrics,
	proxy *handler.ProxyHandler,
	health *handler.HealthHandler,
) server.Group {
	proxyLogger := logger.With("component", "bridge_proxy")

	var opts []server.Option
	if cfg.Server.ProxyProtocol {
		opts = append(opts, server.WithProxyProtocol())
	}
	group := server.Group{
		server.New("bridge_proxy", cfg.Server.Addr(), newProxyEcho(cfg, proxyLogger, m, proxy), logger, opts...),
	}

	if cfg.Dashboard.IsEnabled() {
		dashLogger := logger.With("component", "dashboard")
		group = append(group,
			server.New("dashboard", cfg.Dashboard.Addr(), newDashboardEcho(cfg, dashLogger, m, health), logger),
		)
	}

	return group
}

func startListeners(lc fx.Lifecycle, group server.Group, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if path := cfg.FilePath(); path != "" {
				logger.Info("loaded config", "path", path)
			}
			logger.Info("all requests will be forwarded to the bridge",
				"upstream", cfg.Upstream.BaseURL(),
				"origin", cfg.Upstream.Origin,
			)
			if cfg.Dashboard.IsEnabled() {
				logger.Info("serving dashboard", "url", "http://"+cfg.Dashboard.Addr(), "dir", cfg.Dashboard.Dir)
			}
			return group.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return group.Stop(ctx)
		},
	})
}
