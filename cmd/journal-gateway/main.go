package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"journal-gateway/internal/client"
	"journal-gateway/internal/config"
	"journal-gateway/internal/handler"
	"journal-gateway/internal/metrics"
	"journal-gateway/internal/middleware"
	"journal-gateway/internal/registry"
	"journal-gateway/internal/service"
	"journal-gateway/internal/tracing"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Variables already in the environment win over .env entries.
	_ = godotenv.Load()

	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("journal-gateway"),
		kong.Description("API gateway for the journal platform services."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newMetrics,
			registry.New,
			tracing.New,
			client.NewUpstreamClient,
			newProxyService,
			newProber,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
			newEcho,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			warnConfigPermissions,
			manageTracing,
			manageUpstream,
			startServer,
		),
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
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// newMetrics bounds the path label to the routes this gateway serves.
func newMetrics(cfg *config.Config) *metrics.Metrics {
	prefixes := append([]string{cfg.Metrics.Path}, config.ReservedPaths...)
	for _, name := range cfg.ServiceNames() {
		prefixes = append(prefixes, cfg.Gateway.Prefix+cfg.Services[name].Prefix)
	}
	return metrics.New(prefixes...)
}

func newProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *service.ProxyService {
	return service.NewProxyService(c, cfg, logger, m)
}

func newProber(c *client.UpstreamClient, reg *registry.Registry, logger *slog.Logger) *service.Prober {
	return service.NewProber(c, reg, logger)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks. The handler itself is
	// bounded by the upstream timeout, so WriteTimeout only needs headroom.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second + 30*time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(middleware.Tracing())
	e.Use(middleware.CORS(cfg.Server.AllowedOrigins, handler.ProxyMethods))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit.RequestsPerSecond))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	if cfg.Auth.SecretKey == "" {
		logger.Warn("auth.secret_key is empty; no caller identity will be forwarded")
	}
	e.Use(middleware.Authenticate(cfg.Auth.SecretKey, logger))

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func manageTracing(lc fx.Lifecycle, p *tracing.Provider) {
	lc.Append(fx.Hook{
		OnStop: p.Shutdown,
	})
}

func manageUpstream(lc fx.Lifecycle, c *client.UpstreamClient) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			c.CloseIdleConnections()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, reg *registry.Registry, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"prefix", cfg.Gateway.Prefix,
				"services", len(reg.Routes()),
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
