package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/config"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/handler"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/health"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/lifecycle"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/middleware"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/oauth"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/session"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/telemetry"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/tokencrypt"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/upstream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration.
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath, os.Getenv("ENV_CONFIG_PATH"), nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := telemetry.NewLogger(telemetry.LoggerConfig{
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
		Level:       cfg.Observability.Log.Level,
		Format:      cfg.Observability.Log.Format,
	}, os.Stdout)
	slog.SetDefault(logger)

	if cfg.Observability.Trace.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.TracerConfig{
			ServiceName: cfg.App.Name,
			Version:     cfg.App.Version,
			Endpoint:    cfg.Observability.Trace.Endpoint,
			SampleRate:  cfg.Observability.Trace.SampleRate,
		})
		if err != nil {
			logger.Warn("failed to initialize tracer provider", slog.String("error", err.Error()))
		} else {
			defer func() {
				_ = tp.Shutdown(context.Background())
			}()
		}
	}

	// A master name selects a Sentinel-backed failover client.
	redisClient := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      []string{cfg.Session.Redis.Addr},
		MasterName: cfg.Session.Redis.MasterName,
		Password:   cfg.Session.Redis.Password,
		DB:         cfg.Session.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis not reachable at startup", slog.String("error", err.Error()))
	}

	sessionStore := session.NewRedisStore(redisClient, cfg.Session.Prefix)
	sessionTTL := config.ParseDuration(cfg.Session.TTL, 30*time.Minute)

	keys, err := tokencrypt.NewKeys(
		tokencrypt.Secret{Key: cfg.Crypto.AccessToken.Secret, IV: cfg.Crypto.AccessToken.IV},
		tokencrypt.Secret{Key: cfg.Crypto.RefreshToken.Secret, IV: cfg.Crypto.RefreshToken.IV},
	)
	if err != nil {
		return fmt.Errorf("failed to initialize token encryption: %w", err)
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer, cfg.App.Name)

	oauthClient := oauth.NewClient(oauth.Config{
		DiscoveryURL: cfg.Auth.DiscoveryURL,
		Issuer:       cfg.Auth.Issuer,
		TokenURL:     cfg.Auth.TokenURL,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		RedirectURI:  cfg.Auth.RedirectURI,
		Scopes:       cfg.Auth.Scopes,
	},
		oauth.WithHTTPClient(&http.Client{Timeout: config.ParseDuration(cfg.Auth.Timeout, oauth.DefaultHTTPTimeout)}),
		oauth.WithLogger(logger),
	)
	// The readiness check retries discovery until it succeeds.
	if err := oauthClient.Discover(ctx); err != nil {
		logger.Warn("OIDC discovery failed at startup", slog.String("error", err.Error()))
	}

	tokens := lifecycle.NewManager(keys, oauthClient,
		lifecycle.WithLogger(logger),
		lifecycle.WithMetrics(metrics),
	)
	forwarder := upstream.NewForwarder(
		config.ParseDuration(cfg.Upstream.Timeout, upstream.DefaultTimeout),
		upstream.WithLogger(logger),
		upstream.WithMetrics(metrics),
	)

	csrfHeader := ""
	if cfg.CSRF.Enabled {
		csrfHeader = cfg.CSRF.HeaderName
		if csrfHeader == "" {
			csrfHeader = middleware.DefaultCSRFHeader
		}
	}

	checker := health.NewChecker(
		health.NewRedisCheck(redisClient, 0),
		health.NewDiscoveryCheck(oauthClient, 0),
	)
	healthHandler := handler.NewHealthHandler(checker)
	authHandler := handler.NewAuthHandler(oauthClient, sessionStore, keys, nil, handler.AuthSettings{
		CookieName:    cfg.Session.CookieName,
		SessionTTL:    sessionTTL,
		PostLogoutURI: cfg.Auth.PostLogout,
		SecureCookie:  cfg.App.Environment != "dev",
		Environment:   cfg.Auth.Environment,
	}, logger)
	proxyHandler := handler.NewProxyHandler(tokens, forwarder, sessionStore, handler.ProxySettings{
		Prefix:     cfg.Upstream.Prefix,
		APIVersion: cfg.Upstream.APIVersion,
		SessionTTL: sessionTTL,
		CSRFHeader: csrfHeader,
	}, metrics, logger)

	if cfg.App.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.PrometheusMiddleware(metrics))
	router.Use(otelgin.Middleware(cfg.App.Name))
	router.Use(middleware.CorrelationMiddleware())
	router.Use(middleware.OTelTraceIDMiddleware())

	// Health / Metrics endpoints (no auth required).
	router.GET("/healthz", healthHandler.Healthz)
	router.GET("/readyz", healthHandler.Readyz)
	if cfg.Observability.Metrics.Enabled {
		metricsPath := cfg.Observability.Metrics.Path
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		router.GET(metricsPath, gin.WrapH(telemetry.MetricsHandler(prometheus.DefaultGatherer)))
	}

	sessionMW := middleware.SessionMiddleware(sessionStore, cfg.Session.CookieName, sessionTTL, cfg.Session.Sliding, logger)

	// Auth endpoints.
	router.GET("/auth/login", authHandler.Login)
	router.GET("/auth/callback", authHandler.Callback)
	router.POST("/auth/logout", authHandler.Logout)
	router.GET("/auth/session", sessionMW, authHandler.Session)

	// Proxy endpoints: session, then the role gate, then CSRF.
	api := router.Group(cfg.Upstream.Prefix)
	api.Use(sessionMW, middleware.AuthorizationMiddleware())
	if cfg.CSRF.Enabled {
		api.Use(middleware.CSRFMiddleware(csrfHeader))
	}
	api.Any("", proxyHandler.Handle)
	api.Any("/*path", proxyHandler.Handle)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  config.ParseDuration(cfg.Server.ReadTimeout, 10*time.Second),
		WriteTimeout: config.ParseDuration(cfg.Server.WriteTimeout, 60*time.Second),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("SuperOffice proxy starting",
			slog.String("addr", addr),
			slog.String("superoffice_env", cfg.Auth.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownTimeout := config.ParseDuration(cfg.Server.ShutdownTimeout, 15*time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("SuperOffice proxy stopped")
	return nil
}
