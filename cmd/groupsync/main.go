package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/groupsync/pkg/config"
	"github.com/platinummonkey/groupsync/pkg/httputil"
	"github.com/platinummonkey/groupsync/pkg/keycloak"
	"github.com/platinummonkey/groupsync/pkg/observability"
	"github.com/platinummonkey/groupsync/pkg/outline"
	"github.com/platinummonkey/groupsync/pkg/signature"
	"github.com/platinummonkey/groupsync/pkg/sync"
	"github.com/platinummonkey/groupsync/pkg/webhook"
)

// maxBodyBytes caps inbound webhook bodies
const maxBodyBytes = 1 << 20

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	httpClient := &http.Client{Timeout: 10 * time.Second}

	tokenURL := cfg.Keycloak.IssuerURL() + "/protocol/openid-connect/token"
	if cfg.Keycloak.Discovery {
		tokenURL = keycloak.DiscoverTokenEndpoint(ctx, cfg.Keycloak.IssuerURL(), httpClient)
	}

	tokens := keycloak.NewTokenCache(keycloak.TokenCacheConfig{
		TokenURL:     tokenURL,
		ClientID:     cfg.Keycloak.ClientID,
		ClientSecret: cfg.Keycloak.ClientSecret,
		HTTPClient:   httpClient,
		OnRefresh: func(err error) {
			outcome := observability.OutcomeSuccess
			if err != nil {
				outcome = observability.OutcomeFailure
			}
			metrics.TokenRefreshesTotal.WithLabelValues(outcome).Inc()
		},
	})

	provider := keycloak.NewClient(keycloak.Config{
		AdminURL:   cfg.Keycloak.AdminRealmURL(),
		IssuerURL:  cfg.Keycloak.IssuerURL(),
		Tokens:     tokens,
		HTTPClient: httpClient,
		Logger:     logger,
		Metrics:    metrics,
	})

	app := outline.NewClient(outline.Config{
		Endpoint:   cfg.Outline.Endpoint,
		APIToken:   cfg.Outline.APIToken,
		HTTPClient: httpClient,
		Logger:     logger,
		Metrics:    metrics,
	})

	reconciler := sync.NewReconciler(app, provider, logger, metrics)

	verifier, err := signature.New(signature.Config{
		Secret:  cfg.Webhook.Secret,
		MaxSkew: cfg.Webhook.MaxSkew,
	})
	if err != nil {
		logger.WithError(err).Error("failed to initialize signature verifier")
		os.Exit(1)
	}

	handler := webhook.NewHandler(
		verifier,
		reconciler,
		webhook.NewReplayGuard(cfg.Webhook.ReplayTTL),
		logger,
		metrics,
	)

	chain := httputil.Chain(
		httputil.RecoveryMiddleware(logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		observability.HTTPMetricsMiddleware(metrics),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)

	webhookServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      chain(handler.Router()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker()
	health.AddCheck("keycloak", provider.Ping)
	health.AddCheck("outline", app.Ping)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", webhookServer.Addr).Info("webhook listener starting")
		if err := webhookServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health listener starting")
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		webhookErr := webhookServer.Shutdown(shutdownCtx)
		healthErr := healthServer.Shutdown(shutdownCtx)
		if webhookErr != nil {
			return webhookErr
		}
		return healthErr
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
