// Package main is the entry point for the COOL dialog service. It wires the
// backend client, the state store and the headless session manager behind
// the control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/cooldialog/internal/client"
	"github.com/pitabwire/cooldialog/internal/config"
	"github.com/pitabwire/cooldialog/internal/headless"
	"github.com/pitabwire/cooldialog/internal/observability"
	"github.com/pitabwire/cooldialog/internal/session"
	"github.com/pitabwire/cooldialog/internal/transport"
	"github.com/pitabwire/cooldialog/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "cooldialog", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	backendClient := client.New(cfg.Server,
		client.WithMetrics(metrics),
		client.WithLogger(logger.Named("client")))

	stateBackend, closeState, err := session.OpenBackend(ctx, cfg.StateStore, logger)
	if err != nil {
		logger.Error("state store initialization failed", zap.Error(err))
		return 1
	}
	if closeState != nil {
		defer closeState()
	}

	pages, err := buildPages(cfg.Dialog.PagesFile)
	if err != nil {
		logger.Error("page registry load failed", zap.Error(err))
		return 1
	}

	manager, err := headless.NewManager(headless.ManagerOptions{
		Config:  cfg,
		Client:  backendClient,
		Backend: stateBackend,
		Pages:   pages,
		Logger:  logger.Named("dialog"),
		Metrics: metrics,
	})
	if err != nil {
		logger.Error("session manager initialization failed", zap.Error(err))
		return 1
	}

	var authenticate func(http.Handler) http.Handler
	if auth := cfg.Control.Auth; auth.Enabled() {
		jwks := transport.NewJWKSClient(auth.JWKSURL, auth.JWKSCacheTTL, logger.Named("jwks"))
		authenticate = transport.JWTAuthenticator(auth, jwks)
	} else {
		logger.Warn("control API authentication disabled")
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Manager:      manager,
		Metrics:      metrics,
		Logger:       logger,
		Authenticate: authenticate,
		Readiness: observability.ReadinessChecks{
			Backend:    backendClient,
			StateStore: manager,
		},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Control.Port),
		Handler:      router,
		ReadTimeout:  cfg.Control.ReadTimeout,
		WriteTimeout: cfg.Control.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Control.Port),
		zap.String("backend", cfg.Server.BaseURL),
		zap.String("state_store", cfg.StateStore.Driver),
		zap.String("version", version),
		zap.String("commit", commit),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		manager.Close()
		return 1
	}

	shutdownTimeout := cfg.Control.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Sessions stop after the last request drained.
	manager.Close()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildPages loads the page registry, or an empty one that derives page
// names from procedure and window names.
func buildPages(path string) (model.PageResolver, error) {
	if path == "" {
		return headless.NewPageRegistry(nil), nil
	}
	return headless.LoadPageRegistry(path)
}
