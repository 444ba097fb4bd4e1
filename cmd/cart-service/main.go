// Command cart-service serves the storefront cart API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"erp/ecommerce/cart-service/internal/action"
	"erp/ecommerce/cart-service/internal/catalog"
	"erp/ecommerce/cart-service/internal/config"
	"erp/ecommerce/cart-service/internal/logging"
	"erp/ecommerce/cart-service/internal/metrics"
	"erp/ecommerce/cart-service/internal/server"
	"erp/ecommerce/cart-service/internal/session"
	"erp/ecommerce/cart-service/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cart-service: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, !cfg.Production())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", cfg.ServiceName))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mirror := store.Open(ctx, cfg.Store, logger)
	defer func() {
		if err := mirror.Close(); err != nil {
			logger.Warn("close session store", zap.Error(err))
		}
	}()

	m := metrics.New()
	sessions, err := session.New(session.Options{
		CookieName: cfg.Session.CookieName,
		Password:   cfg.Session.Password,
		MaxAge:     cfg.Session.MaxAge,
		Secure:     cfg.Session.Secure,
		Mirror:     mirror,
		Logger:     logger.Named("session"),
		Metrics:    m,
	})
	if err != nil {
		return err
	}

	var products *catalog.Client
	if cfg.Catalog.BackendURL != "" {
		products = catalog.New(catalog.Options{
			BaseURL:  cfg.Catalog.BackendURL,
			Timeout:  cfg.Catalog.Timeout,
			CacheTTL: cfg.Catalog.CacheTTL,
			Logger:   logger.Named("catalog"),
			Metrics:  m,
		})
	} else {
		logger.Info("BACKEND_URL not set, cart view will not be enriched")
	}

	srv := server.New(server.Options{
		Actions:     action.New(sessions, m, logger.Named("action")),
		Catalog:     products,
		Metrics:     m,
		Logger:      logger.Named("http"),
		ServiceName: cfg.ServiceName,
		StoreMode:   mirror.Mode(),
		CORSOrigins: cfg.CORSOrigins,
	}).HTTPServer(":" + cfg.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("store", mirror.Mode()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return store.RunPruner(gctx, mirror, cfg.Store.PruneInterval, cfg.Session.MaxAge, logger.Named("pruner"))
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
