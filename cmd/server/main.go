package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/app"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/config"
	httpapi "github.com/gkstrmtm/Home2smart-backend-sub002/internal/http"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.NewLogger("dispatch-api", cfg.LogLevel)
	proxies, err := config.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, app.Options{Hub: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("shutdown cleanup failed", "error", err)
		}
	}()

	handler := httpapi.NewServer(httpapi.Deps{
		Store:      a.Store,
		Auth:       a.Auth,
		Issuer:     a.Issuer,
		Limiter:    a.Limiter,
		Matcher:    a.Matcher,
		Jobs:       a.Jobs,
		Ledger:     a.Ledger,
		Calculator: a.Calculator,
		Hub:        a.Hub,
		Logger:     logger,

		TrustedProxies: proxies,
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("dispatch api listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return a.Limiter.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
