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

	"github.com/upb/rolegate/app"
	"github.com/upb/rolegate/config"
	"github.com/upb/rolegate/observability"
	"github.com/upb/rolegate/routes"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rolegate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New(ctx)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	shutdownCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	}

	if err := deps.LoadSigningKeys(ctx); err != nil {
		closeCtx, cancel := shutdownCtx()
		defer cancel()
		_ = deps.Close(closeCtx)
		return err
	}

	handler, err := routes.SetupRoutes(deps)
	if err != nil {
		closeCtx, cancel := shutdownCtx()
		defer cancel()
		_ = deps.Close(closeCtx)
		return err
	}

	servers := []*http.Server{{
		Addr:              cfg.Server.Address(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}}
	if cfg.Observability.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", deps.Metrics.Handler())
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsAddress(),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Refresher.Run(gctx)
	})

	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		closeCtx, cancel := shutdownCtx()
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(closeCtx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := deps.Close(closeCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("rolegate stopped with error", zap.Error(err))
		return err
	}
	logger.Info("rolegate stopped")
	return nil
}
