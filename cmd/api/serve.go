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

	"robux-shop/internal/config"
	"robux-shop/internal/coupon"
	"robux-shop/internal/delivery"
	"robux-shop/internal/handler"
	"robux-shop/internal/notify"
	"robux-shop/internal/payment"
	"robux-shop/internal/router"
	"robux-shop/internal/service"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the order engine and HTTP API",
		Long: `Start the order engine and HTTP API.

Payment polls and delivery watchers of orders that were in flight when the
previous process stopped are resumed before the API starts accepting requests.
Coupon catalogs listed in COUPON_FILES are imported first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := config.NewLogger(cfg.Logger)
	logger.Info().Str("version", Version).Msg("starting robux-shop API server")

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	imported, err := importCoupons(ctx, cfg, cfg.Coupons.Files, st.coupons, logger)
	if err != nil {
		return fmt.Errorf("failed to import coupons: %w", err)
	}
	if imported > 0 {
		logger.Info().Int("coupons", imported).Msg("coupon catalogs imported")
	}

	var sink notify.Sink = notify.NewLogSink(logger)
	if cfg.Notify.WebhookURL != "" {
		sink = notify.NewWebhookSink(cfg.Notify.WebhookURL, cfg.Notify.Timeout, logger)
	}
	dispatcher := notify.NewDispatcher(sink, cfg.Notify.Timeout, logger)

	engine := service.NewOrderService(
		st.orders,
		coupon.NewValidator(st.coupons, logger),
		payment.NewMercadoPagoClient(cfg.Payment, logger),
		delivery.NewRobloxClient(cfg.Roblox, logger),
		dispatcher,
		service.ConfigFrom(cfg),
		logger,
	)

	if _, err := engine.Resume(ctx); err != nil {
		return fmt.Errorf("failed to resume in-flight orders: %w", err)
	}

	var db handler.Pinger
	if st.pool != nil {
		db = st.pool
	}
	mux := router.New(
		handler.NewOrderHandler(engine, logger),
		handler.NewHealthHandler(engine, db, logger),
		cfg.Auth.APIKey,
		cfg.Auth.AdminAPIKey,
		logger,
	)

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("address", cfg.Server.Address()).Msg("HTTP server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received, starting graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown server gracefully")
			if closeErr := server.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close server")
			}
			errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
		}
		if err := engine.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := dispatcher.Close(shutdownCtx); err != nil {
			errs = append(errs, err)
		}

		logger.Info().Msg("shutdown completed")
		return errors.Join(errs...)
	})

	return g.Wait()
}
