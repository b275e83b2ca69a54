package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/app"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/audit"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/clock"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/config"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/holdstore"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/notify"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/scheduler"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/storage/postgres"
	"github.com/Ranjit-Khanal/slot-reservation-engine/migrations"
)

const startupTimeout = 10 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "slotd",
		Short: "Slot reservation engine",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
			defer cancel()

			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to db: %w", err)
			}
			defer pool.Close()

			return migrations.Apply(ctx, pool)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reservation engine and its background sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			slog.SetDefault(logger)

			startupCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
			defer cancel()

			pool, err := pgxpool.New(startupCtx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to db: %w", err)
			}
			defer pool.Close()
			if err := pool.Ping(startupCtx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}
			if err := migrations.Apply(startupCtx, pool); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}

			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			defer func() { _ = rdb.Close() }()
			if err := rdb.Ping(startupCtx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}

			clk := clock.NewSystem()
			recorder := audit.NewLog(logger)
			holds := holdstore.NewRedis(rdb)

			slotRepo := postgres.NewSlotRepository(pool)
			bookingRepo := postgres.NewBookingRepository(pool)
			queueRepo := postgres.NewQueueRepository(pool)
			deadRepo := postgres.NewDeadLetterRepository(pool)

			bookingSvc := app.NewBookingService(bookingRepo, slotRepo, queueRepo, holds, clk,
				app.WithHoldTTL(cfg.HoldTTL),
				app.WithQueueMaxSize(cfg.QueueMaxSize),
				app.WithQueueIdleTimeout(cfg.QueueIdleTimeout),
				app.WithCancelWindow(cfg.CancelWindow),
				app.WithTransactor(bookingRepo),
				app.WithLogger(logger),
				app.WithAudit(recorder),
				app.WithNotifier(notify.NewLog(logger)),
			)

			sweeper := scheduler.NewSweeper(bookingRepo, bookingSvc, deadRepo, clk,
				scheduler.WithSweepInterval(cfg.SweepInterval),
				scheduler.WithSweepBatchSize(cfg.SweepBatchSize),
				scheduler.WithSweepMaxAttempts(cfg.SweepMaxAttempts),
				scheduler.WithSweepRetryBase(cfg.SweepRetryBase),
				scheduler.WithSweepAudit(recorder),
				scheduler.WithSweepLogger(logger),
			)
			reconciler := scheduler.NewReconciler(bookingRepo, holds, bookingSvc, clk,
				scheduler.WithReconcileInterval(cfg.ReconcileInterval),
				scheduler.WithReconcileAudit(recorder),
				scheduler.WithReconcileLogger(logger),
			)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("slotd running",
				"hold_ttl", cfg.HoldTTL.String(),
				"sweep_interval", cfg.SweepInterval.String(),
				"reconcile_interval", cfg.ReconcileInterval.String(),
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return sweeper.Run(gctx) })
			g.Go(func() error { return reconciler.Run(gctx) })

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("slotd stopped")
			return nil
		},
	}
}
