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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"immersion/actor"
	"immersion/config"
	"immersion/convention"
	"immersion/db"
	"immersion/notification"
	"immersion/outbox"
	"immersion/partnersync"
	"immersion/server"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		logger.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "immersion",
		Short:         "Immersion convention lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(logger),
		newDispatchCmd(logger),
		newPartnerSyncCmd(logger),
		newRemindCmd(logger),
		newSweepCmd(logger),
		newMigrateCmd(logger),
	)
	return root
}

// app holds everything one command run needs. Commands share the wiring and
// differ only in which workers they start.
type app struct {
	cfg    config.Config
	pool   *pgxpool.Pool
	logger *zap.Logger

	conventionRepo *convention.PostgresRepository
	outboxRepo     *outbox.PostgresRepository
	syncRepo       *partnersync.PostgresRepository

	conventions   *convention.Service
	notifications *notification.Service
	registry      *outbox.Registry
}

func newApp(ctx context.Context, logger *zap.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	a := &app{
		cfg:            cfg,
		pool:           pool,
		logger:         logger,
		conventionRepo: convention.NewPostgresRepository(pool),
		outboxRepo:     outbox.NewPostgresRepository(pool),
		syncRepo:       partnersync.NewPostgresRepository(pool),
	}
	notifRepo := notification.NewPostgresRepository(pool)
	a.conventions = convention.NewService(pool, a.conventionRepo, a.outboxRepo, a.syncRepo)
	a.notifications = notification.NewService(notifRepo, a.outboxRepo)

	notifier := notification.NewConventionNotifier(pool, a.conventionRepo, a.notifications)
	sender := notification.NewSender(notifRepo, logEmailGateway{logger}, logSMSGateway{logger}, logger)
	a.registry = outbox.NewRegistry()
	if err := notifier.RegisterAll(a.registry, sender); err != nil {
		pool.Close()
		return nil, err
	}

	return a, nil
}

func (a *app) close() {
	a.pool.Close()
}

func (a *app) dispatcher() *outbox.Dispatcher {
	return outbox.NewDispatcher(a.outboxRepo, a.registry, outbox.DispatcherConfig{
		BatchSize:         a.cfg.Dispatcher.BatchSize,
		RetryBudget:       a.cfg.Dispatcher.RetryBudget,
		SubscriberTimeout: a.cfg.Dispatcher.SubscriberTimeout,
		PollInterval:      a.cfg.Dispatcher.PollInterval,
	}, a.logger)
}

func (a *app) partnerWorker() (*partnersync.Worker, error) {
	if a.cfg.PartnerSync.BaseURL == "" {
		return nil, fmt.Errorf("IMMERSION_PARTNERSYNC_BASE_URL is required for partner sync")
	}
	gateway := partnersync.NewHTTPGateway(a.cfg.PartnerSync.BaseURL, a.cfg.PartnerSync.APIKey)
	return partnersync.NewWorker(a.syncRepo, a.conventionRepo, gateway, partnersync.WorkerConfig{
		BatchSize:    a.cfg.PartnerSync.BatchSize,
		PollInterval: a.cfg.PartnerSync.PollInterval,
	}, a.logger), nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newServeCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the outbox dispatcher and the partner sync worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.close()

			tokens := actor.NewTokens(a.cfg.JWTSecret, a.cfg.TokenTTL)
			srv := server.New(a.conventions, a.outboxRepo, a.syncRepo, tokens, logger)
			httpServer := &http.Server{
				Addr:              a.cfg.HTTPAddr,
				Handler:           srv.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("http server listening", zap.String("addr", a.cfg.HTTPAddr))
				if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				return a.dispatcher().Run(ctx)
			})
			if a.cfg.PartnerSync.BaseURL != "" {
				worker, err := a.partnerWorker()
				if err != nil {
					return err
				}
				g.Go(func() error {
					return worker.Run(ctx)
				})
			} else {
				logger.Info("partner sync disabled, no base url configured")
			}

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newDispatchCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run only the outbox dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.dispatcher().Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newPartnerSyncCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "partner-sync",
		Short: "Run only the partner broadcast worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.close()

			worker, err := a.partnerWorker()
			if err != nil {
				return err
			}
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newRemindCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "remind",
		Short: "Queue assessment reminders for conventions ending today",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.close()

			reminder := notification.NewAssessmentReminder(a.pool, a.conventionRepo, a.outboxRepo, a.notifications, logger)
			queued, err := reminder.Run(ctx)
			if err != nil {
				return err
			}
			logger.Info("assessment reminders queued", zap.Int("count", queued))
			return nil
		},
	}
}

func newSweepCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Deprecate ended conventions and prune old published events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.close()

			deprecated, err := a.conventions.DeprecateEnded(ctx, time.Now().UTC(), a.cfg.Retention.Limit)
			if err != nil {
				return err
			}

			retention := outbox.NewRetention(a.outboxRepo, a.cfg.Retention.Window, logger)
			deleted, err := retention.Sweep(ctx, a.cfg.Retention.Limit)
			if err != nil {
				return err
			}

			logger.Info("sweep finished",
				zap.Int("conventions_deprecated", deprecated),
				zap.Int("events_deleted", deleted))
			return nil
		},
	}
}

func newMigrateCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			pool, err := db.NewPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}
