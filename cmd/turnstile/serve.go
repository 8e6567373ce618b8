package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/turnstile/internal/admission/service"
	"github.com/BrandonDHaskell/turnstile/internal/broadcast"
	"github.com/BrandonDHaskell/turnstile/internal/httpapi"
	"github.com/BrandonDHaskell/turnstile/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admission HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m := metrics.New()

			// Stores
			be, err := openBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer be.close()

			// Readers
			readers := service.NewReaderRegistry(be.readers)
			sweeper := service.NewReaderSweeper(be.readers, service.SweeperConfig{
				RetentionDays: cfg.ReaderRetentionDays,
				IntervalHours: cfg.SweepIntervalHours,
			}, logger)
			sweeper.Start(ctx)
			defer sweeper.Stop()

			// Broadcast
			hub := broadcast.NewHub(
				broadcast.WithPublishTimeout(cfg.PublishTimeout),
				broadcast.WithClientBuffer(cfg.ClientBuffer),
				broadcast.WithLogger(logger),
				broadcast.WithMetrics(m),
			)
			dcfg := broadcast.DispatcherConfig{
				QueueSize: cfg.DispatchQueueSize,
				Logger:    logger,
				Metrics:   m,
			}
			if cfg.RedisAddr != "" {
				rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
				defer rdb.Close()
				if err := rdb.Ping(ctx).Err(); err != nil {
					return err
				}
				relay := broadcast.NewRedisRelay(rdb, cfg.RedisChannel, hub,
					broadcast.WithRelayLogger(logger),
					broadcast.WithRelayMetrics(m),
				)
				go func() {
					if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error("redis relay stopped", "err", err)
					}
				}()
				dcfg.Forwarder = relay
				logger.Info("redis relay enabled", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel, "origin", relay.Origin())
			}
			dispatcher := broadcast.NewDispatcher(hub, dcfg)
			defer dispatcher.Close()

			// Engine
			engine := service.NewEngine(be.accounts, be.attempts, dispatcher,
				service.WithTolerance(cfg.Tolerance()),
				service.WithDefaultDeviceID(cfg.DefaultDeviceID),
				service.WithLogger(logger),
				service.WithMetrics(m),
				service.WithReaderRegistry(readers),
			)

			// HTTP
			srv := httpapi.NewServer(httpapi.Dependencies{
				Logger:         logger,
				Addr:           cfg.Addr,
				Metrics:        m,
				Engine:         engine,
				Readers:        readers,
				Hub:            hub,
				Auth:           httpapi.NewAuthenticator(cfg.DeviceSecrets, cfg.SessionSecret),
				StreamRoles:    cfg.StreamRoles,
				AllowedOrigins: cfg.AllowedOrigins,
				Keepalive:      cfg.Keepalive,
			})

			go func() {
				logger.Info("listening", "addr", cfg.Addr, "env", cfg.Env, "db_driver", cfg.DBDriver, "tolerance", cfg.Tolerance())
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
					stop()
				}
			}()

			<-ctx.Done()
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
