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

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/api"
	"github.com/floworc/floworc/cache"
	"github.com/floworc/floworc/engine"
	"github.com/floworc/floworc/store"
	"github.com/floworc/floworc/store/memory"
	"github.com/floworc/floworc/store/postgres"
	"github.com/floworc/floworc/store/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := newLogger()
		st, err := openStore(cmd.Context(), logger)
		if err != nil {
			return err
		}
		defer st.Close()
		return st.Migrate(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	logger := newLogger()
	slog.SetDefault(logger)

	st, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	coord, err := floworc.New(
		floworc.WithStore(st),
		floworc.WithLogger(logger),
		floworc.WithRetryCeiling(viper.GetInt("orchestrator.retry_ceiling")),
		floworc.WithHandlerTimeout(viper.GetDuration("orchestrator.handler_timeout")),
		floworc.WithSyncConcurrency(viper.GetInt("orchestrator.sync_concurrency")),
		floworc.WithMonitorInterval(viper.GetDuration("orchestrator.monitor_interval")),
		floworc.WithHangingMultiplier(viper.GetFloat64("orchestrator.hanging_multiplier")),
	)
	if err != nil {
		return err
	}
	defer coord.Close()

	engOpts := []engine.Option{}
	if url := viper.GetString("cache.redis_url"); url != "" {
		redisCache, err := cache.NewRedisFromURL(ctx, url, "floworc")
		if err != nil {
			return fmt.Errorf("connect redis cache: %w", err)
		}
		defer redisCache.Close()
		engOpts = append(engOpts, engine.WithCache(redisCache))
	} else {
		engOpts = append(engOpts, engine.WithCache(cache.NewMemory()))
	}

	eng, err := engine.Build(coord, engOpts...)
	if err != nil {
		return err
	}

	if viper.GetBool("monitor.autostart") {
		if err := eng.Start(ctx); err != nil {
			return fmt.Errorf("start health monitor: %w", err)
		}
		defer func() {
			if err := eng.Stop(); err != nil && !errors.Is(err, floworc.ErrMonitorStopped) {
				logger.Error("stop health monitor", "error", err)
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	api.New(eng,
		api.WithLogger(logger),
		api.WithAdminToken(viper.GetString("admin_token")),
	).Register(e)

	addr := viper.GetString("listen")
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr, "store", viper.GetString("store.driver"))
		serverErrors <- e.Start(addr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			viper.GetDuration("orchestrator.shutdown_timeout"))
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
			_ = e.Close()
		}
	}

	logger.Info("server stopped")
	return nil
}

// openStore picks the persistence backend from configuration.
func openStore(ctx context.Context, logger *slog.Logger) (store.Store, error) {
	driver := viper.GetString("store.driver")
	dsn := viper.GetString("store.dsn")

	switch driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		if dsn == "" {
			dsn = "floworc.db"
		}
		return sqlite.New(ctx, dsn, sqlite.WithLogger(logger))
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("store.dsn is required for the postgres driver")
		}
		return postgres.New(ctx, dsn, postgres.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
