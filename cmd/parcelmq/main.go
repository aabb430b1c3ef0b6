// Command parcelmq runs the broker daemon: a queue store behind the HTTP
// submission and status API, with Prometheus metrics kept fresh by the
// monitor collector.
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

	"github.com/parcelmq/parcelmq-go/broker"
	"github.com/parcelmq/parcelmq-go/internal/api"
	"github.com/parcelmq/parcelmq-go/internal/config"
	"github.com/parcelmq/parcelmq-go/messaging"
	"github.com/parcelmq/parcelmq-go/monitor"
	pgstore "github.com/parcelmq/parcelmq-go/transports/postgres"
	redisstore "github.com/parcelmq/parcelmq-go/transports/redis"
)

func main() {
	if err := run(); err != nil {
		slog.Error("broker exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}
	defer store.Close()

	producer, err := messaging.NewProducer(store, messaging.WithProducerLogger(logger))
	if err != nil {
		return err
	}

	inspector := monitor.NewQueueInspector(store)

	collector := monitor.NewCollector(inspector, cfg.MonitorQueues,
		monitor.WithCollectorInterval(cfg.MetricsInterval),
		monitor.WithCollectorLogger(logger),
	)
	if len(cfg.MonitorQueues) > 0 {
		collector.Start(ctx)
		defer collector.Stop()
	}

	srv := api.NewServer(fmt.Sprintf(":%d", cfg.Port), store, producer, inspector)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("broker listening",
			"addr", srv.Addr,
			"backend", string(cfg.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "grace", cfg.ShutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (broker.QueueStore, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		return redisstore.Connect(ctx, cfg.RedisAddr, redisstore.WithLogger(logger))
	case config.BackendPostgres:
		return pgstore.Connect(ctx, cfg.DatabaseURL, pgstore.WithLogger(logger))
	default:
		return broker.NewMemoryStore(broker.WithMemoryStoreLogger(logger)), nil
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
