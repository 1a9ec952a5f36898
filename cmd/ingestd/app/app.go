package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/sensornet/ingestd/internal/metric"
	"github.com/sensornet/ingestd/internal/server"
	"github.com/sensornet/ingestd/internal/storage"
	"github.com/sensornet/ingestd/internal/wire"
)

// Run wires the store, decoder and server together and serves until
// ctx is cancelled. Startup failures (bad config, unbindable port,
// unopenable store) are fatal; everything after that is handled inside
// the server at per-line or per-connection scope.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	decoder, err := wire.NewDecoder(config.Encoding)
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}

	store := storage.NewSqliteStore(config.Storage.Path)
	if err = store.Open(); err != nil {
		return fmt.Errorf("opening store at '%s': %w", config.Storage.Path, err)
	}
	defer func() {
		if cErr := store.Close(); cErr != nil {
			logger.Error("closing store", slog.String("error", cErr.Error()))
		}
	}()

	ln, err := net.Listen("tcp", config.Listen)
	if err != nil {
		return fmt.Errorf("binding listener on '%s': %w", config.Listen, err)
	}

	options := []func(*server.Server){
		server.WithIdleTimeout(time.Duration(config.IdleTimeout)),
		server.WithDrainTimeout(time.Duration(config.DrainTimeout)),
	}

	if config.Metrics.Listen != "" {
		metrics := metric.New()
		options = append(options, server.WithMetrics(metrics))

		go func() {
			logger.Info("serving metrics", slog.String("address", config.Metrics.Listen))
			if mErr := metric.NewServer(config.Metrics.Listen, metrics).Run(ctx); mErr != nil {
				logger.Error("metrics server failed", slog.String("error", mErr.Error()))
			}
		}()
	}

	srv := server.New(store, decoder, logger, options...)
	return srv.Serve(ctx, ln)
}
