// Coordinator service: dispatches integer-tuple blocks to workers over
// a line-delimited TCP protocol, retries timed-out blocks up to a
// configured bound, and persists final disposition on shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cpape/butler/internal/dispatcher"
	"github.com/cpape/butler/internal/inventory"
	"github.com/cpape/butler/internal/notify"
	"github.com/cpape/butler/internal/persistence"
	"github.com/cpape/butler/internal/server"
	"github.com/cpape/butler/internal/util"
	"github.com/cpape/butler/pkg/config"
)

func main() {
	logger := util.InitLogger()
	logger.Info().Msg("starting butler coordinator")

	ko := util.InitConfig(logger, "config.toml")
	util.UpdateLogLevel(ko, logger)

	cfg := util.BuildConfig(ko)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	rawBlocks, err := config.LoadBlockList(cfg.BlockFile, cfg.BlockArity)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load block list")
	}
	blocks := make([]inventory.Block, len(rawBlocks))
	for i, b := range rawBlocks {
		blocks[i] = inventory.Block(b)
	}
	logger.Info().Int("count", len(blocks)).Str("path", cfg.BlockFile).Msg("loaded block list")

	var pool *pgxpool.Pool
	if cfg.PostgresDSN != "" {
		pool, err = pgxpool.New(context.Background(), cfg.PostgresDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()
		if err := persistence.EnsureSchema(context.Background(), pool); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure postgres schema")
		}
		logger.Info().Msg("connected to postgres, status will be mirrored")
	}
	if cfg.OutPrefix == "" {
		logger.Warn().Msg("no out_prefix configured, status will not be persisted to disk")
	}
	recorder := persistence.New(cfg.OutPrefix, pool, *logger)

	var notifier dispatcher.EventNotifier
	if cfg.NATSURL != "" {
		publisher, err := notify.NewPublisher(cfg.NATSURL, cfg.NATSSubject, *logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create nats publisher")
		}
		defer publisher.Close()
		notifier = publisher
	}

	metrics := dispatcher.NewMetrics()

	var srv *server.Server
	onQuiesce := func() { srv.Quiesce() }

	disp := dispatcher.New(blocks, dispatcher.Config{
		TimeLimit:     cfg.TimeLimit,
		CheckInterval: cfg.CheckInterval,
		NumRetries:    cfg.NumRetries,
	}, *logger, metrics, notifier, recorder, onQuiesce)

	srv, err = server.New(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), disp, cfg.BlockArity, *logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bind coordinator listener")
	}
	logger.Info().Str("address", srv.Addr()).Msg("listening for workers")

	sweeperStop := make(chan struct{})
	go disp.RunSweeper(sweeperStop)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		logger.Info().Str("address", cfg.MetricsAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	var interruptSig os.Signal
	select {
	case sig := <-sigChan:
		interruptSig = sig
		logger.Warn().Str("signal", sig.String()).Msg("received shutdown signal")
		disp.ShutdownFromInterrupt()
		<-serveErr
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
		}
	}

	close(sweeperStop)
	disp.WaitSweeperDone()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}

	logger.Info().Msg("shutdown complete")

	if interruptSig != nil {
		os.Exit(128 + signalNumber(interruptSig))
	}
}

// signalNumber returns the POSIX signal number for the signals this
// process handles, so an interrupt-driven shutdown can re-raise with
// the conventional 128+n exit code instead of returning 0.
func signalNumber(sig os.Signal) int {
	switch sig {
	case syscall.SIGINT:
		return int(syscall.SIGINT)
	case syscall.SIGTERM:
		return int(syscall.SIGTERM)
	default:
		return 1
	}
}
