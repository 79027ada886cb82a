package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wormhole-foundation/wormhole-sub007/internal/backend"
	"github.com/wormhole-foundation/wormhole-sub007/internal/config"
	"github.com/wormhole-foundation/wormhole-sub007/internal/metrics"
	"github.com/wormhole-foundation/wormhole-sub007/internal/queue"
	"github.com/wormhole-foundation/wormhole-sub007/internal/redeemer"
)

// app holds the components built once at startup and shared by the listener and the relayer.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	redeemers *redeemer.Registry
	backend   *backend.Backend
	queue     *queue.Queue
}

func newApp(ctx context.Context, logger *zap.Logger, validate func(*config.Config) error) (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := validate(cfg); err != nil {
		for _, e := range multierr.Errors(err) {
			logger.Error("Invalid configuration", zap.Error(e))
		}
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics.New(),
		redeemers: redeemer.DefaultRegistry(logger),
	}

	backends := backend.DefaultRegistry(backend.Deps{Config: cfg, Redeemers: a.redeemers, Logger: logger})
	a.backend, err = backends.Resolve(cfg.Common.Backend)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg.Common, logger)
	if err != nil {
		return nil, err
	}
	a.queue = queue.New(store, a.backend.Relayer.TargetChain, logger,
		queue.WithAlreadyExecuted(func(k queue.Key) { a.metrics.IncAlreadyExecuted(k.EmitterChain) }))
	return a, nil
}

func openStore(ctx context.Context, common config.Common, logger *zap.Logger) (queue.Store, error) {
	switch common.StoreBackend {
	case config.StoreBolt:
		logger.Info("Using bolt store", zap.String("path", common.BoltPath))
		return queue.NewBoltStore(common.BoltPath, logger)
	default:
		logger.Info("Using redis store", zap.String("addr", common.RedisAddr()))
		return queue.NewRedisStore(ctx, common.RedisAddr(), logger)
	}
}

func (a *app) Close() {
	a.redeemers.Close()
	if err := a.queue.Close(); err != nil {
		a.logger.Warn("Failed to close store", zap.Error(err))
	}
}

func (a *app) serveMetrics(ctx context.Context) error {
	if a.cfg.Common.PromPort == 0 {
		return nil
	}
	return a.metrics.Serve(ctx, a.cfg.Common.PromPort, a.logger)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(c)
	}()
	return ctx, cancel
}
