package relay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wormhole-foundation/wormhole-sub007/internal/backend"
	"github.com/wormhole-foundation/wormhole-sub007/internal/config"
	"github.com/wormhole-foundation/wormhole-sub007/internal/metrics"
	"github.com/wormhole-foundation/wormhole-sub007/internal/queue"
)

// Workers returns one WorkerInfo per configured (chain, private key) pair.
func Workers(cfg config.Relayer) []backend.WorkerInfo {
	var infos []backend.WorkerInfo
	for _, chain := range cfg.SupportedChains {
		for _, keys := range cfg.PrivateKeys {
			if keys.ChainID != chain.ChainID {
				continue
			}
			for _, key := range keys.PrivateKeys {
				infos = append(infos, backend.WorkerInfo{
					Index:           len(infos),
					TargetChainID:   chain.ChainID,
					TargetChainName: chain.ChainName,
					Credential:      key,
				})
			}
		}
	}
	return infos
}

// Pool runs a supervised worker and auditor per WorkerInfo, plus a queue depth sampler.
type Pool struct {
	cfg     config.Relayer
	queue   *queue.Queue
	relayer backend.Relayer
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewPool(cfg config.Relayer, q *queue.Queue, relayer backend.Relayer, m *metrics.Metrics, logger *zap.Logger) *Pool {
	return &Pool{
		cfg:     cfg,
		queue:   q,
		relayer: relayer,
		metrics: m,
		logger:  logger.With(zap.String("component", "Pool")),
	}
}

// Prepare runs the startup maintenance selected in the configuration.
func (p *Pool) Prepare(ctx context.Context) error {
	if p.cfg.ClearOnInit {
		p.logger.Info("Clearing queue")
		if err := p.queue.ClearAll(ctx); err != nil {
			return err
		}
	}
	if p.cfg.DemoteWorkingOnInit {
		moved, err := p.queue.DemoteAllWorking(ctx)
		if err != nil {
			return fmt.Errorf("failed to demote working items: %w", err)
		}
		p.logger.Info("Demoted working items", zap.Int("count", moved))
	}
	return nil
}

// Run blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	infos := Workers(p.cfg)
	if len(infos) == 0 {
		return fmt.Errorf("no workers configured")
	}
	if err := p.Prepare(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, info := range infos {
		worker := NewWorker(info, p.queue, p.relayer, p.metrics, p.cfg.WorkerInterval, p.logger)
		auditor := NewAuditor(info, p.queue, p.relayer, p.metrics, p.cfg.AuditInterval, p.cfg.AuditGrace, p.logger)

		g.Go(func() error {
			Supervise(ctx, p.logger, fmt.Sprintf("worker-%d", info.Index), p.cfg.RestartDelay, worker.Run)
			return nil
		})
		g.Go(func() error {
			Supervise(ctx, p.logger, fmt.Sprintf("auditor-%d", info.Index), p.cfg.RestartDelay, auditor.Run)
			return nil
		})
	}
	g.Go(func() error {
		Supervise(ctx, p.logger, "queue-depth", p.cfg.RestartDelay, p.sampleDepth)
		return nil
	})

	p.logger.Info("Relayer started", zap.Int("workers", len(infos)))
	return g.Wait()
}

func (p *Pool) sampleDepth(ctx context.Context) error {
	for {
		if err := p.RecordDepth(ctx); err != nil {
			p.logger.Warn("Failed to sample queue depth", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.WorkerInterval):
		}
	}
}

// RecordDepth publishes the current queue depth to the metrics.
func (p *Pool) RecordDepth(ctx context.Context) error {
	depths, err := p.queue.Depths(ctx)
	if err != nil {
		return err
	}
	samples := make([]metrics.QueueDepth, 0, len(depths))
	for _, d := range depths {
		samples = append(samples, metrics.QueueDepth{
			Table:       d.Table.String(),
			SourceChain: d.SourceChain,
			TargetChain: d.TargetChain,
			Count:       d.Count,
		})
	}
	p.metrics.SetQueueDepth(samples)
	return nil
}
