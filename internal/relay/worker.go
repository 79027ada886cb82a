package relay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wormhole-foundation/wormhole-sub007/internal/backend"
	"github.com/wormhole-foundation/wormhole-sub007/internal/metrics"
	"github.com/wormhole-foundation/wormhole-sub007/internal/queue"
)

// Worker claims INCOMING items for one destination chain and redeems them with one credential.
type Worker struct {
	info     backend.WorkerInfo
	queue    *queue.Queue
	relayer  backend.Relayer
	metrics  *metrics.Metrics
	interval time.Duration
	logger   *zap.Logger
}

func NewWorker(info backend.WorkerInfo, q *queue.Queue, relayer backend.Relayer, m *metrics.Metrics, interval time.Duration, logger *zap.Logger) *Worker {
	return &Worker{
		info:     info,
		queue:    q,
		relayer:  relayer,
		metrics:  m,
		interval: interval,
		logger: logger.With(
			zap.String("component", "Worker"),
			zap.Int("worker", info.Index),
			zap.Stringer("targetChain", info.TargetChainID)),
	}
}

// Run polls until ctx is cancelled, sleeping for the interval whenever nothing was processed.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started", zap.String("chainName", w.info.TargetChainName))
	for {
		processed, err := w.Poll(ctx)
		if err != nil {
			w.logger.Error("Poll failed", zap.Error(err))
		}
		if processed > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.interval):
		}
	}
}

// Poll runs one pass over the eligible INCOMING items and returns how many it claimed.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	items, err := w.queue.ListIncomingFor(ctx, w.info.TargetChainID)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		claimed, err := w.queue.MoveToWorking(ctx, item.Key)
		if err != nil {
			w.logger.Warn("Failed to claim item", zap.Stringer("key", item.Key), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		processed++
		w.process(ctx, item)
	}
	return processed, nil
}

func (w *Worker) process(ctx context.Context, item queue.Item) {
	logger := w.logger.With(zap.Stringer("key", item.Key), zap.Int("retries", item.Payload.Retries))

	vaaBytes, err := item.Payload.VAA()
	if err != nil {
		w.record(ctx, logger, item.Key, backend.RelayResult{Status: queue.FatalError, Result: "corrupt VAA bytes"})
		return
	}

	logger.Info("Relaying VAA")
	start := time.Now()
	res := w.relay(ctx, vaaBytes)
	logger.Info("Relay attempt finished",
		zap.Stringer("status", res.Status),
		zap.String("result", res.Result),
		zap.Duration("took", time.Since(start)))
	w.record(ctx, logger, item.Key, res)
}

func (w *Worker) relay(ctx context.Context, vaaBytes []byte) (res backend.RelayResult) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Relayer panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = backend.RelayResult{Status: queue.Error, Result: fmt.Sprintf("relayer panicked: %v", r)}
		}
	}()
	return w.relayer.Relay(ctx, w.info, vaaBytes, false)
}

func (w *Worker) record(ctx context.Context, logger *zap.Logger, key queue.Key, res backend.RelayResult) {
	status := res.Status
	if status != queue.Completed && status != queue.FatalError {
		status = queue.Error
	}

	switch status {
	case queue.Completed:
		w.metrics.IncSuccess(w.info.TargetChainID)
	default:
		w.metrics.IncFailure(w.info.TargetChainID)
	}

	p, err := w.queue.RecordResult(ctx, key, status)
	if err != nil {
		logger.Error("Failed to record result", zap.Stringer("status", status), zap.Error(err))
		return
	}

	switch status {
	case queue.Error:
		if err := w.queue.DemoteToIncoming(ctx, key, false); err != nil {
			logger.Error("Failed to requeue item", zap.Error(err))
			return
		}
		logger.Warn("Relay failed, requeued",
			zap.Int("retries", p.Retries),
			zap.Duration("backoff", queue.Backoff(p.Retries)))
	case queue.FatalError:
		logger.Error("Relay failed permanently", zap.String("result", res.Result))
	}
}
