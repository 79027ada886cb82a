package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wormhole-foundation/wormhole-sub007/internal/backend"
	"github.com/wormhole-foundation/wormhole-sub007/internal/metrics"
	"github.com/wormhole-foundation/wormhole-sub007/internal/queue"
)

// Auditor re-checks the WORKING items of one worker's chain against the chain state.
// It never submits transactions.
type Auditor struct {
	info     backend.WorkerInfo
	queue    *queue.Queue
	relayer  backend.Relayer
	metrics  *metrics.Metrics
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewAuditor(info backend.WorkerInfo, q *queue.Queue, relayer backend.Relayer, m *metrics.Metrics, interval, grace time.Duration, logger *zap.Logger) *Auditor {
	return &Auditor{
		info:     info,
		queue:    q,
		relayer:  relayer,
		metrics:  m,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		logger: logger.With(
			zap.String("component", "Auditor"),
			zap.Int("worker", info.Index),
			zap.Stringer("targetChain", info.TargetChainID)),
	}
}

func (a *Auditor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.interval):
		}
		if err := a.Audit(ctx); err != nil {
			a.logger.Error("Audit failed", zap.Error(err))
		}
	}
}

// Audit runs one pass over WORKING. Items younger than the grace period belong to a worker
// that may still be processing them and are skipped.
func (a *Auditor) Audit(ctx context.Context) error {
	items, err := a.queue.ListWorkingFor(ctx, a.info.TargetChainID)
	if err != nil {
		return err
	}
	now := a.now()
	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if now.Sub(item.Payload.Timestamp) < a.grace {
			continue
		}
		a.audit(ctx, item)
	}
	return nil
}

func (a *Auditor) audit(ctx context.Context, item queue.Item) {
	logger := a.logger.With(zap.Stringer("key", item.Key), zap.Stringer("status", item.Payload.Status))

	switch item.Payload.Status {
	case queue.FatalError:
		logger.Info("Discarding failed item")
		if err := a.queue.Delete(ctx, queue.Working, item.Key); err != nil {
			logger.Error("Failed to discard item", zap.Error(err))
		}

	case queue.Completed:
		res, ok := a.check(ctx, logger, item)
		if !ok {
			return
		}
		if res.Status == queue.Completed {
			a.metrics.IncConfirmed(a.info.TargetChainID)
			if err := a.queue.Delete(ctx, queue.Working, item.Key); err != nil {
				logger.Error("Failed to remove confirmed item", zap.Error(err))
			}
			logger.Debug("Redemption confirmed")
			return
		}
		a.metrics.IncRollback(a.info.TargetChainID)
		logger.Warn("Completed redemption not found on chain, requeueing")
		if err := a.queue.DemoteToIncoming(ctx, item.Key, true); err != nil {
			logger.Error("Failed to requeue rolled back item", zap.Error(err))
		}

	case queue.Pending:
		res, ok := a.check(ctx, logger, item)
		if !ok {
			return
		}
		if res.Status == queue.Completed {
			a.metrics.IncSuccess(a.info.TargetChainID)
			if _, err := a.queue.RecordResult(ctx, item.Key, queue.Completed); err != nil {
				logger.Error("Failed to mark stale item completed", zap.Error(err))
			}
			logger.Info("Stale item already redeemed, marked completed")
			return
		}
		logger.Warn("Stale item not redeemed, requeueing")
		if err := a.queue.DemoteToIncoming(ctx, item.Key, false); err != nil {
			logger.Error("Failed to requeue stale item", zap.Error(err))
		}

	case queue.Error:
		// The worker demotes failed items itself; one still here was stranded by a crash or a store error.
		logger.Warn("Requeueing failed item left in working", zap.Int("retries", item.Payload.Retries))
		if err := a.queue.DemoteToIncoming(ctx, item.Key, false); err != nil {
			logger.Error("Failed to requeue failed item", zap.Error(err))
		}
	}
}

// check asks the chain whether item is redeemed. ok is false when the answer is unknown.
func (a *Auditor) check(ctx context.Context, logger *zap.Logger, item queue.Item) (backend.RelayResult, bool) {
	vaaBytes, err := item.Payload.VAA()
	if err != nil {
		logger.Error("Corrupt VAA bytes in working", zap.Error(err))
		return backend.RelayResult{}, false
	}
	res := a.relayer.Relay(ctx, a.info, vaaBytes, true)
	switch res.Status {
	case queue.Completed, queue.Pending:
		return res, true
	default:
		logger.Warn("Could not check redemption", zap.Stringer("result", res.Status), zap.String("detail", res.Result))
		return res, false
	}
}
