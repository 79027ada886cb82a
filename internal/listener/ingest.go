package listener

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wormhole-foundation/wormhole-sub007/internal/clients"
	"github.com/wormhole-foundation/wormhole-sub007/internal/message"
	"github.com/wormhole-foundation/wormhole-sub007/internal/metrics"
	"github.com/wormhole-foundation/wormhole-sub007/internal/queue"
)

// Policy decides which observed VAAs are queued.
type Policy interface {
	Validate(raw []byte) (*Accepted, error)
	EmitterFilters() ([]clients.EmitterFilter, error)
}

// Enqueuer is the INCOMING side of the queue.
type Enqueuer interface {
	EnqueueIncoming(ctx context.Context, key queue.Key, vaaBytes []byte) error
}

// Ingester validates raw VAAs and queues the accepted ones. It is shared by the spy listener
// and the REST endpoint.
type Ingester struct {
	policy  Policy
	queue   Enqueuer
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewIngester(policy Policy, q Enqueuer, m *metrics.Metrics, logger *zap.Logger) *Ingester {
	return &Ingester{
		policy:  policy,
		queue:   q,
		metrics: m,
		logger:  logger.With(zap.String("component", "Ingester")),
	}
}

// Ingest returns an error matching ErrRejected when raw is not relayed, or the queue error.
func (in *Ingester) Ingest(ctx context.Context, raw []byte) (*Accepted, error) {
	acc, err := in.policy.Validate(raw)
	if err != nil {
		in.logger.Debug("Rejected VAA", zap.Error(err))
		return nil, err
	}
	if err := in.queue.EnqueueIncoming(ctx, acc.Key, acc.Raw); err != nil {
		in.logger.Error("Failed to queue VAA", zap.Stringer("key", acc.Key), zap.Error(err))
		return nil, fmt.Errorf("failed to queue %s: %w", acc.Key, err)
	}
	in.metrics.IncIncoming(acc.VAA.EmitterChain)

	message.LogVAA(in.logger, acc.VAA, acc.Raw)
	message.LogTransfer(in.logger, acc.Transfer)
	in.logger.Info("Queued VAA",
		zap.Stringer("key", acc.Key),
		zap.Stringer("targetChain", acc.Transfer.TargetChain),
		zap.String("fee", acc.Transfer.Fee.String()))
	return acc, nil
}
