package listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	spyv1 "github.com/certusone/wormhole/node/pkg/proto/spy/v1"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wormhole-foundation/wormhole-sub007/internal/clients"
)

// DefaultReconnectDelay is the pause between spy reconnect attempts.
const DefaultReconnectDelay = 5 * time.Second

type vaaStream interface {
	Recv() (*spyv1.SubscribeSignedVAAResponse, error)
}

type subscribeFunc func(ctx context.Context, filters []clients.EmitterFilter) (vaaStream, error)

// SpyListener subscribes to the spy and feeds every received VAA to the Ingester.
type SpyListener struct {
	subscribe      subscribeFunc
	policy         Policy
	ingester       *Ingester
	numWorkers     int
	reconnectDelay time.Duration
	logger         *zap.Logger
}

func NewSpyListener(spy *clients.SpyClient, policy Policy, ingester *Ingester, numWorkers int, logger *zap.Logger) *SpyListener {
	subscribe := func(ctx context.Context, filters []clients.EmitterFilter) (vaaStream, error) {
		return spy.SubscribeSignedVAA(ctx, filters)
	}
	return newSpyListener(subscribe, policy, ingester, numWorkers, DefaultReconnectDelay, logger)
}

func newSpyListener(subscribe subscribeFunc, policy Policy, ingester *Ingester, numWorkers int, reconnectDelay time.Duration, logger *zap.Logger) *SpyListener {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &SpyListener{
		subscribe:      subscribe,
		policy:         policy,
		ingester:       ingester,
		numWorkers:     numWorkers,
		reconnectDelay: reconnectDelay,
		logger:         logger.With(zap.String("component", "SpyListener")),
	}
}

// Run listens until ctx is cancelled. Stream failures are retried indefinitely.
func (l *SpyListener) Run(ctx context.Context) error {
	filters, err := l.policy.EmitterFilters()
	if err != nil {
		return fmt.Errorf("failed to build spy filters: %w", err)
	}
	for _, f := range filters {
		l.logger.Info("Subscribing to emitter",
			zap.Stringer("chain", f.ChainID), zap.String("emitter", f.EmitterAddress.String()))
	}

	vaas := make(chan []byte, l.numWorkers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < l.numWorkers; i++ {
		g.Go(func() error {
			for raw := range vaas {
				// Rejections and queue failures are logged by the ingester.
				_, _ = l.ingester.Ingest(gctx, raw)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(vaas)
		return l.receive(gctx, filters, vaas)
	})
	return g.Wait()
}

func (l *SpyListener) receive(ctx context.Context, filters []clients.EmitterFilter, out chan<- []byte) error {
	err := retry.Do(ctx, retry.NewConstant(l.reconnectDelay), func(ctx context.Context) error {
		stream, err := l.subscribe(ctx, filters)
		if err != nil {
			l.logger.Warn("Failed to subscribe to spy, retrying", zap.Duration("delay", l.reconnectDelay), zap.Error(err))
			return retry.RetryableError(err)
		}
		l.logger.Info("Listening for VAAs")

		for {
			resp, err := stream.Recv()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.logger.Warn("Stream error, reconnecting", zap.Duration("delay", l.reconnectDelay), zap.Error(err))
				return retry.RetryableError(err)
			}
			select {
			case out <- resp.VaaBytes:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		l.logger.Info("Spy listener stopped")
		return nil
	}
	return err
}
