package clients

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	publicrpcv1 "github.com/certusone/wormhole/node/pkg/proto/publicrpc/v1"
	spyv1 "github.com/certusone/wormhole/node/pkg/proto/spy/v1"
	"github.com/sethvargo/go-retry"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	subscribeRetries    = 4
	subscribeRetryDelay = 2 * time.Second
)

// EmitterFilter restricts a spy subscription to one emitter.
type EmitterFilter struct {
	ChainID        vaaLib.ChainID
	EmitterAddress vaaLib.Address
}

// SpyClient handles connections to the Wormhole spy service
type SpyClient struct {
	conn   *grpc.ClientConn
	client spyv1.SpyRPCServiceClient
	logger *zap.Logger
}

// NewSpyClient creates a new client for the Wormhole spy service
func NewSpyClient(logger *zap.Logger, endpoint string) (*SpyClient, error) {
	client := &SpyClient{
		logger: logger.With(zap.String("component", "SpyClient")),
	}

	client.logger.Info("Connecting to spy service", zap.String("endpoint", endpoint))
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to spy: %w", err)
	}

	client.conn = conn
	client.client = spyv1.NewSpyRPCServiceClient(conn)
	return client, nil
}

// Close closes the connection to the spy service
func (c *SpyClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// SpyFilters converts emitter filters into the spy's filter entries.
func SpyFilters(filters []EmitterFilter) []*spyv1.FilterEntry {
	entries := make([]*spyv1.FilterEntry, 0, len(filters))
	for _, f := range filters {
		entries = append(entries, &spyv1.FilterEntry{
			Filter: &spyv1.FilterEntry_EmitterFilter{
				EmitterFilter: &spyv1.EmitterFilter{
					ChainId:        publicrpcv1.ChainID(f.ChainID),
					EmitterAddress: hex.EncodeToString(f.EmitterAddress[:]),
				},
			},
		})
	}
	return entries
}

// SubscribeSignedVAA subscribes to signed VAAs matching filters, retrying a few times.
func (c *SpyClient) SubscribeSignedVAA(ctx context.Context, filters []EmitterFilter) (spyv1.SpyRPCService_SubscribeSignedVAAClient, error) {
	c.logger.Debug("Subscribing to signed VAAs", zap.Int("filters", len(filters)))

	req := &spyv1.SubscribeSignedVAARequest{Filters: SpyFilters(filters)}
	attempt := 0

	var stream spyv1.SpyRPCService_SubscribeSignedVAAClient
	backoff := retry.WithMaxRetries(subscribeRetries, retry.NewConstant(subscribeRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		s, err := c.client.SubscribeSignedVAA(ctx, req)
		if err != nil {
			c.logger.Warn("Subscribe attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
				zap.Duration("retryIn", subscribeRetryDelay))
			return retry.RetryableError(err)
		}
		stream = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe after %d attempts: %w", attempt, err)
	}
	return stream, nil
}
