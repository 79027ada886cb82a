package redeemer

import (
	"context"

	"go.uber.org/zap"

	"github.com/wormhole-foundation/wormhole-sub007/internal/clients"
	"github.com/wormhole-foundation/wormhole-sub007/internal/config"
	"github.com/wormhole-foundation/wormhole-sub007/internal/message"
)

type solanaBridge interface {
	IsTransferCompleted(ctx context.Context, vaaBytes []byte) (bool, error)
	CompleteTransfer(ctx context.Context, vaaBytes []byte, tr *message.Transfer) (string, error)
}

// SolanaRedeemer posts VAAs to the core bridge and completes transfers on the token bridge program.
type SolanaRedeemer struct {
	bridge solanaBridge
	logger *zap.Logger
}

// NewSolanaRedeemer is the Factory of the Solana family; credential is a base58 or JSON keypair.
func NewSolanaRedeemer(chain config.ChainConfigInfo, credential string, logger *zap.Logger) (Redeemer, error) {
	client, err := clients.NewSolanaClient(logger, chain.NodeURL, credential,
		chain.TokenBridgeAddress, chain.BridgeAddress, chain.VAAServiceURL)
	if err != nil {
		return nil, err
	}
	logger.Info("Solana redeemer ready", zap.Stringer("payer", client.GetPayerAddress()))
	return &SolanaRedeemer{
		bridge: client,
		logger: logger.With(zap.String("component", "SolanaRedeemer")),
	}, nil
}

func (r *SolanaRedeemer) IsRedeemed(ctx context.Context, req *Request) (bool, error) {
	return r.bridge.IsTransferCompleted(ctx, req.VAA)
}

func (r *SolanaRedeemer) Redeem(ctx context.Context, req *Request) (string, error) {
	sig, err := r.bridge.CompleteTransfer(ctx, req.VAA, req.Transfer)
	if err != nil {
		return "", err
	}
	r.logger.Info("Redeemed on Solana", zap.String("signature", sig))
	return sig, nil
}
