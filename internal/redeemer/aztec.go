package redeemer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wormhole-foundation/wormhole-sub007/internal/clients"
	"github.com/wormhole-foundation/wormhole-sub007/internal/config"
	"github.com/wormhole-foundation/wormhole-sub007/internal/message"
)

const healthCheckTimeout = 10 * time.Second

type aztecPXE interface {
	IsVAAConsumed(ctx context.Context, targetContract string, digest [32]byte) (bool, error)
	SendVerifyTransaction(ctx context.Context, targetContract string, vaaBytes []byte) (string, error)
}

type aztecVerifier interface {
	VerifyVAA(ctx context.Context, vaaBytes []byte) (string, error)
}

// AztecRedeemer submits VAAs to the Aztec token bridge, preferring the verification
// service and falling back to sending through the PXE directly.
type AztecRedeemer struct {
	pxe      aztecPXE
	verifier aztecVerifier
	contract string
	logger   *zap.Logger
}

// NewAztecRedeemer is the Factory of the Aztec family. The PXE signs as the chain's
// walletAddress, so credential only distinguishes worker instances.
func NewAztecRedeemer(chain config.ChainConfigInfo, _ string, logger *zap.Logger) (Redeemer, error) {
	pxe, err := clients.NewAztecPXEClient(logger, chain.NodeURL, chain.WalletAddress)
	if err != nil {
		return nil, err
	}
	logger.Info("Aztec redeemer ready", zap.String("wallet", pxe.GetWalletAddress()))

	var verifier aztecVerifier
	if chain.VerificationServiceURL != "" {
		svc := clients.NewVerificationServiceClient(logger, chain.VerificationServiceURL)
		ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
		err := svc.CheckHealth(ctx)
		cancel()
		if err != nil {
			logger.Warn("Verification service unhealthy, PXE fallback will be used", zap.Error(err))
		}
		verifier = svc
	}
	return newAztecRedeemer(pxe, verifier, chain.TokenBridgeAddress, logger), nil
}

func newAztecRedeemer(pxe aztecPXE, verifier aztecVerifier, contract string, logger *zap.Logger) *AztecRedeemer {
	return &AztecRedeemer{
		pxe:      pxe,
		verifier: verifier,
		contract: contract,
		logger:   logger.With(zap.String("component", "AztecRedeemer")),
	}
}

func (r *AztecRedeemer) IsRedeemed(ctx context.Context, req *Request) (bool, error) {
	digest, err := message.Digest(req.VAA)
	if err != nil {
		return false, err
	}
	return r.pxe.IsVAAConsumed(ctx, r.contract, digest)
}

func (r *AztecRedeemer) Redeem(ctx context.Context, req *Request) (string, error) {
	if r.verifier != nil {
		txHash, err := r.verifier.VerifyVAA(ctx, req.VAA)
		if err == nil {
			r.logger.Info("Redeemed on Aztec via verification service", zap.String("txHash", txHash))
			return txHash, nil
		}
		r.logger.Warn("Verification service failed, trying direct PXE", zap.Error(err))
	}

	txHash, err := r.pxe.SendVerifyTransaction(ctx, r.contract, req.VAA)
	if err != nil {
		return "", fmt.Errorf("failed to submit VAA to Aztec: %w", err)
	}
	r.logger.Info("Redeemed on Aztec via PXE", zap.String("txHash", txHash))
	return txHash, nil
}

func (r *AztecRedeemer) Close() {
	if c, ok := r.pxe.(*clients.AztecPXEClient); ok {
		c.Close()
	}
}
