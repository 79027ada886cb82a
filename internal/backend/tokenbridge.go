package backend

import (
	"context"
	"errors"
	"fmt"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/wormhole-foundation/wormhole-sub007/internal/config"
	"github.com/wormhole-foundation/wormhole-sub007/internal/listener"
	"github.com/wormhole-foundation/wormhole-sub007/internal/message"
	"github.com/wormhole-foundation/wormhole-sub007/internal/queue"
	"github.com/wormhole-foundation/wormhole-sub007/internal/redeemer"
)

// NewTokenBridge is the Factory of the default backend.
func NewTokenBridge(deps Deps) (*Backend, error) {
	if deps.Config == nil {
		return nil, errors.New("missing config")
	}
	redeemers := deps.Redeemers
	if redeemers == nil {
		redeemers = redeemer.DefaultRegistry(deps.Logger)
	}
	return &Backend{
		Listener: listener.NewValidator(deps.Config.Common.SupportedTokens, deps.Config.Listener.SpyServiceFilters, deps.Logger),
		Relayer:  NewTokenBridgeRelayer(deps.Config.Relayer, redeemers, deps.Logger),
	}, nil
}

// TokenBridgeRelayer redeems payload 1 transfers through the chain family redeemers.
type TokenBridgeRelayer struct {
	chains    config.Relayer
	redeemers *redeemer.Registry
	logger    *zap.Logger
}

func NewTokenBridgeRelayer(chains config.Relayer, redeemers *redeemer.Registry, logger *zap.Logger) *TokenBridgeRelayer {
	return &TokenBridgeRelayer{
		chains:    chains,
		redeemers: redeemers,
		logger:    logger.With(zap.String("component", "TokenBridgeRelayer")),
	}
}

// TargetChain reads the destination chain from the transfer payload.
func (r *TokenBridgeRelayer) TargetChain(vaaBytes []byte) (vaaLib.ChainID, error) {
	v, err := message.ParseVAA(vaaBytes)
	if err != nil {
		return 0, err
	}
	tr, err := message.ParseTransfer(v.Payload)
	if err != nil {
		return 0, err
	}
	return tr.TargetChain, nil
}

func (r *TokenBridgeRelayer) Relay(ctx context.Context, info WorkerInfo, vaaBytes []byte, checkOnly bool) RelayResult {
	logger := r.logger.With(zap.Int("worker", info.Index), zap.Bool("checkOnly", checkOnly))

	v, err := message.ParseVAA(vaaBytes)
	if err != nil {
		return RelayResult{Status: queue.Error, Result: fmt.Sprintf("failed to parse VAA: %v", err)}
	}
	if len(v.Payload) == 0 || v.Payload[0] != message.PayloadTypeTransfer {
		logger.Error("Invalid payload type", zap.Stringer("emitterChain", v.EmitterChain), zap.Uint64("sequence", v.Sequence))
		return RelayResult{Status: queue.FatalError, Result: "Invalid payload type"}
	}
	tr, err := message.ParseTransfer(v.Payload)
	if err != nil {
		return RelayResult{Status: queue.Error, Result: fmt.Sprintf("failed to parse transfer: %v", err)}
	}

	chain, ok := r.chains.ChainConfig(tr.TargetChain)
	if !ok {
		logger.Error("Target chain not supported", zap.Stringer("targetChain", tr.TargetChain))
		return RelayResult{Status: queue.FatalError, Result: fmt.Sprintf("target chain %d not supported", tr.TargetChain)}
	}

	red, err := r.redeemers.Get(chain, info.Credential)
	if errors.Is(err, redeemer.ErrUnsupportedFamily) {
		logger.Error("No redeemer for target chain", zap.Stringer("targetChain", tr.TargetChain), zap.Error(err))
		return RelayResult{Status: queue.FatalError, Result: fmt.Sprintf("target chain %d is invalid, this is a program bug", tr.TargetChain)}
	}
	if err != nil {
		return RelayResult{Status: queue.Error, Result: err.Error()}
	}

	out, err := redeemer.Run(ctx, red, &redeemer.Request{VAA: vaaBytes, Parsed: v, Transfer: tr, Chain: chain}, checkOnly)
	if err != nil {
		logger.Warn("Relay failed", zap.Stringer("targetChain", tr.TargetChain), zap.Error(err))
		return RelayResult{Status: queue.Error, Result: err.Error()}
	}
	switch {
	case out.Redeemed:
		logger.Debug("VAA redeemed", zap.Stringer("targetChain", tr.TargetChain), zap.String("result", out.Result))
		return RelayResult{Status: queue.Completed, Result: out.Result}
	case checkOnly:
		return RelayResult{Status: queue.Pending, Result: out.Result}
	default:
		return RelayResult{Status: queue.Error, Result: fmt.Sprintf("redemption %s not confirmed on chain", out.Result)}
	}
}
