package redeemer

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/wormhole-foundation/wormhole-sub007/internal/chains"
	"github.com/wormhole-foundation/wormhole-sub007/internal/clients"
	"github.com/wormhole-foundation/wormhole-sub007/internal/config"
	"github.com/wormhole-foundation/wormhole-sub007/internal/message"
)

type evmBridge interface {
	IsTransferCompleted(ctx context.Context, bridge common.Address, digest common.Hash) (bool, error)
	CompleteTransfer(ctx context.Context, bridge common.Address, vaaBytes []byte, unwrap bool) (*types.Receipt, error)
}

// EVMRedeemer redeems transfers through the token bridge contract of an EVM chain.
type EVMRedeemer struct {
	bridge   evmBridge
	contract common.Address
	logger   *zap.Logger
}

// NewEVMRedeemer is the Factory of the EVM family; credential is a hex private key.
func NewEVMRedeemer(chain config.ChainConfigInfo, credential string, logger *zap.Logger) (Redeemer, error) {
	client, err := clients.NewEVMClient(logger, chain.NodeURL, credential)
	if err != nil {
		return nil, err
	}
	logger.Info("EVM redeemer ready",
		zap.String("chain", chain.ChainName), zap.String("address", client.GetAddress().Hex()))
	return newEVMRedeemer(client, chain, logger)
}

func newEVMRedeemer(bridge evmBridge, chain config.ChainConfigInfo, logger *zap.Logger) (*EVMRedeemer, error) {
	if !common.IsHexAddress(chain.TokenBridgeAddress) {
		return nil, fmt.Errorf("invalid token bridge address %q", chain.TokenBridgeAddress)
	}
	return &EVMRedeemer{
		bridge:   bridge,
		contract: common.HexToAddress(chain.TokenBridgeAddress),
		logger:   logger.With(zap.String("component", "EVMRedeemer"), zap.String("chain", chain.ChainName)),
	}, nil
}

func (r *EVMRedeemer) IsRedeemed(ctx context.Context, req *Request) (bool, error) {
	digest, err := message.Digest(req.VAA)
	if err != nil {
		return false, err
	}
	return r.bridge.IsTransferCompleted(ctx, r.contract, digest)
}

func (r *EVMRedeemer) Redeem(ctx context.Context, req *Request) (string, error) {
	unwrap := UnwrapNative(req.Transfer, req.Chain)
	r.logger.Debug("Redeeming on EVM", zap.Bool("unwrapNative", unwrap))

	receipt, err := r.bridge.CompleteTransfer(ctx, r.contract, req.VAA, unwrap)
	if err != nil {
		return "", err
	}
	r.logger.Info("Redeemed on EVM",
		zap.String("txHash", receipt.TxHash.Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()))
	return receipt.TxHash.Hex(), nil
}

func (r *EVMRedeemer) Close() {
	if c, ok := r.bridge.(*clients.EVMClient); ok {
		c.Close()
	}
}

// UnwrapNative reports whether the transfer returns the chain's wrapped native token to its
// home chain, in which case the bridge should pay out the native currency.
func UnwrapNative(tr *message.Transfer, chain config.ChainConfigInfo) bool {
	if tr.OriginChain != tr.TargetChain || chain.WrappedAsset == "" {
		return false
	}
	origin, err := chains.AddressToNative(tr.OriginChain, tr.OriginAddress)
	if err != nil {
		return false
	}
	return strings.EqualFold(origin, chain.WrappedAsset)
}
