package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

const tokenBridgeABI = `[
	{"inputs":[{"internalType":"bytes32","name":"hash","type":"bytes32"}],"name":"isTransferCompleted",
	 "outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"bytes","name":"encodedVm","type":"bytes"}],"name":"completeTransfer",
	 "outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"bytes","name":"encodedVm","type":"bytes"}],"name":"completeTransferAndUnwrapETH",
	 "outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const fallbackGasLimit = 3000000

var tokenBridge = mustParseABI(tokenBridgeABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid token bridge ABI: %v", err))
	}
	return parsed
}

// EVMClient handles interactions with the token bridge on EVM-compatible chains
type EVMClient struct {
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	logger     *zap.Logger
}

// NewEVMClient creates a new client for EVM-compatible blockchains
func NewEVMClient(logger *zap.Logger, rpcURL, privateKeyHex string) (*EVMClient, error) {
	client := &EVMClient{
		logger: logger.With(zap.String("component", "EVMClient")),
	}

	client.logger.Info("Connecting to EVM chain", zap.String("rpcURL", rpcURL))
	ethClient, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM node: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	client.client = ethClient
	client.privateKey = privateKey
	client.address = crypto.PubkeyToAddress(privateKey.PublicKey)

	return client, nil
}

// GetAddress returns the public address for this client
func (c *EVMClient) GetAddress() common.Address {
	return c.address
}

// IsTransferCompleted asks the token bridge whether the VAA with the given digest was redeemed.
func (c *EVMClient) IsTransferCompleted(ctx context.Context, bridge common.Address, digest common.Hash) (bool, error) {
	data, err := tokenBridge.Pack("isTransferCompleted", digest)
	if err != nil {
		return false, fmt.Errorf("ABI pack error: %w", err)
	}
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &bridge, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("isTransferCompleted call failed: %w", err)
	}
	res, err := tokenBridge.Unpack("isTransferCompleted", out)
	if err != nil {
		return false, fmt.Errorf("ABI unpack error: %w", err)
	}
	completed, ok := res[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected isTransferCompleted result %T", res[0])
	}
	return completed, nil
}

// CompleteTransfer submits the VAA to the token bridge and waits for the receipt.
// With unwrap the bridge pays out the native currency instead of the wrapped token.
func (c *EVMClient) CompleteTransfer(ctx context.Context, bridge common.Address, vaaBytes []byte, unwrap bool) (*types.Receipt, error) {
	method := "completeTransfer"
	if unwrap {
		method = "completeTransferAndUnwrapETH"
	}
	c.logger.Debug("Sending redeem transaction", zap.String("method", method), zap.Int("vaaLength", len(vaaBytes)))

	data, err := tokenBridge.Pack(method, vaaBytes)
	if err != nil {
		return nil, fmt.Errorf("ABI pack error: %w", err)
	}

	tx, err := c.buildTx(ctx, bridge, data)
	if err != nil {
		return nil, err
	}

	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	c.logger.Info("Redeem transaction sent", zap.String("txHash", signedTx.Hash().Hex()))

	receipt, err := bind.WaitMined(ctx, c.client, signedTx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for %s: %w", signedTx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("transaction %s reverted", signedTx.Hash().Hex())
	}
	return receipt, nil
}

// buildTx creates an EIP-1559 transaction with 2x base fee plus a 0.1 gwei tip,
// or a legacy transaction on chains without a base fee.
func (c *EVMClient) buildTx(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	nonce, err := c.client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{From: c.address, To: &to, Data: data})
	if err != nil {
		c.logger.Warn("Gas estimation failed, using fallback limit", zap.Error(err))
		gas = fallbackGasLimit
	}

	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block header: %w", err)
	}

	if header.BaseFee == nil {
		gasPrice, err := c.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get gas price: %w", err)
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       &to,
			Value:    big.NewInt(0),
			Data:     data,
		}), nil
	}

	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	maxPriorityFeePerGas := big.NewInt(100000000) // 0.1 gwei
	maxFeePerGas := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	maxFeePerGas.Add(maxFeePerGas, maxPriorityFeePerGas)

	c.logger.Debug("Gas fees calculated",
		zap.String("baseFee", header.BaseFee.String()),
		zap.String("maxFeePerGas", maxFeePerGas.String()),
		zap.Uint64("gas", gas))

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: maxPriorityFeePerGas,
		GasFeeCap: maxFeePerGas,
		Gas:       gas,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	}), nil
}

// Close releases the RPC connection.
func (c *EVMClient) Close() {
	c.client.Close()
}
