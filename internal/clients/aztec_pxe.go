package clients

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// vaaArgLen is the fixed size of the byte array the Aztec token bridge takes the VAA in.
const vaaArgLen = 2000

// GasFees is the per-unit fee pair reported by the Aztec node.
type GasFees struct {
	FeePerDAGas string `json:"feePerDaGas"`
	FeePerL2Gas string `json:"feePerL2Gas"`
}

// AztecPXEClient handles interactions with Aztec blockchain via PXE
type AztecPXEClient struct {
	rpcClient     *rpc.Client
	walletAddress string
	logger        *zap.Logger
}

// NewAztecPXEClient creates a new client for Aztec blockchain via PXE
func NewAztecPXEClient(logger *zap.Logger, pxeURL, walletAddress string) (*AztecPXEClient, error) {
	client := &AztecPXEClient{
		walletAddress: walletAddress,
		logger:        logger.With(zap.String("component", "AztecPXEClient")),
	}

	client.logger.Info("Connecting to Aztec PXE",
		zap.String("pxeURL", pxeURL),
		zap.String("walletAddress", walletAddress))

	rpcClient, err := rpc.Dial(pxeURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}
	client.rpcClient = rpcClient

	client.testConnection()
	return client, nil
}

func (c *AztecPXEClient) testConnection() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var blockResult interface{}
	if err := c.rpcClient.CallContext(ctx, &blockResult, "node_getBlock", 1); err != nil {
		// block 1 might not exist, the connection can still be fine
		c.logger.Debug("node_getBlock test failed", zap.Error(err))
	}
}

func vaaArgs(vaaBytes []byte) ([]interface{}, error) {
	if len(vaaBytes) > vaaArgLen {
		return nil, fmt.Errorf("VAA is %d bytes, the bridge accepts at most %d", len(vaaBytes), vaaArgLen)
	}
	padded := make([]interface{}, vaaArgLen)
	for i := range padded {
		if i < len(vaaBytes) {
			padded[i] = int(vaaBytes[i])
		} else {
			padded[i] = 0
		}
	}
	return []interface{}{padded, len(vaaBytes)}, nil
}

func (c *AztecPXEClient) call(contract, function string, args []interface{}, fees *GasFees) map[string]interface{} {
	req := map[string]interface{}{
		"contractAddress": contract,
		"functionName":    function,
		"args":            args,
		"origin":          c.walletAddress,
	}
	if fees != nil {
		req["gasSettings"] = map[string]interface{}{"maxFeesPerGas": fees}
	}
	return req
}

// GetCurrentBaseFees returns the node's current base fees.
func (c *AztecPXEClient) GetCurrentBaseFees(ctx context.Context) (*GasFees, error) {
	var fees GasFees
	if err := c.rpcClient.CallContext(ctx, &fees, "node_getCurrentBaseFees"); err != nil {
		return nil, fmt.Errorf("failed to get base fees: %w", err)
	}
	return &fees, nil
}

// IsVAAConsumed simulates the bridge's is_consumed view for the VAA digest.
func (c *AztecPXEClient) IsVAAConsumed(ctx context.Context, targetContract string, digest [32]byte) (bool, error) {
	var result interface{}
	err := c.rpcClient.CallContext(ctx, &result, "pxe_simulateUtility",
		c.call(targetContract, "is_consumed", []interface{}{"0x" + hex.EncodeToString(digest[:])}, nil))
	if err != nil {
		return false, fmt.Errorf("is_consumed simulation failed: %w", err)
	}
	switch v := result.(type) {
	case bool:
		return v, nil
	case map[string]interface{}:
		if b, ok := v["result"].(bool); ok {
			return b, nil
		}
	}
	return false, fmt.Errorf("unexpected is_consumed result %v", result)
}

// SendVerifyTransaction estimates fees by simulating verify_vaa, then sends it through the PXE.
func (c *AztecPXEClient) SendVerifyTransaction(ctx context.Context, targetContract string, vaaBytes []byte) (string, error) {
	c.logger.Debug("Sending verify_vaa transaction to Aztec via PXE", zap.Int("vaaLength", len(vaaBytes)))

	args, err := vaaArgs(vaaBytes)
	if err != nil {
		return "", err
	}
	fees, err := c.GetCurrentBaseFees(ctx)
	if err != nil {
		return "", err
	}

	var simulation interface{}
	if err := c.rpcClient.CallContext(ctx, &simulation, "pxe_simulateTransaction",
		c.call(targetContract, "verify_vaa", args, fees)); err != nil {
		return "", fmt.Errorf("verify_vaa simulation failed: %w", err)
	}
	c.logger.Debug("Transaction simulation successful", zap.Any("result", simulation))

	var txResult interface{}
	if err := c.rpcClient.CallContext(ctx, &txResult, "pxe_sendTransaction",
		c.call(targetContract, "verify_vaa", args, fees)); err != nil {
		return "", fmt.Errorf("failed to send verify_vaa transaction: %w", err)
	}

	if txMap, ok := txResult.(map[string]interface{}); ok {
		for _, field := range []string{"txHash", "hash"} {
			if txHash, ok := txMap[field].(string); ok {
				return txHash, nil
			}
		}
	}
	if txHash, ok := txResult.(string); ok {
		return txHash, nil
	}
	return "", fmt.Errorf("unexpected PXE transaction result %v", txResult)
}

// GetWalletAddress returns the wallet address being used
func (c *AztecPXEClient) GetWalletAddress() string {
	return c.walletAddress
}

// Close releases the RPC connection.
func (c *AztecPXEClient) Close() {
	c.rpcClient.Close()
}
