package clients

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/rpc"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/wormhole-foundation/wormhole-sub007/internal/message"
)

// Token bridge PDA seeds
var (
	SeedConfig        = []byte("config")
	SeedWrapped       = []byte("wrapped")
	SeedMeta          = []byte("meta")
	SeedMintSigner    = []byte("mint_signer")
	SeedCustodySigner = []byte("custody_signer")
	SeedPostedVAA     = []byte("PostedVAA")
)

// Token bridge instruction indices
const (
	InstructionCompleteNative  byte = 2
	InstructionCompleteWrapped byte = 3
)

const (
	confirmAttempts = 30
	confirmInterval = 2 * time.Second
)

// SolanaClient redeems token bridge transfers on Solana
type SolanaClient struct {
	client            *rpc.Client
	payer             solana.PrivateKey
	tokenBridgeID     solana.PublicKey
	wormholeProgramID solana.PublicKey
	vaaServiceURL     string // URL of the VAA posting service
	httpClient        *http.Client
	logger            *zap.Logger
}

// NewSolanaClient creates a new Solana client.
// The private key is either base58 or a JSON byte array as written by solana-keygen.
// VAAs are posted to the core bridge through vaaServiceURL before redemption.
func NewSolanaClient(logger *zap.Logger, rpcURL, privateKey, tokenBridgeID, wormholeProgramID, vaaServiceURL string) (*SolanaClient, error) {
	client := &SolanaClient{
		client:        rpc.New(rpcURL),
		logger:        logger.With(zap.String("component", "SolanaClient")),
		vaaServiceURL: strings.TrimSuffix(vaaServiceURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	client.logger.Info("Connecting to Solana", zap.String("rpcURL", rpcURL))

	payer, err := ParseSolanaPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	client.payer = payer

	if client.tokenBridgeID, err = solana.PublicKeyFromBase58(tokenBridgeID); err != nil {
		return nil, fmt.Errorf("invalid token bridge program ID: %w", err)
	}
	if client.wormholeProgramID, err = solana.PublicKeyFromBase58(wormholeProgramID); err != nil {
		return nil, fmt.Errorf("invalid wormhole program ID: %w", err)
	}

	client.logger.Info("Solana client initialized",
		zap.String("payer", client.payer.PublicKey().String()),
		zap.String("tokenBridge", client.tokenBridgeID.String()),
		zap.String("wormholeProgramID", client.wormholeProgramID.String()),
		zap.String("vaaServiceURL", client.vaaServiceURL))

	return client, nil
}

// ParseSolanaPrivateKey accepts base58 or a JSON array of 64 bytes.
func ParseSolanaPrivateKey(s string) (solana.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var raw []byte
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		if len(raw) != 64 {
			return nil, fmt.Errorf("invalid private key: expected 64 bytes, got %d", len(raw))
		}
		return solana.PrivateKey(raw), nil
	}
	key, err := solana.PrivateKeyFromBase58(s)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// GetPayerAddress returns the payer's public key
func (c *SolanaClient) GetPayerAddress() solana.PublicKey {
	return c.payer.PublicKey()
}

// DeriveClaimPDA derives the token bridge claim account marking a VAA as redeemed.
func DeriveClaimPDA(tokenBridge solana.PublicKey, emitterChain vaaLib.ChainID, emitter vaaLib.Address, sequence uint64) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress([][]byte{emitter[:], be16(uint16(emitterChain)), be64(sequence)}, tokenBridge)
	return pda, err
}

// DeriveEndpointPDA derives the registered foreign emitter account.
func DeriveEndpointPDA(tokenBridge solana.PublicKey, emitterChain vaaLib.ChainID, emitter vaaLib.Address) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress([][]byte{be16(uint16(emitterChain)), emitter[:]}, tokenBridge)
	return pda, err
}

// DeriveWrappedMintPDA derives the mint of a wrapped foreign asset.
func DeriveWrappedMintPDA(tokenBridge solana.PublicKey, originChain vaaLib.ChainID, origin vaaLib.Address) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress([][]byte{SeedWrapped, be16(uint16(originChain)), origin[:]}, tokenBridge)
	return pda, err
}

// DerivePostedVAAPDA derives the posted VAA account from the VAA body hash.
func DerivePostedVAAPDA(wormholeProgram solana.PublicKey, bodyHash [32]byte) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress([][]byte{SeedPostedVAA, bodyHash[:]}, wormholeProgram)
	return pda, err
}

func (c *SolanaClient) pda(seeds ...[]byte) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(seeds, c.tokenBridgeID)
	return pda, err
}

func be16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func be64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func (c *SolanaClient) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	info, err := c.client.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info != nil && info.Value != nil, nil
}

// IsTransferCompleted reports whether the claim account of the VAA exists.
func (c *SolanaClient) IsTransferCompleted(ctx context.Context, vaaBytes []byte) (bool, error) {
	v, err := message.ParseVAA(vaaBytes)
	if err != nil {
		return false, err
	}
	claim, err := DeriveClaimPDA(c.tokenBridgeID, v.EmitterChain, v.EmitterAddress, v.Sequence)
	if err != nil {
		return false, fmt.Errorf("failed to derive claim PDA: %w", err)
	}
	exists, err := c.accountExists(ctx, claim)
	if err != nil {
		return false, fmt.Errorf("failed to fetch claim account %s: %w", claim, err)
	}
	return exists, nil
}

// CompleteTransfer posts the VAA, makes sure the payer's fee account exists and submits
// complete_native or complete_wrapped depending on the origin chain.
func (c *SolanaClient) CompleteTransfer(ctx context.Context, vaaBytes []byte, tr *message.Transfer) (string, error) {
	v, err := message.ParseVAA(vaaBytes)
	if err != nil {
		return "", err
	}

	postedVAA, err := c.PostVAAToWormhole(ctx, vaaBytes)
	if err != nil {
		return "", err
	}

	native := tr.OriginChain == vaaLib.ChainIDSolana
	var mint solana.PublicKey
	if native {
		mint = solana.PublicKeyFromBytes(tr.OriginAddress[:])
	} else if mint, err = DeriveWrappedMintPDA(c.tokenBridgeID, tr.OriginChain, tr.OriginAddress); err != nil {
		return "", fmt.Errorf("failed to derive wrapped mint: %w", err)
	}

	feeAccount, err := c.ensureFeeAccount(ctx, mint)
	if err != nil {
		return "", err
	}

	ix, err := c.buildCompleteInstruction(v, tr, native, mint, postedVAA, feeAccount)
	if err != nil {
		return "", err
	}
	return c.sendAndConfirm(ctx, ix)
}

// ensureFeeAccount returns the payer's associated token account for mint, creating it if missing.
func (c *SolanaClient) ensureFeeAccount(ctx context.Context, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(c.payer.PublicKey(), mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive fee account: %w", err)
	}
	exists, err := c.accountExists(ctx, ata)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to fetch fee account: %w", err)
	}
	if exists {
		return ata, nil
	}

	c.logger.Info("Creating associated token account", zap.String("mint", mint.String()), zap.String("account", ata.String()))
	create := associatedtokenaccount.NewCreateInstruction(c.payer.PublicKey(), c.payer.PublicKey(), mint).Build()
	if _, err := c.sendAndConfirm(ctx, create); err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to create associated token account: %w", err)
	}
	return ata, nil
}

func (c *SolanaClient) buildCompleteInstruction(
	v *vaaLib.VAA,
	tr *message.Transfer,
	native bool,
	mint solana.PublicKey,
	postedVAA solana.PublicKey,
	feeAccount solana.PublicKey,
) (solana.Instruction, error) {
	config, err := c.pda(SeedConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to derive config PDA: %w", err)
	}
	claim, err := DeriveClaimPDA(c.tokenBridgeID, v.EmitterChain, v.EmitterAddress, v.Sequence)
	if err != nil {
		return nil, fmt.Errorf("failed to derive claim PDA: %w", err)
	}
	endpoint, err := DeriveEndpointPDA(c.tokenBridgeID, v.EmitterChain, v.EmitterAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to derive endpoint PDA: %w", err)
	}
	to := solana.PublicKeyFromBytes(tr.TargetAddress[:])

	accounts := []*solana.AccountMeta{
		{PublicKey: c.payer.PublicKey(), IsSigner: true, IsWritable: true}, // payer
		{PublicKey: config, IsSigner: false, IsWritable: false},            // config
		{PublicKey: postedVAA, IsSigner: false, IsWritable: false},         // vaa
		{PublicKey: claim, IsSigner: false, IsWritable: true},              // claim
		{PublicKey: endpoint, IsSigner: false, IsWritable: false},          // endpoint
		{PublicKey: to, IsSigner: false, IsWritable: true},                 // to
		{PublicKey: feeAccount, IsSigner: false, IsWritable: true},         // to_fees
	}

	instruction := InstructionCompleteWrapped
	if native {
		instruction = InstructionCompleteNative
		custody, err := c.pda(mint[:])
		if err != nil {
			return nil, fmt.Errorf("failed to derive custody PDA: %w", err)
		}
		custodySigner, err := c.pda(SeedCustodySigner)
		if err != nil {
			return nil, fmt.Errorf("failed to derive custody signer PDA: %w", err)
		}
		accounts = append(accounts,
			&solana.AccountMeta{PublicKey: custody, IsWritable: true},
			&solana.AccountMeta{PublicKey: mint},
			&solana.AccountMeta{PublicKey: custodySigner},
		)
	} else {
		meta, err := c.pda(SeedMeta, mint[:])
		if err != nil {
			return nil, fmt.Errorf("failed to derive wrapped meta PDA: %w", err)
		}
		mintSigner, err := c.pda(SeedMintSigner)
		if err != nil {
			return nil, fmt.Errorf("failed to derive mint signer PDA: %w", err)
		}
		accounts = append(accounts,
			&solana.AccountMeta{PublicKey: mint, IsWritable: true},
			&solana.AccountMeta{PublicKey: meta},
			&solana.AccountMeta{PublicKey: mintSigner},
		)
	}
	accounts = append(accounts,
		&solana.AccountMeta{PublicKey: solana.SysVarRentPubkey},
		&solana.AccountMeta{PublicKey: solana.SystemProgramID},
		&solana.AccountMeta{PublicKey: solana.TokenProgramID},
		&solana.AccountMeta{PublicKey: c.wormholeProgramID},
	)

	return solana.NewInstruction(c.tokenBridgeID, accounts, []byte{instruction}), nil
}

func (c *SolanaClient) sendAndConfirm(ctx context.Context, ix solana.Instruction) (string, error) {
	recentBlockhash, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to get recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		recentBlockhash.Value.Blockhash,
		solana.TransactionPayer(c.payer.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.payer.PublicKey()) {
			return &c.payer
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := c.client.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	c.logger.Info("Transaction sent", zap.String("signature", sig.String()))

	for i := 0; i < confirmAttempts; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(confirmInterval):
		}
		res, err := c.client.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			c.logger.Debug("Failed to fetch signature status", zap.Error(err))
			continue
		}
		if len(res.Value) == 0 || res.Value[0] == nil {
			continue
		}
		status := res.Value[0]
		if status.Err != nil {
			return "", fmt.Errorf("transaction %s failed: %v", sig, status.Err)
		}
		if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
			return sig.String(), nil
		}
	}
	return "", fmt.Errorf("transaction %s not confirmed after %s", sig, confirmAttempts*confirmInterval)
}

// PostVAAToWormhole makes sure the VAA is posted to the core bridge, calling the
// VAA posting service when it is not.
func (c *SolanaClient) PostVAAToWormhole(ctx context.Context, vaaBytes []byte) (solana.PublicKey, error) {
	hash, err := message.BodyHash(vaaBytes)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to compute VAA hash: %w", err)
	}

	postedVAA, err := DerivePostedVAAPDA(c.wormholeProgramID, hash)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive posted VAA PDA: %w", err)
	}

	posted, err := c.accountExists(ctx, postedVAA)
	if err != nil {
		c.logger.Warn("Failed to check posted VAA account", zap.Error(err))
	}
	if posted {
		c.logger.Debug("VAA already posted to Wormhole", zap.String("postedVAA", postedVAA.String()))
		return postedVAA, nil
	}

	if c.vaaServiceURL == "" {
		return solana.PublicKey{}, fmt.Errorf("VAA not yet posted to Wormhole at %s and no VAA service URL configured", postedVAA.String())
	}

	c.logger.Info("Posting VAA via VAA service",
		zap.String("serviceURL", c.vaaServiceURL),
		zap.Int("vaaLength", len(vaaBytes)))

	if err := c.callVAAService(ctx, vaaBytes); err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to post VAA via service: %w", err)
	}

	for i := 0; i < 10; i++ {
		select {
		case <-ctx.Done():
			return solana.PublicKey{}, ctx.Err()
		case <-time.After(confirmInterval):
		}
		if posted, err := c.accountExists(ctx, postedVAA); err == nil && posted {
			c.logger.Info("VAA successfully posted to Wormhole", zap.String("postedVAA", postedVAA.String()))
			return postedVAA, nil
		}
		c.logger.Debug("Waiting for VAA to be posted...", zap.Int("attempt", i+1))
	}

	return solana.PublicKey{}, fmt.Errorf("VAA was posted but not found on chain after 20 seconds")
}

// callVAAService posts a VAA to the external VAA posting service
func (c *SolanaClient) callVAAService(ctx context.Context, vaaBytes []byte) error {
	reqJSON, err := json.Marshal(map[string]string{
		"vaa": hex.EncodeToString(vaaBytes),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.vaaServiceURL+"/post-vaa", bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var result struct {
		Success   bool   `json:"success"`
		Signature string `json:"signature"`
		Error     string `json:"error"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w (body: %s)", err, string(body))
	}

	if !result.Success {
		if result.Error == "" {
			result.Error = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("VAA service error: %s", result.Error)
	}

	c.logger.Info("VAA posted via service",
		zap.String("signature", result.Signature),
		zap.String("message", result.Message))

	return nil
}
