package redeemer

import (
	"context"
	"fmt"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/wormhole-foundation/wormhole-sub007/internal/config"
	"github.com/wormhole-foundation/wormhole-sub007/internal/message"
)

// Request is one redemption of a transfer VAA on its target chain.
type Request struct {
	VAA      []byte
	Parsed   *vaaLib.VAA
	Transfer *message.Transfer
	Chain    config.ChainConfigInfo
}

// Redeemer redeems transfer VAAs on one destination chain with one credential.
type Redeemer interface {
	// IsRedeemed reports whether the destination chain already consumed the VAA.
	IsRedeemed(ctx context.Context, req *Request) (bool, error)
	// Redeem submits the redemption and waits for its inclusion, returning a transaction id.
	Redeem(ctx context.Context, req *Request) (string, error)
}

// Outcome is the result of Run.
type Outcome struct {
	Redeemed bool
	Result   string
}

// Run checks whether the VAA is already redeemed and, unless checkOnly is set,
// submits it and re-checks the chain to confirm the redemption.
func Run(ctx context.Context, r Redeemer, req *Request, checkOnly bool) (Outcome, error) {
	redeemed, err := r.IsRedeemed(ctx, req)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to check redemption: %w", err)
	}
	if redeemed {
		return Outcome{Redeemed: true, Result: "already redeemed"}, nil
	}
	if checkOnly {
		return Outcome{Redeemed: false, Result: "not redeemed"}, nil
	}

	result, err := r.Redeem(ctx, req)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to redeem: %w", err)
	}

	redeemed, err = r.IsRedeemed(ctx, req)
	if err != nil {
		return Outcome{Result: result}, fmt.Errorf("failed to confirm redemption %s: %w", result, err)
	}
	return Outcome{Redeemed: redeemed, Result: result}, nil
}
