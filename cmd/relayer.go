package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wormhole-foundation/wormhole-sub007/internal/config"
	"github.com/wormhole-foundation/wormhole-sub007/internal/relay"
)

var relayerCmd = &cobra.Command{
	Use:   "relayer",
	Short: "Redeem queued VAAs on their destination chains",
	Long: `Runs one worker per configured (chain, private key) pair. Workers claim queued VAAs destined
for their chain and redeem them; an auditor per worker confirms completed redemptions and requeues
rolled back ones.`,
	PreRun: func(cmd *cobra.Command, args []string) {
		printBanner()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runModes(cmd, args, false, true)
	},
}

func init() {
	rootCmd.AddCommand(relayerCmd)
}

func (a *app) relay(ctx context.Context, g *errgroup.Group) error {
	for _, chain := range a.cfg.Relayer.SupportedChains {
		a.logger.Info("Relaying to chain",
			zap.Stringer("chainId", chain.ChainID),
			zap.String("chainName", chain.ChainName),
			zap.String("family", string(chain.ResolvedFamily())),
			zap.String("tokenBridge", chain.TokenBridgeAddress))
	}
	pool := relay.NewPool(a.cfg.Relayer, a.queue, a.backend.Relayer, a.metrics, a.logger)
	g.Go(func() error {
		return pool.Run(ctx)
	})
	return nil
}

func validateRelayer(cfg *config.Config) error {
	return cfg.ValidateRelayer()
}

func validateBoth(cfg *config.Config) error {
	return multierr.Combine(cfg.ValidateListener(), cfg.ValidateRelayer())
}
