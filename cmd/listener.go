package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wormhole-foundation/wormhole-sub007/internal/clients"
	"github.com/wormhole-foundation/wormhole-sub007/internal/config"
	"github.com/wormhole-foundation/wormhole-sub007/internal/listener"
)

var listenerCmd = &cobra.Command{
	Use:   "listener",
	Short: "Queue relayable VAAs from the spy and the REST endpoint",
	Long: `Subscribes to the spy for the configured emitters, validates every signed VAA and queues the
token bridge transfers of approved tokens that pay a relay fee.

When rest_port is set, VAAs can also be submitted at GET /relayvaa/<base64 VAA>.`,
	PreRun: func(cmd *cobra.Command, args []string) {
		printBanner()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runModes(cmd, args, true, false)
	},
}

func init() {
	rootCmd.AddCommand(listenerCmd)
}

func (a *app) listen(ctx context.Context, g *errgroup.Group) error {
	spyClient, err := clients.NewSpyClient(a.logger, a.cfg.Listener.SpyServiceHost)
	if err != nil {
		return err
	}
	ingester := listener.NewIngester(a.backend.Listener, a.queue, a.metrics, a.logger)
	spy := listener.NewSpyListener(spyClient, a.backend.Listener, ingester, a.cfg.Listener.SpyNumWorkers, a.logger)

	a.logger.Info("Starting listener",
		zap.String("spy", a.cfg.Listener.SpyServiceHost),
		zap.Int("workers", a.cfg.Listener.SpyNumWorkers),
		zap.Int("restPort", a.cfg.Listener.RestPort))

	g.Go(func() error {
		defer spyClient.Close()
		return spy.Run(ctx)
	})
	if a.cfg.Listener.RestPort != 0 {
		rest := listener.NewRestServer(ingester, a.logger)
		g.Go(func() error {
			return rest.Serve(ctx, a.cfg.Listener.RestPort)
		})
	}
	return nil
}

func validateListener(cfg *config.Config) error {
	return cfg.ValidateListener()
}
