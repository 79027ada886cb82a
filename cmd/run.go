package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the listener and the relayer in one process",
	PreRun: func(cmd *cobra.Command, args []string) {
		printBanner()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runModes(cmd, args, true, true)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runModes(cmd *cobra.Command, args []string, listen, relay bool) error {
	logger := configureLogging(cmd, args)
	defer func() { _ = logger.Sync() }()

	validate := validateBoth
	switch {
	case listen && !relay:
		validate = validateListener
	case relay && !listen:
		validate = validateRelayer
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	a, err := newApp(ctx, logger, validate)
	if err != nil {
		return err
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)
	if listen {
		if err := a.listen(ctx, g); err != nil {
			return fmt.Errorf("failed to start listener: %w", err)
		}
	}
	if relay {
		if err := a.relay(ctx, g); err != nil {
			return fmt.Errorf("failed to start relayer: %w", err)
		}
	}
	g.Go(func() error {
		return a.serveMetrics(ctx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("relayer stopped with error: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}
