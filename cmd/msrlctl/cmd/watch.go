package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ostanlabs/msrl/internal/engine"
)

func newWatchCmd() *cobra.Command {
	var debounceMs int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Start the engine and watch the vault for changes until interrupted",
		Long: `Watch keeps an engine running with the filesystem watcher enabled,
triggering an incremental reindex on every debounced batch of file
changes. Stop it with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd, debounceMs)
		},
	}

	cmd.Flags().IntVar(&debounceMs, "debounce-ms", 0, "Override the configured debounce window (0 = use config)")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, debounceMs int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	e, err := engine.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer func() { _ = e.Shutdown() }()

	if err := e.SetWatch(true, debounceMs); err != nil {
		return fmt.Errorf("enabling watcher: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "watching for changes, press Ctrl-C to stop")

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	fmt.Fprintln(cmd.OutOrStdout(), "stopping")
	return nil
}
