package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ostanlabs/msrl/internal/engine"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current snapshot's health and stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd)
		},
	}
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	e, err := engine.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer func() { _ = e.Shutdown() }()

	status := e.GetStatus()

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "state:       %s\n", status.State)
	if status.Error != "" {
		fmt.Fprintf(out, "error:       %s\n", status.Error)
	}
	fmt.Fprintf(out, "snapshot:    %s\n", status.SnapshotID)
	fmt.Fprintf(out, "indexed at:  %s\n", status.SnapshotTimestamp)
	fmt.Fprintf(out, "docs:        %d\n", status.Stats.Docs)
	fmt.Fprintf(out, "nodes:       %d\n", status.Stats.Nodes)
	fmt.Fprintf(out, "leaves:      %d\n", status.Stats.Leaves)
	fmt.Fprintf(out, "shards:      %d\n", status.Stats.Shards)
	if status.FilesFailed > 0 {
		fmt.Fprintf(out, "files failed: %d\n", status.FilesFailed)
	}
	fmt.Fprintf(out, "watcher:     enabled=%v debounceMs=%d\n", status.WatcherEnabled, status.WatcherDebounceMs)
	if status.LastError != "" {
		fmt.Fprintf(out, "last error:  %s\n", status.LastError)
	}
	return nil
}
