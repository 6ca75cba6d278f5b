package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ostanlabs/msrl/internal/engine"
)

func newReindexCmd() *cobra.Command {
	var (
		force  bool
		wait   bool
		scope  string
		prefix string
	)

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Build or refresh the vault's snapshot",
		Long: `Reindex scans the vault and builds a new snapshot. By default it
runs an incremental build (only changed/added/deleted files); pass
--full to force a full rebuild, or --prefix to scope either kind of
build to one subtree.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if force {
				scope = "full"
			}
			return runReindex(cmd.Context(), cmd, engine.ReindexParams{
				Wait:   wait,
				Force:  force,
				Scope:  scope,
				Prefix: prefix,
			})
		},
	}

	cmd.Flags().BoolVar(&force, "full", false, "Force a full rebuild instead of an incremental one")
	cmd.Flags().BoolVar(&wait, "wait", true, "Wait if a build is already in progress, instead of failing with INDEX_BUSY")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Scope the build to docUris under this prefix")

	return cmd
}

func runReindex(ctx context.Context, cmd *cobra.Command, params engine.ReindexParams) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	e, err := engine.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer func() { _ = e.Shutdown() }()

	result, err := e.Reindex(ctx, params)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(out, "snapshot %s: %d docs, %d nodes, %d leaves across %d shards\n",
		result.SnapshotID, result.Stats.Docs, result.Stats.Nodes, result.Stats.Leaves, result.Stats.Shards)
	return nil
}
