// Package cmd provides the msrlctl CLI commands, a thin operator wrapper
// around the Engine (C15) API for manual reindex/query/status during
// development. Per spec §8 ("host RPC/tool surface... wrap but do not
// alter the core"), this package holds no retrieval logic of its own.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ostanlabs/msrl/internal/config"
	"github.com/ostanlabs/msrl/pkg/version"
)

var (
	vaultRoot string
	jsonOut   bool
)

// NewRootCmd creates the root command for the msrlctl CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "msrlctl",
		Short: "Operator CLI for the Markdown hybrid retrieval engine",
		Long: `msrlctl drives a vault's msrl index from the command line:
build or refresh a snapshot, run a query, inspect status, or toggle the
filesystem watcher. It talks to the same Engine the MCP server embeds.`,
		Version:      version.Short(),
		SilenceUsage: true,
	}
	cmd.SetVersionTemplate(version.String() + "\n")

	cmd.PersistentFlags().StringVar(&vaultRoot, "vault", ".", "Path to the markdown vault root")
	cmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func loadConfig() (*config.Config, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if vaultRoot != "." {
		root = vaultRoot
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("loading config for %s: %w", root, err)
	}
	return cfg, nil
}
