package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ostanlabs/msrl/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show query pattern telemetry",
		Long: `Display local query telemetry: top query terms, recent
zero-result queries, and latency distribution. Purely observational;
it is never consulted by retrieval itself.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd)
		},
	}
	return cmd
}

// statsOutput is the JSON output format for the stats command.
type statsOutput struct {
	TopTerms            []telemetry.TermCount              `json:"top_terms"`
	ZeroResultQueries   []string                           `json:"zero_result_queries"`
	LatencyDistribution map[telemetry.LatencyBucket]int64 `json:"latency_distribution"`
}

func runStats(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := telemetry.OpenSQLiteStore(filepath.Join(cfg.SnapshotDir, "telemetry.sqlite"))
	if err != nil {
		return fmt.Errorf("opening telemetry store: %w", err)
	}
	defer func() { _ = store.Close() }()

	topTerms, err := store.GetTopTerms(10)
	if err != nil {
		return fmt.Errorf("get top terms: %w", err)
	}
	zeroResults, err := store.GetZeroResultQueries(10)
	if err != nil {
		return fmt.Errorf("get zero-result queries: %w", err)
	}
	latency, err := store.GetLatencyCounts("0000-00-00", "9999-99-99")
	if err != nil {
		return fmt.Errorf("get latency counts: %w", err)
	}

	out := statsOutput{TopTerms: topTerms, ZeroResultQueries: zeroResults, LatencyDistribution: latency}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	return printStatsFormatted(cmd, out)
}

func printStatsFormatted(cmd *cobra.Command, out statsOutput) error {
	w := cmd.OutOrStdout()

	if len(out.TopTerms) > 0 {
		fmt.Fprintln(w, "Top Query Terms:")
		for i, tc := range out.TopTerms {
			fmt.Fprintf(w, "  %d. %s (%d)\n", i+1, tc.Term, tc.Count)
		}
	} else {
		fmt.Fprintln(w, "Top Query Terms: (none recorded yet)")
	}
	fmt.Fprintln(w)

	if len(out.ZeroResultQueries) > 0 {
		fmt.Fprintln(w, "Recent Zero-Result Queries:")
		for _, q := range out.ZeroResultQueries {
			fmt.Fprintf(w, "  - %q\n", q)
		}
	} else {
		fmt.Fprintln(w, "Recent Zero-Result Queries: (none)")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Latency Distribution:")
	buckets := []telemetry.LatencyBucket{
		telemetry.LatencyP10, telemetry.LatencyP50, telemetry.LatencyP100,
		telemetry.LatencyP500, telemetry.LatencyP1000,
	}
	labels := map[telemetry.LatencyBucket]string{
		telemetry.LatencyP10:   "<10ms",
		telemetry.LatencyP50:   "10-50ms",
		telemetry.LatencyP100:  "50-100ms",
		telemetry.LatencyP500:  "100-500ms",
		telemetry.LatencyP1000: ">500ms",
	}
	for _, b := range buckets {
		if count, ok := out.LatencyDistribution[b]; ok {
			fmt.Fprintf(w, "  %s: %d\n", labels[b], count)
		}
	}

	return nil
}
