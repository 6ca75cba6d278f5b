package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ostanlabs/msrl/internal/engine"
	"github.com/ostanlabs/msrl/internal/search"
)

type queryOptions struct {
	limit           int
	maxExcerptChars int
	docURIPrefix    string
	headingContains string
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run a hybrid search query against the vault's current snapshot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 8, "Maximum number of results")
	cmd.Flags().IntVar(&opts.maxExcerptChars, "max-excerpt-chars", 0, "Cap excerpt length (0 = engine default)")
	cmd.Flags().StringVar(&opts.docURIPrefix, "doc-prefix", "", "Filter results to docUri with this prefix")
	cmd.Flags().StringVar(&opts.headingContains, "heading-contains", "", "Filter results to headingPath containing this substring")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, query string, opts queryOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	e, err := engine.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer func() { _ = e.Shutdown() }()

	resp, err := e.Query(ctx, search.QueryParams{
		Query:           query,
		Limit:           opts.limit,
		MaxExcerptChars: opts.maxExcerptChars,
		Filters: search.Filters{
			DocURIPrefix:        opts.docURIPrefix,
			HeadingPathContains: opts.headingContains,
		},
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Fprintf(out, "%d results in %dms\n\n", len(resp.Results), resp.Meta.TookMs)
	for i, r := range resp.Results {
		fmt.Fprintf(out, "%d. %s  %s  (score=%.4f vector=%.4f bm25=%.4f)\n",
			i+1, r.DocURI, r.HeadingPath, r.Score, r.VectorScore, r.BM25Score)
		fmt.Fprintln(out, indentLines(r.Excerpt))
		if r.ExcerptTruncated {
			fmt.Fprintln(out, "   ... (truncated)")
		}
		fmt.Fprintln(out)
	}
	return nil
}

func indentLines(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, l := range lines {
		lines[i] = "   " + l
	}
	return strings.Join(lines, "\n")
}
