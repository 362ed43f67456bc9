package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/agentmem/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit      int
	jsonOutput bool
	explain    bool
	overrides  overrideFlags
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memories",
		Long: `Search memories with adaptive hybrid search.

The query is classified (exact ID, short keyword, natural language,
semantic, technical, conversational) and the classification picks which
retrieval paths run, how keyword and vector results are weighted, and the
vector similarity threshold. Learned weights refine that choice once enough
feedback has been recorded.

Flags override the automatic choice for one query. A weight of 0 disables
that source.`,
		Example: `  agentmem search "what did we decide about the release date?"
  agentmem search P000123
  agentmem search "deploy schedule" --fulltext-weight 1 --vector-weight 0
  agentmem search "incidents" --filter type=postmortem --limit 5
  agentmem search "big tickets" --where '{"conditions":[{"field":"priority","operator":"gte","value":3}]}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show classification, weights and timings")
	opts.overrides.register(cmd)

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	overrides, err := opts.overrides.build(cmd)
	if err != nil {
		return err
	}
	if opts.limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", opts.limit)
	}

	// Writable so the search is counted in the persisted metrics.
	svc, _, err := openService(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	result, err := svc.Search(ctx, query, opts.limit, overrides)
	if err != nil {
		return err
	}
	slog.Debug("search_complete",
		slog.String("query_type", string(result.QueryType)),
		slog.Int("results", len(result.Results)),
		slog.Float64("total_ms", result.Stats.TotalTimeMs))

	if opts.jsonOutput {
		return encodeJSON(cmd, result)
	}
	formatSearchResults(cmd.OutOrStdout(), query, result, opts.explain)
	return nil
}

// formatSearchResults prints results as numbered text blocks.
func formatSearchResults(w io.Writer, query string, result *search.EnhancedSearchResult, explain bool) {
	if explain {
		formatExplain(w, result)
	}

	if len(result.Results) == 0 {
		_, _ = fmt.Fprintf(w, "No memories found for %q\n", query)
		return
	}

	_, _ = fmt.Fprintf(w, "Found %d memories for %q (%s, %.1fms)\n\n",
		len(result.Results), query, result.QueryType, result.Stats.TotalTimeMs)
	for i, r := range result.Results {
		_, _ = fmt.Fprintf(w, "%d. %s  [score %.3f%s]\n", i+1, r.ID, r.Score, sourceScores(r))
		_, _ = fmt.Fprintf(w, "   %s\n", truncate(oneLine(r.Content), 200))
		if meta := formatMetadata(r.Metadata); meta != "" {
			_, _ = fmt.Fprintf(w, "   %s\n", meta)
		}
		_, _ = fmt.Fprintln(w)
	}
}

func formatExplain(w io.Writer, result *search.EnhancedSearchResult) {
	s := result.Strategy
	_, _ = fmt.Fprintf(w, "Query type:  %s\n", result.QueryType)
	_, _ = fmt.Fprintf(w, "Sources:     vector=%t bm25=%t exact=%t\n", s.UseVector, s.UseBM25, s.UseExactMatch)
	_, _ = fmt.Fprintf(w, "Weights:     vector %.2f, fulltext %.2f (confidence %.2f)\n",
		result.Weights.VectorWeight, result.Weights.FulltextWeight, result.Weights.Confidence)
	_, _ = fmt.Fprintf(w, "Threshold:   %.2f\n", result.Stats.ThresholdUsed)
	_, _ = fmt.Fprintf(w, "Candidates:  vector %d, bm25 %d, exact %d\n",
		result.Stats.VectorResultsCount, result.Stats.BM25ResultsCount, result.Stats.ExactResultsCount)
	_, _ = fmt.Fprintf(w, "Timings:     classify %.1fms, vector %.1fms, bm25 %.1fms, fusion %.1fms\n",
		result.Stats.ClassificationTimeMs, result.Stats.VectorSearchTimeMs,
		result.Stats.BM25SearchTimeMs, result.Stats.FusionTimeMs)
	if result.Stats.CacheHit {
		_, _ = fmt.Fprintln(w, "Cache:       hit")
	}
	if len(result.Stats.DegradedSources) > 0 {
		_, _ = fmt.Fprintf(w, "Degraded:    %s\n", strings.Join(result.Stats.DegradedSources, ", "))
	}
	_, _ = fmt.Fprintln(w)
}

func sourceScores(r *search.SearchResult) string {
	var parts []string
	if r.VectorScore != nil {
		parts = append(parts, fmt.Sprintf("vec %.3f", *r.VectorScore))
	}
	if r.FulltextScore != nil {
		parts = append(parts, fmt.Sprintf("bm25 %.3f", *r.FulltextScore))
	}
	if len(parts) == 0 {
		return ""
	}
	return ", " + strings.Join(parts, ", ")
}

// formatMetadata renders metadata as sorted key=value pairs.
func formatMetadata(metadata map[string]any) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, metadata[k])
	}
	return strings.Join(parts, " ")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
