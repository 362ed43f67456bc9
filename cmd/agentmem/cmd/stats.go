package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/agentmem/internal/index"
	"github.com/Aman-CERP/agentmem/internal/learning"
	"github.com/Aman-CERP/agentmem/internal/telemetry"
	"github.com/Aman-CERP/agentmem/internal/ui"
)

func newStatsCmd() *cobra.Command {
	var (
		jsonOutput bool
		days       int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store, query and learning statistics",
		Long: `Show the size of the memory store and its indexes, query counts by
type over the last --days days, and the learning state of each query
pattern.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd, jsonOutput, days)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 30, "Days of query history to include")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, jsonOutput bool, days int) error {
	svc, _, err := openService(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	st, err := svc.Stats(ctx)
	if err != nil {
		return err
	}

	to := time.Now()
	from := to.AddDate(0, 0, -max(days-1, 0))
	history, err := svc.MetricsHistory(ctx, from, to)
	if err != nil {
		return err
	}

	info := buildStatsInfo(st, svc.Metrics(), history, svc.LearningStats())
	info.Since = from

	r := ui.NewStatsRenderer(cmd.OutOrStdout(), noColor || ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()))
	if jsonOutput {
		return r.RenderJSON(info)
	}
	return r.Render(info)
}

// buildStatsInfo merges store stats, this process's metrics, persisted
// daily counts and learning state into one view.
func buildStatsInfo(st index.IndexStats, snap telemetry.Snapshot, history telemetry.DailyCounts, patterns []learning.PatternStats) ui.StatsInfo {
	info := ui.StatsInfo{
		DataDir:         st.DataDir,
		BM25Backend:     string(st.BM25Backend),
		Memories:        st.Memories,
		BM25Docs:        st.BM25Docs,
		Vectors:         st.Vectors,
		DiskBytes:       st.DiskBytes,
		EmbedModel:      st.EmbedModel,
		Dimensions:      st.Dimensions,
		AvgLatencyMs:    snap.AvgLatencyMs,
		P99LatencyMs:    snap.P99LatencyMs,
		CacheHitRate:    snap.CacheHitRate(),
		LearningSamples: st.TotalSamples,
		QueriesByType:   make(map[string]int64),
	}

	for qt, n := range history.QueryTypes {
		info.QueriesByType[string(qt)] += n
		info.TotalQueries += n
	}
	if len(history.QueryTypes) == 0 {
		for qt, n := range snap.QueriesByType {
			info.QueriesByType[string(qt)] += n
		}
		info.TotalQueries = snap.TotalQueries
	}

	for _, p := range patterns {
		info.Patterns = append(info.Patterns, ui.PatternInfo{
			Pattern:          string(p.Pattern),
			State:            string(p.State),
			Samples:          p.Samples,
			AvgEffectiveness: p.AvgEffectiveness,
			VectorWeight:     p.Weights.VectorWeight,
			Optimized:        p.Optimized,
		})
	}
	return info
}
