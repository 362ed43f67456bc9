package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
)

// StatsInfo is everything the stats command shows.
type StatsInfo struct {
	DataDir     string `json:"data_dir"`
	BM25Backend string `json:"bm25_backend"`
	Memories    int    `json:"memories"`
	BM25Docs    int    `json:"bm25_docs"`
	Vectors     int    `json:"vectors"`
	DiskBytes   int64  `json:"disk_bytes"`

	EmbedModel string `json:"embed_model"`
	Dimensions int    `json:"dimensions"`

	TotalQueries  int64            `json:"total_queries"`
	AvgLatencyMs  float64          `json:"avg_latency_ms"`
	P99LatencyMs  float64          `json:"p99_latency_ms"`
	CacheHitRate  float64          `json:"cache_hit_rate"`
	QueriesByType map[string]int64 `json:"queries_by_type,omitempty"`
	Since         time.Time        `json:"since,omitzero"`

	LearningSamples int64         `json:"learning_samples"`
	Patterns        []PatternInfo `json:"patterns,omitempty"`
}

// PatternInfo is one learned query pattern.
type PatternInfo struct {
	Pattern          string  `json:"pattern"`
	State            string  `json:"state"`
	Samples          int     `json:"samples"`
	AvgEffectiveness float64 `json:"avg_effectiveness"`
	VectorWeight     float64 `json:"vector_weight"`
	Optimized        bool    `json:"optimized"`
}

// StatsRenderer displays store and learning statistics.
type StatsRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatsRenderer creates a stats renderer.
func NewStatsRenderer(out io.Writer, noColor bool) *StatsRenderer {
	return &StatsRenderer{out: out, styles: GetStyles(noColor)}
}

// Render displays info as aligned text.
func (r *StatsRenderer) Render(info StatsInfo) error {
	p := func(format string, args ...any) { _, _ = fmt.Fprintf(r.out, format, args...) }

	p("%s\n\n", r.styles.Header.Render("Memory Store: "+info.DataDir))

	p("  Memories:    %s\n", humanize.Comma(int64(info.Memories)))
	p("  BM25 docs:   %s (%s)\n", humanize.Comma(int64(info.BM25Docs)), info.BM25Backend)
	p("  Vectors:     %s\n", humanize.Comma(int64(info.Vectors)))
	p("  Disk:        %s\n", humanize.Bytes(uint64(max(info.DiskBytes, 0))))
	if info.Memories != info.BM25Docs || info.Memories != info.Vectors {
		p("  %s\n", r.styles.Warning.Render("indexes differ from the catalog; run 'agentmem check --repair'"))
	}
	p("\n")

	p("  Embedder:    %s (%d dims)\n\n", info.EmbedModel, info.Dimensions)

	p("  Queries:     %s", humanize.Comma(info.TotalQueries))
	if !info.Since.IsZero() {
		p(" since %s", humanize.Time(info.Since))
	}
	p("\n")
	if info.TotalQueries > 0 {
		// Latency is only known for searches run by this process.
		if info.AvgLatencyMs > 0 {
			p("    Latency:   avg %.1fms, p99 %.1fms\n", info.AvgLatencyMs, info.P99LatencyMs)
			p("    Cache:     %.0f%% hits\n", info.CacheHitRate*100)
		}
		types := make([]string, 0, len(info.QueriesByType))
		for t := range info.QueriesByType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			p("    %-18s %s\n", t+":", humanize.Comma(info.QueriesByType[t]))
		}
	}
	p("\n")

	p("  Learning:    %s samples\n", humanize.Comma(info.LearningSamples))
	for _, pat := range info.Patterns {
		if pat.Samples == 0 {
			continue
		}
		state := pat.State
		if pat.Optimized {
			state += ", optimized"
		}
		p("    %-14s %5d samples  eff %.2f  vector %.2f  %s\n",
			pat.Pattern, pat.Samples, pat.AvgEffectiveness, pat.VectorWeight, r.styles.Label.Render(state))
	}
	return nil
}

// RenderJSON outputs info as indented JSON.
func (r *StatsRenderer) RenderJSON(info StatsInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}
