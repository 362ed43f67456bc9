package ui

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStats() StatsInfo {
	return StatsInfo{
		DataDir:         "/tmp/mem",
		BM25Backend:     "sqlite",
		Memories:        12345,
		BM25Docs:        12345,
		Vectors:         12345,
		DiskBytes:       3 * 1000 * 1000,
		EmbedModel:      "static",
		Dimensions:      256,
		TotalQueries:    2500,
		AvgLatencyMs:    4.3,
		P99LatencyMs:    18,
		CacheHitRate:    0.4,
		QueriesByType:   map[string]int64{"natural_language": 2000, "exact_id": 500},
		LearningSamples: 140,
		Patterns: []PatternInfo{
			{Pattern: "question", State: "active", Samples: 140, AvgEffectiveness: 0.71, VectorWeight: 0.62, Optimized: true},
			{Pattern: "code", State: "learning", Samples: 0},
		},
	}
}

func TestStatsRenderer_Render(t *testing.T) {
	// Given: a stats renderer without color
	buf := &bytes.Buffer{}
	r := NewStatsRenderer(buf, true)

	// When: rendering a populated store
	require.NoError(t, r.Render(sampleStats()))

	// Then: counts are humanized and patterns with samples are listed
	out := buf.String()
	assert.Contains(t, out, "Memory Store: /tmp/mem")
	assert.Contains(t, out, "12,345")
	assert.Contains(t, out, "(sqlite)")
	assert.Contains(t, out, "3.0 MB")
	assert.Contains(t, out, "static (256 dims)")
	assert.Contains(t, out, "avg 4.3ms, p99 18.0ms")
	assert.Contains(t, out, "40% hits")
	assert.Contains(t, out, "active, optimized")
	assert.NotContains(t, out, "code")
	assert.NotContains(t, out, "check --repair")

	// Query types are sorted
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("exact_id")), bytes.Index(buf.Bytes(), []byte("natural_language")))
}

func TestStatsRenderer_Render_Drift(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatsRenderer(buf, true)
	info := sampleStats()
	info.Vectors = 12000

	require.NoError(t, r.Render(info))

	assert.Contains(t, buf.String(), "check --repair")
}

func TestStatsRenderer_Render_Empty(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatsRenderer(buf, true)

	require.NoError(t, r.Render(StatsInfo{DataDir: "/tmp/empty", Since: time.Now().Add(-2 * time.Hour)}))

	out := buf.String()
	assert.Contains(t, out, "Queries:     0 since 2 hours ago")
	assert.NotContains(t, out, "Latency")
}

func TestStatsRenderer_RenderJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatsRenderer(buf, false)

	require.NoError(t, r.RenderJSON(sampleStats()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "/tmp/mem", got["data_dir"])
	assert.EqualValues(t, 12345, got["memories"])
	assert.NotContains(t, got, "since")
	assert.Len(t, got["patterns"], 2)
}
