package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/agentmem/internal/search"
)

func ptr(f float64) *float64 { return &f }

func TestFormatSearchResults(t *testing.T) {
	result := &search.EnhancedSearchResult{
		QueryType: search.QueryTypeNaturalLanguage,
		Strategy:  search.SearchStrategy{UseVector: true, UseBM25: true, VectorWeight: 0.5, BM25Weight: 0.5, Threshold: 0.3},
		Weights:   search.SearchWeights{VectorWeight: 0.5, FulltextWeight: 0.5, Confidence: 0.2},
		Results: []*search.SearchResult{
			{ID: "m1", Content: "first\nline   here", Score: 0.9, VectorScore: ptr(0.8), FulltextScore: ptr(1.0),
				Metadata: map[string]any{"b": 2, "a": "x"}},
			{ID: "m2", Content: "second", Score: 0.4, FulltextScore: ptr(0.4)},
		},
	}
	result.Stats.DegradedSources = []string{"vector"}

	t.Run("results", func(t *testing.T) {
		var buf bytes.Buffer
		formatSearchResults(&buf, "first line", result, false)
		out := buf.String()

		assert.Contains(t, out, `Found 2 memories for "first line" (natural_language`)
		assert.Contains(t, out, "1. m1  [score 0.900, vec 0.800, bm25 1.000]")
		assert.Contains(t, out, "   first line here\n")
		assert.Contains(t, out, "   a=x b=2\n")
		assert.Contains(t, out, "2. m2  [score 0.400, bm25 0.400]")
		assert.NotContains(t, out, "Query type:")
	})

	t.Run("explain", func(t *testing.T) {
		var buf bytes.Buffer
		formatSearchResults(&buf, "first line", result, true)
		out := buf.String()

		assert.Contains(t, out, "Query type:  natural_language")
		assert.Contains(t, out, "Sources:     vector=true bm25=true exact=false")
		assert.Contains(t, out, "Degraded:    vector")
	})

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		formatSearchResults(&buf, "nothing", &search.EnhancedSearchResult{}, false)
		assert.Equal(t, "No memories found for \"nothing\"\n", buf.String())
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 5, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"long", "abcdefgh", 6, "abc..."},
		{"runes", strings.Repeat("é", 10), 5, "éé..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.in, tt.n))
		})
	}
}
