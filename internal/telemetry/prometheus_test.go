package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/agentmem/internal/search"
)

func TestPrometheusExporter_ObserveSearch(t *testing.T) {
	p := NewPrometheusExporter(nil)

	p.ObserveSearch(search.QueryTypeSemantic, search.SearchStats{
		TotalTimeMs:     12,
		DegradedSources: []string{search.SourceBM25, search.SourceVector},
	})
	p.ObserveSearch(search.QueryTypeSemantic, search.SearchStats{TotalTimeMs: 3, CacheHit: true})

	assert.Equal(t, 2.0, testutil.ToFloat64(p.queries.WithLabelValues("semantic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.failures.WithLabelValues(search.SourceBM25)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.failures.WithLabelValues(search.SourceVector)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.cacheHits))
	assert.Equal(t, 1, testutil.CollectAndCount(p.duration))
}

func TestPrometheusExporter_ObserveFeedback(t *testing.T) {
	p := NewPrometheusExporter(nil)
	p.ObserveFeedback()
	p.ObserveFeedback()
	assert.Equal(t, 2.0, testutil.ToFloat64(p.learningSample))
}

func TestPrometheusExporter_Handler(t *testing.T) {
	p := NewPrometheusExporter([]float64{0.01, 0.1})
	p.ObserveSearch(search.QueryTypeTechnical, search.SearchStats{TotalTimeMs: 4})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	p.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `agentmem_queries_total{query_type="technical"} 1`)
	assert.Contains(t, string(body), "agentmem_search_duration_seconds_bucket")
	assert.Contains(t, string(body), "agentmem_learning_samples_total 0")
	assert.Contains(t, string(body), "go_goroutines")
}
