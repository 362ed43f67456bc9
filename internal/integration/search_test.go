// Package integration exercises the full stack: config, storage, search,
// learning and telemetry wired together by index.Service.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/agentmem/internal/config"
	"github.com/Aman-CERP/agentmem/internal/index"
	"github.com/Aman-CERP/agentmem/internal/learning"
	"github.com/Aman-CERP/agentmem/internal/search"
	"github.com/Aman-CERP/agentmem/internal/store"
)

func newTestConfig(t *testing.T, backend store.BM25Backend) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.BM25Backend = backend
	cfg.Storage.LockWait = 200 * time.Millisecond
	cfg.Metrics.FlushInterval = 0
	return cfg
}

func openService(t *testing.T, cfg *config.Config) *index.Service {
	t.Helper()
	svc, err := index.Open(context.Background(), cfg, index.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func ptr[T any](v T) *T { return &v }

func resultIDs(results []*search.SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

var backends = []store.BM25Backend{store.BM25BackendMemory, store.BM25BackendSQLite, store.BM25BackendBleve}

// =============================================================================
// End-to-end scenarios
// =============================================================================

func TestScenario_BM25OnlyRecipeSearch(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			ctx := context.Background()
			svc := openService(t, newTestConfig(t, backend))
			require.NoError(t, svc.Add(ctx, []*store.Memory{
				{ID: "doc1", Content: "apple pie recipe"},
				{ID: "doc2", Content: "banana bread recipe"},
				{ID: "doc3", Content: "car engine repair"},
			}))

			res, err := svc.Search(ctx, "recipe", 10, &search.SearchQuery{VectorWeight: ptr(0.0)})
			require.NoError(t, err)

			assert.False(t, res.Strategy.UseVector)
			assert.True(t, res.Strategy.UseBM25)
			assert.ElementsMatch(t, []string{"doc1", "doc2"}, resultIDs(res.Results))
			require.Len(t, res.Results, 2)
			assert.GreaterOrEqual(t, res.Results[0].Score, res.Results[1].Score)
			for _, r := range res.Results {
				require.NotNil(t, r.FulltextScore)
				assert.Nil(t, r.VectorScore)
			}
		})
	}
}

func TestScenario_ExactIDLookup(t *testing.T) {
	ctx := context.Background()
	svc := openService(t, newTestConfig(t, store.BM25BackendSQLite))
	require.NoError(t, svc.Add(ctx, []*store.Memory{
		{ID: "P000001", Content: "Customer record for the Acme account"},
		{ID: "P000002", Content: "Customer record for the Globex account"},
		{ID: "note-1", Content: "P000001 was escalated twice last quarter"},
	}))

	res, err := svc.Search(ctx, "P000001", 10, nil)
	require.NoError(t, err)

	assert.Equal(t, search.QueryTypeExactID, res.QueryType)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "P000001", res.Results[0].ID)
	assert.Equal(t, 1.0, res.Results[0].Score)
	assert.Equal(t, "Customer record for the Acme account", res.Results[0].Content)
}

func TestScenario_ThresholdGrowsWithQueryLength(t *testing.T) {
	ctx := context.Background()
	svc := openService(t, newTestConfig(t, store.BM25BackendMemory))
	require.NoError(t, svc.Add(ctx, []*store.Memory{
		{Content: "Alice mentioned she is training for a marathon in the spring"},
		{Content: "The team agreed to move standups to the afternoon"},
		{Content: "Bob is allergic to peanuts and prefers vegetarian restaurants"},
	}))

	short, err := svc.Search(ctx, "marathon training", 5, nil)
	require.NoError(t, err)
	long, err := svc.Search(ctx,
		"what did Alice say about how she is preparing for the long race happening next spring?", 5, nil)
	require.NoError(t, err)

	assert.Equal(t, search.QueryTypeShortKeyword, short.QueryType)
	assert.NotEqual(t, search.QueryTypeShortKeyword, long.QueryType)
	assert.Less(t, short.Stats.ThresholdUsed, long.Stats.ThresholdUsed)
}

func TestScenario_FeedbackShiftsQuestionWeights(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t, store.BM25BackendMemory)
	svc := openService(t, cfg)
	require.NoError(t, svc.Add(ctx, []*store.Memory{
		{Content: "Deploys run from the main branch through the release pipeline"},
	}))

	const query = "how do we deploy the service?"
	vectorHeavy := &search.SearchQuery{VectorWeight: ptr(0.8), FulltextWeight: ptr(0.2)}
	balanced := &search.SearchQuery{VectorWeight: ptr(0.5), FulltextWeight: ptr(0.5)}

	for i := 0; i < 100; i++ {
		overrides, eff := balanced, 0.3
		if i%2 == 0 {
			overrides, eff = vectorHeavy, 0.9
		}
		pattern, err := svc.Feedback(query, overrides, eff, "")
		require.NoError(t, err)
		require.Equal(t, learning.PatternQuestion, pattern)
	}

	report := svc.Optimize()
	assert.Equal(t, int64(100), report.TotalSamples)

	var imp *learning.PatternImprovement
	for i := range report.Improvements {
		if report.Improvements[i].Pattern == learning.PatternQuestion {
			imp = &report.Improvements[i]
		}
	}
	require.NotNil(t, imp, "question pattern was optimized")
	assert.Greater(t, imp.NewWeights.VectorWeight, imp.OldWeights.VectorWeight)
	assert.LessOrEqual(t, imp.NewWeights.VectorWeight, 0.8)

	// Searches now lean on the learned split.
	res, err := svc.Search(ctx, query, 5, nil)
	require.NoError(t, err)
	assert.Greater(t, res.Weights.VectorWeight, 0.5)
}

// =============================================================================
// Persistence across restarts
// =============================================================================

func TestLearningSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t, store.BM25BackendSQLite)

	svc, err := index.Open(ctx, cfg, index.Options{})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := svc.Feedback("where is the runbook?", nil, 0.7, "")
		require.NoError(t, err)
	}
	require.NoError(t, svc.Close())

	svc = openService(t, cfg)
	var found bool
	for _, st := range svc.LearningStats() {
		if st.Pattern == learning.PatternQuestion {
			found = true
			assert.Equal(t, 20, st.Samples)
		}
	}
	assert.True(t, found)
}
