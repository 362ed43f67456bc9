package index

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/agentmem/internal/config"
	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
	"github.com/Aman-CERP/agentmem/internal/learning"
	"github.com/Aman-CERP/agentmem/internal/store"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// testConfig returns defaults pointed at a fresh data directory.
func testConfig(t *testing.T, backend store.BM25Backend) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.BM25Backend = backend
	cfg.Storage.LockWait = 200 * time.Millisecond
	cfg.Metrics.FlushInterval = 0
	return cfg
}

func openService(t *testing.T, cfg *config.Config, opts Options) *Service {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	svc, err := Open(context.Background(), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func sampleMemories() []*store.Memory {
	return []*store.Memory{
		{ID: "m1", Content: "The deploy pipeline uses GitHub Actions and pushes images to the registry"},
		{ID: "m2", Content: "Alice prefers dark roast coffee in the morning", Importance: 0.8},
		{ID: "m3", Content: "Rotate the database credentials every ninety days", Metadata: map[string]any{"topic": "security"}},
	}
}

// =============================================================================
// Open / Add / Search
// =============================================================================

func TestService_AddAndSearch(t *testing.T) {
	for _, backend := range []store.BM25Backend{store.BM25BackendMemory, store.BM25BackendSQLite, store.BM25BackendBleve} {
		t.Run(string(backend), func(t *testing.T) {
			ctx := context.Background()
			svc := openService(t, testConfig(t, backend), Options{})

			require.NoError(t, svc.Add(ctx, sampleMemories()))

			n, err := svc.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			res, err := svc.Search(ctx, "database credentials", 5, nil)
			require.NoError(t, err)
			require.NotEmpty(t, res.Results)
			assert.Equal(t, "m3", res.Results[0].ID)
			assert.Equal(t, "security", res.Results[0].Metadata["topic"])

			stats, err := svc.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, stats.Memories)
			assert.Equal(t, 3, stats.BM25Docs)
			assert.Equal(t, 3, stats.Vectors)
			assert.Equal(t, backend, stats.BM25Backend)
		})
	}
}

func TestService_Search_FuzzyFallback(t *testing.T) {
	const misspelt = "Alcie prefres drak roats cofee"

	t.Run("enabled", func(t *testing.T) {
		ctx := context.Background()
		svc := openService(t, testConfig(t, store.BM25BackendMemory), Options{})
		require.NoError(t, svc.Add(ctx, sampleMemories()))

		// When: no query word is spelled as stored
		res, err := svc.Search(ctx, misspelt, 5, nil)
		require.NoError(t, err)

		// Then: the lexical path still returns the memory through edit distance
		assert.Positive(t, res.Stats.BM25ResultsCount)
		var found bool
		for _, r := range res.Results {
			found = found || r.ID == "m2"
		}
		assert.True(t, found)
	})

	t.Run("disabled", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t, store.BM25BackendMemory)
		cfg.Fuzzy.Enabled = false
		svc := openService(t, cfg, Options{})
		require.NoError(t, svc.Add(ctx, sampleMemories()))

		res, err := svc.Search(ctx, misspelt, 5, nil)
		require.NoError(t, err)
		assert.Zero(t, res.Stats.BM25ResultsCount)
	})
}

func TestService_Add_AssignsIDsAndTimestamps(t *testing.T) {
	ctx := context.Background()
	svc := openService(t, testConfig(t, store.BM25BackendMemory), Options{})

	m := &store.Memory{Content: "remember the milk"}
	require.NoError(t, svc.Add(ctx, []*store.Memory{m}))

	assert.Len(t, m.ID, 36, "uuid assigned")
	assert.Equal(t, fixedNow, m.CreatedAt)
	assert.Equal(t, fixedNow, m.UpdatedAt)

	got, err := svc.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "remember the milk", got.Content)
}

func TestService_Add_Validation(t *testing.T) {
	ctx := context.Background()
	svc := openService(t, testConfig(t, store.BM25BackendMemory), Options{})

	tests := []struct {
		name   string
		memory *store.Memory
	}{
		{"nil", nil},
		{"empty content", &store.Memory{Content: "   "}},
		{"importance above one", &store.Memory{Content: "x", Importance: 1.5}},
		{"negative importance", &store.Memory{Content: "x", Importance: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Add(ctx, []*store.Memory{tt.memory})
			require.Error(t, err)
			assert.Equal(t, agenterrors.ErrCodeInvalidInput, agenterrors.GetCode(err))
		})
	}

	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing was written")
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	svc := openService(t, testConfig(t, store.BM25BackendSQLite), Options{})
	require.NoError(t, svc.Add(ctx, sampleMemories()))

	require.NoError(t, svc.Delete(ctx, []string{"m3", "unknown"}))

	_, err := svc.Get(ctx, "m3")
	assert.ErrorIs(t, err, store.ErrNotFound)

	res, err := svc.Search(ctx, "database credentials", 5, nil)
	require.NoError(t, err)
	for _, r := range res.Results {
		assert.NotEqual(t, "m3", r.ID)
	}

	check, err := svc.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, check.Inconsistencies)
	assert.Equal(t, 2, check.Checked)
}

// =============================================================================
// Persistence
// =============================================================================

func TestService_ReopenKeepsIndexes(t *testing.T) {
	for _, backend := range []store.BM25Backend{store.BM25BackendMemory, store.BM25BackendSQLite} {
		t.Run(string(backend), func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig(t, backend)

			svc, err := Open(ctx, cfg, Options{})
			require.NoError(t, err)
			require.NoError(t, svc.Add(ctx, sampleMemories()))
			require.NoError(t, svc.Close())

			svc = openService(t, cfg, Options{})
			stats, err := svc.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, stats.Memories)
			assert.Equal(t, 3, stats.BM25Docs)
			assert.Equal(t, 3, stats.Vectors)

			res, err := svc.Search(ctx, "coffee", 5, nil)
			require.NoError(t, err)
			require.NotEmpty(t, res.Results)
			assert.Equal(t, "m2", res.Results[0].ID)
		})
	}
}

func TestService_Open_RebuildsMissingVectors(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, store.BM25BackendSQLite)

	svc, err := Open(ctx, cfg, Options{})
	require.NoError(t, err)
	require.NoError(t, svc.Add(ctx, sampleMemories()))
	vectorPath := svc.dir.VectorPath()
	require.NoError(t, svc.Close())

	require.NoError(t, os.Remove(vectorPath))

	svc = openService(t, cfg, Options{})
	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Vectors)

	check, err := svc.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, check.Inconsistencies)
}

func TestService_Close_SkipsUnchangedVectors(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, store.BM25BackendSQLite)

	svc, err := Open(ctx, cfg, Options{})
	require.NoError(t, err)
	require.NoError(t, svc.Add(ctx, sampleMemories()))
	vectorPath := svc.dir.VectorPath()
	require.NoError(t, svc.Close())
	before, err := os.Stat(vectorPath)
	require.NoError(t, err)

	// A writer that only searches leaves the vector file alone
	svc, err = Open(ctx, cfg, Options{})
	require.NoError(t, err)
	_, err = svc.Search(ctx, "coffee", 5, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	after, err := os.Stat(vectorPath)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestService_ReadOnly(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, store.BM25BackendSQLite)

	writer, err := Open(ctx, cfg, Options{})
	require.NoError(t, err)
	require.NoError(t, writer.Add(ctx, sampleMemories()))
	require.NoError(t, writer.Close())

	reader := openService(t, cfg, Options{ReadOnly: true})

	res, err := reader.Search(ctx, "coffee", 5, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Results)

	err = reader.Add(ctx, []*store.Memory{{Content: "new"}})
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, reader.Delete(ctx, []string{"m1"}), ErrReadOnly)
	_, err = reader.Feedback("coffee", nil, 0.9, "")
	assert.ErrorIs(t, err, ErrReadOnly)

	// A second reader shares the lock.
	other, err := Open(ctx, cfg, Options{ReadOnly: true})
	require.NoError(t, err)
	require.NoError(t, other.Close())
}

func TestService_WriterLockExcludesSecondWriter(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, store.BM25BackendMemory)
	openService(t, cfg, Options{})

	_, err := Open(ctx, cfg, Options{})
	require.Error(t, err)
	assert.Equal(t, agenterrors.ErrCodeDataDirLocked, agenterrors.GetCode(err))
}

func TestService_CloseIsIdempotent(t *testing.T) {
	svc, err := Open(context.Background(), testConfig(t, store.BM25BackendMemory), Options{})
	require.NoError(t, err)
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
}

// =============================================================================
// Learning and metrics
// =============================================================================

func TestService_Feedback(t *testing.T) {
	svc := openService(t, testConfig(t, store.BM25BackendMemory), Options{})

	pattern, err := svc.Feedback("how do I rotate credentials?", nil, 0.9, "good")
	require.NoError(t, err)
	assert.Equal(t, learning.PatternQuestion, pattern)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalSamples)

	_, err = svc.Feedback("", nil, 0.5, "")
	assert.Error(t, err)
	_, err = svc.Feedback("coffee", nil, 1.2, "")
	assert.Error(t, err)
}

func TestService_Feedback_RouterAdvisor(t *testing.T) {
	// Given: the bandit router supplies weights once a pattern has two samples
	ctx := context.Background()
	cfg := testConfig(t, store.BM25BackendMemory)
	cfg.Learning.Advisor = learning.AdvisorRouter
	cfg.Learning.Router.MinSamples = 2
	cfg.Learning.Router.Seed = 7
	svc := openService(t, cfg, Options{})
	require.NoError(t, svc.Add(ctx, sampleMemories()))

	const query = "how do I rotate credentials?"
	for i := 0; i < 2; i++ {
		_, err := svc.Feedback(query, nil, 0.9, "")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, routerTries(svc, learning.PatternQuestion))
	assert.Zero(t, svc.router.decisions.Len())

	// When: a search runs and its feedback follows
	_, err := svc.Search(ctx, query, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.router.decisions.Len(), "search leaves a pending decision")

	_, err = svc.Feedback(query, nil, 1, "")
	require.NoError(t, err)

	// Then: the decision is credited and cleared
	assert.Equal(t, 3, routerTries(svc, learning.PatternQuestion))
	assert.Zero(t, svc.router.decisions.Len())
}

func routerTries(svc *Service, p learning.QueryPattern) int {
	n := 0
	for _, arm := range svc.router.Arms(p) {
		n += arm.Tries
	}
	return n
}

func TestService_FeedbackSurvivesReopen(t *testing.T) {
	cfg := testConfig(t, store.BM25BackendMemory)

	svc, err := Open(context.Background(), cfg, Options{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := svc.Feedback("alice coffee", nil, 0.8, "")
		require.NoError(t, err)
	}
	require.NoError(t, svc.Close())

	svc = openService(t, cfg, Options{})
	report := svc.Optimize()
	assert.Equal(t, int64(3), report.TotalSamples)
	assert.NotEmpty(t, svc.LearningStats())
	assert.Equal(t, 3, routerTries(svc, learning.PatternShort))
}

func TestService_Metrics(t *testing.T) {
	ctx := context.Background()
	svc := openService(t, testConfig(t, store.BM25BackendMemory), Options{})
	require.NoError(t, svc.Add(ctx, sampleMemories()))

	_, err := svc.Search(ctx, "coffee", 5, nil)
	require.NoError(t, err)
	_, err = svc.Search(ctx, "how do I deploy?", 5, nil)
	require.NoError(t, err)

	snap := svc.Metrics()
	assert.Equal(t, int64(2), snap.TotalQueries)

	now := time.Now()
	history, err := svc.MetricsHistory(ctx, now.AddDate(0, 0, -1), now.AddDate(0, 0, 1))
	require.NoError(t, err)
	var total int64
	for _, n := range history.QueryTypes {
		total += n
	}
	assert.Equal(t, int64(2), total)
}

func TestService_Metrics_CountsCacheHits(t *testing.T) {
	// Given: a service with the result cache on
	ctx := context.Background()
	cfg := testConfig(t, store.BM25BackendMemory)
	cfg.Search.EnableCache = true
	svc := openService(t, cfg, Options{})
	require.NoError(t, svc.Add(ctx, sampleMemories()))

	// When: the same query repeats until the cache admits it
	require.Eventually(t, func() bool {
		res, err := svc.Search(ctx, "coffee", 5, nil)
		require.NoError(t, err)
		return res.Stats.CacheHit
	}, 2*time.Second, 10*time.Millisecond)

	// Then: the snapshot counts the hit alongside the misses
	snap := svc.Metrics()
	assert.Equal(t, int64(1), snap.CacheHits)
	assert.Greater(t, snap.TotalQueries, snap.CacheHits)
}
