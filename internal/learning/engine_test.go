package learning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
	"github.com/Aman-CERP/agentmem/internal/search"
)

var (
	shortFeatures     = search.QueryFeatures{WordCount: 2}
	technicalFeatures = search.QueryFeatures{HasTechnicalTerms: true, WordCount: 5}
	questionFeatures  = search.QueryFeatures{IsQuestion: true, WordCount: 7, SemanticComplexity: 0.5}
)

func weights(vector float64) search.SearchWeights {
	return search.SearchWeights{VectorWeight: vector, FulltextWeight: 1 - vector, Confidence: 0.7}
}

func newTestEngine(t *testing.T, mutate func(*Config), opts ...Option) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	return e
}

func findImprovement(report OptimizationReport, p QueryPattern) (PatternImprovement, bool) {
	for _, imp := range report.Improvements {
		if imp.Pattern == p {
			return imp, true
		}
	}
	return PatternImprovement{}, false
}

func statsFor(e *Engine, p QueryPattern) PatternStats {
	for _, st := range e.Stats() {
		if st.Pattern == p {
			return st
		}
	}
	return PatternStats{}
}

// =============================================================================
// Configuration
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"min samples", func(c *Config) { c.MinSamplesForLearning = 0 }},
		{"negative learning rate", func(c *Config) { c.LearningRate = -0.1 }},
		{"smoothing above one", func(c *Config) { c.SmoothingFactor = 1.5 }},
		{"feedback threshold", func(c *Config) { c.FeedbackThreshold = -1 }},
		{"history size", func(c *Config) { c.MaxHistorySize = 0 }},
		{"bandwidth", func(c *Config) { c.KernelBandwidth = 0 }},
		{"unknown pattern", func(c *Config) { c.Adjacency = Adjacency{"bogus": {PatternShort: 0.1}} }},
		{"unknown related pattern", func(c *Config) { c.Adjacency = Adjacency{PatternShort: {"bogus": 0.1}} }},
		{"blend factor", func(c *Config) { c.Adjacency = Adjacency{PatternShort: {PatternLong: 2}} }},
		{"advisor", func(c *Config) { c.Advisor = "oracle" }},
		{"router exploration", func(c *Config) { c.Router.ExplorationRate = 1.5 }},
		{"router decision cache", func(c *Config) { c.Router.DecisionCacheSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			_, err := New(cfg)
			require.Error(t, err)
			assert.Equal(t, agenterrors.ErrCodeConfigInvalid, agenterrors.GetCode(err))
		})
	}
}

func TestEngine_ConfigIsCopied(t *testing.T) {
	cfg := DefaultConfig()
	e, err := New(cfg)
	require.NoError(t, err)

	cfg.Adjacency[PatternTechnical][PatternShort] = 0.5
	assert.Equal(t, 0.2, e.Config().Adjacency[PatternTechnical][PatternShort])
}

// =============================================================================
// Recording and recommendations
// =============================================================================

func TestEngine_ColdToWarm(t *testing.T) {
	e := newTestEngine(t, nil)

	for i := 0; i < 9; i++ {
		e.RecordFeedback(shortFeatures, weights(0.3), 0.8, "")
	}
	_, ok := e.RecommendedWeights(shortFeatures)
	assert.False(t, ok, "9 samples is still cold")
	assert.Equal(t, StateCold, statsFor(e, PatternShort).State)

	e.RecordFeedback(shortFeatures, weights(0.3), 0.8, "")
	w, ok := e.RecommendedWeights(shortFeatures)
	require.True(t, ok)
	assert.InDelta(t, 0.3, w.VectorWeight, 1e-9)
	assert.InDelta(t, 0.7, w.FulltextWeight, 1e-9)
	assert.InDelta(t, 0.5, w.Confidence, 1e-9)
	assert.Equal(t, StateWarm, statsFor(e, PatternShort).State)

	for i := 0; i < 5; i++ {
		e.RecordFeedback(shortFeatures, weights(0.3), 0.8, "")
	}
	w, _ = e.RecommendedWeights(shortFeatures)
	assert.InDelta(t, 0.75, w.Confidence, 1e-9)

	for i := 0; i < 10; i++ {
		e.RecordFeedback(shortFeatures, weights(0.3), 0.8, "")
	}
	w, _ = e.RecommendedWeights(shortFeatures)
	assert.Equal(t, 1.0, w.Confidence)

	// Other patterns stay cold.
	_, ok = e.RecommendedWeights(questionFeatures)
	assert.False(t, ok)
}

func TestEngine_RecommendationIsEffectivenessWeighted(t *testing.T) {
	t.Run("weighted", func(t *testing.T) {
		e := newTestEngine(t, func(c *Config) { c.MinSamplesForLearning = 2 })
		e.RecordFeedback(shortFeatures, weights(0.2), 1.0, "")
		e.RecordFeedback(shortFeatures, weights(0.6), 0.0, "")

		w, ok := e.RecommendedWeights(shortFeatures)
		require.True(t, ok)
		assert.InDelta(t, 0.2, w.VectorWeight, 1e-9)
	})

	t.Run("all zero effectiveness falls back to plain mean", func(t *testing.T) {
		e := newTestEngine(t, func(c *Config) { c.MinSamplesForLearning = 2 })
		e.RecordFeedback(shortFeatures, weights(0.2), 0, "")
		e.RecordFeedback(shortFeatures, weights(0.6), 0, "")

		w, ok := e.RecommendedWeights(shortFeatures)
		require.True(t, ok)
		assert.InDelta(t, 0.4, w.VectorWeight, 1e-9)
	})
}

func TestEngine_RecordFeedback_ClampsInput(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.MinSamplesForLearning = 1 })

	e.RecordFeedback(shortFeatures, search.SearchWeights{VectorWeight: 3, FulltextWeight: 1}, 7, "clicked")
	e.RecordFeedback(technicalFeatures, weights(0.5), -2, "")

	st := statsFor(e, PatternShort)
	assert.Equal(t, 1.0, st.AvgEffectiveness)
	assert.InDelta(t, 0.75, st.Weights.VectorWeight, 1e-9)
	assert.Equal(t, 0.0, statsFor(e, PatternTechnical).AvgEffectiveness)
}

func TestEngine_HistoryIsBoundedFIFO(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.MinSamplesForLearning = 1
		c.MaxHistorySize = 3
	})

	for _, v := range []float64{0.1, 0.2, 0.3, 0.4, 0.5} {
		e.RecordFeedback(shortFeatures, weights(v), 1, "")
	}

	st := statsFor(e, PatternShort)
	assert.Equal(t, 3, st.Samples)
	assert.Equal(t, int64(5), e.TotalSamples())

	// Only 0.3, 0.4 and 0.5 remain.
	w, ok := e.RecommendedWeights(shortFeatures)
	require.True(t, ok)
	assert.InDelta(t, 0.4, w.VectorWeight, 1e-9)
}

func TestEngine_ConcurrentRecordFeedback(t *testing.T) {
	e := newTestEngine(t, nil)
	features := []search.QueryFeatures{shortFeatures, technicalFeatures, questionFeatures}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e.RecordFeedback(features[i%len(features)], weights(float64(i)/50), float64(i)/50, "")
			_, _ = e.RecommendedWeights(features[i%len(features)])
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(50), e.TotalSamples())
	total := 0
	for _, st := range e.Stats() {
		total += st.Samples
	}
	assert.Equal(t, 50, total)
	assert.Equal(t, 17, statsFor(e, PatternShort).Samples)
	assert.Equal(t, 17, statsFor(e, PatternTechnical).Samples)
	assert.Equal(t, 16, statsFor(e, PatternQuestion).Samples)
}

func TestEngine_Stats(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(t, func(c *Config) { c.MinSamplesForLearning = 2 }, WithClock(func() time.Time { return at }))

	e.RecordFeedback(technicalFeatures, weights(0.4), 0.6, "")
	e.RecordFeedback(technicalFeatures, weights(0.4), 0.8, "")

	stats := e.Stats()
	require.Len(t, stats, len(AllPatterns()))
	for i, p := range AllPatterns() {
		assert.Equal(t, p, stats[i].Pattern)
	}

	st := statsFor(e, PatternTechnical)
	assert.Equal(t, StateWarm, st.State)
	assert.Equal(t, 2, st.Samples)
	assert.InDelta(t, 0.7, st.AvgEffectiveness, 1e-9)
	assert.InDelta(t, 0.4, st.Weights.VectorWeight, 1e-9)
	assert.InDelta(t, 0.5, st.Weights.Confidence, 1e-9)
	assert.False(t, st.Optimized)
	assert.Equal(t, at, st.UpdatedAt)

	cold := statsFor(e, PatternLong)
	assert.Equal(t, StateCold, cold.State)
	assert.Zero(t, cold.Samples)
	assert.Zero(t, cold.Weights)
}

// =============================================================================
// Optimize
// =============================================================================

// recordQuestionSplit records n samples alternating between a strong
// vector-heavy weighting and a weak balanced one.
func recordQuestionSplit(e *Engine, n int) {
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			e.RecordFeedback(questionFeatures, weights(0.8), 0.9, "")
		} else {
			e.RecordFeedback(questionFeatures, weights(0.5), 0.3, "")
		}
	}
}

func TestEngine_Optimize_MovesTowardBetterWeights(t *testing.T) {
	e := newTestEngine(t, nil)
	recordQuestionSplit(e, 100)

	before, ok := e.RecommendedWeights(questionFeatures)
	require.True(t, ok)
	// (50·0.9·0.8 + 50·0.3·0.5) / (50·0.9 + 50·0.3)
	assert.InDelta(t, 0.725, before.VectorWeight, 1e-9)

	report := e.Optimize()
	assert.Equal(t, int64(100), report.TotalSamples)
	assert.False(t, report.Timestamp.IsZero())

	imp, ok := findImprovement(report, PatternQuestion)
	require.True(t, ok)
	assert.Equal(t, 100, imp.SampleCount)
	assert.InDelta(t, 0.725, imp.OldWeights.VectorWeight, 1e-9)
	assert.Greater(t, imp.NewWeights.VectorWeight, imp.OldWeights.VectorWeight)
	assert.Less(t, imp.NewWeights.VectorWeight, 0.8)
	assert.GreaterOrEqual(t, imp.EffectivenessImprovement, 0.0)
	assert.InDelta(t, 1.0, imp.NewWeights.VectorWeight+imp.NewWeights.FulltextWeight, 1e-9)

	// target = 0.3·0.8 + 0.7·0.725 = 0.7475; one 0.1 step from 0.725.
	assert.InDelta(t, 0.72725, imp.NewWeights.VectorWeight, 1e-9)

	after, ok := e.RecommendedWeights(questionFeatures)
	require.True(t, ok)
	assert.InDelta(t, imp.NewWeights.VectorWeight, after.VectorWeight, 1e-9)
	assert.Equal(t, 1.0, after.Confidence)
	assert.True(t, statsFor(e, PatternQuestion).Optimized)
}

func TestEngine_Optimize_RepeatedPassesConverge(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.LearningRate = 1
		c.SmoothingFactor = 1
	})
	recordQuestionSplit(e, 100)

	first := e.Optimize()
	imp, ok := findImprovement(first, PatternQuestion)
	require.True(t, ok)
	assert.InDelta(t, 0.8, imp.NewWeights.VectorWeight, 1e-9)
	assert.Greater(t, imp.EffectivenessImprovement, 0.0)

	second := e.Optimize()
	assert.Empty(t, second.Improvements)
}

func TestEngine_Optimize_LearningRateAboveOneActsAsOne(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.LearningRate = 5
		c.SmoothingFactor = 1
	})
	recordQuestionSplit(e, 100)

	imp, ok := findImprovement(e.Optimize(), PatternQuestion)
	require.True(t, ok)
	assert.InDelta(t, 0.8, imp.NewWeights.VectorWeight, 1e-9)
}

func TestEngine_Optimize_UnderSampledIsNoop(t *testing.T) {
	e := newTestEngine(t, nil)
	recordQuestionSplit(e, 5)

	report := e.Optimize()
	assert.Empty(t, report.Improvements)
	assert.Equal(t, int64(5), report.TotalSamples)
	assert.False(t, statsFor(e, PatternQuestion).Optimized)
}

func TestEngine_Optimize_RejectsEstimatedRegression(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.LearningRate = 1
		c.SmoothingFactor = 1
	})

	// The only "good" samples sit next to a cluster of failures, so moving
	// toward them is estimated to hurt.
	for i := 0; i < 10; i++ {
		e.RecordFeedback(questionFeatures, weights(0.9), 0.7, "")
		e.RecordFeedback(questionFeatures, weights(0.85), 0, "")
	}
	for i := 0; i < 80; i++ {
		e.RecordFeedback(questionFeatures, weights(0.5), 0.6, "")
	}

	report := e.Optimize()
	assert.Empty(t, report.Improvements)
	assert.False(t, statsFor(e, PatternQuestion).Optimized)
}

func TestEngine_Optimize_CrossPatternBlending(t *testing.T) {
	record := func(e *Engine) {
		for i := 0; i < 5; i++ {
			e.RecordFeedback(technicalFeatures, weights(0.2), 1, "")
			e.RecordFeedback(shortFeatures, weights(0.6), 1, "")
		}
	}
	mutate := func(c *Config) {
		c.MinSamplesForLearning = 5
		c.LearningRate = 1
		c.SmoothingFactor = 1
		c.FeedbackThreshold = 0
	}

	t.Run("enabled", func(t *testing.T) {
		e := newTestEngine(t, mutate)
		record(e)

		report := e.Optimize()

		technical, ok := findImprovement(report, PatternTechnical)
		require.True(t, ok)
		// 0.2 + 0.2·0.5·(0.6 − 0.2), Short has half confidence.
		assert.InDelta(t, 0.24, technical.NewWeights.VectorWeight, 1e-9)

		short, ok := findImprovement(report, PatternShort)
		require.True(t, ok)
		// Blends with Technical as it was before this pass.
		assert.InDelta(t, 0.56, short.NewWeights.VectorWeight, 1e-9)
	})

	t.Run("neighbour confidence scales the pull", func(t *testing.T) {
		// Given: Short has twice the minimum samples, Technical only the minimum
		e := newTestEngine(t, mutate)
		record(e)
		for i := 0; i < 5; i++ {
			e.RecordFeedback(shortFeatures, weights(0.6), 1, "")
		}

		// When: one optimize pass runs
		report := e.Optimize()

		// Then: the fully confident neighbour pulls with its whole factor
		technical, ok := findImprovement(report, PatternTechnical)
		require.True(t, ok)
		assert.InDelta(t, 0.28, technical.NewWeights.VectorWeight, 1e-9)

		// And: the half confident one pulls with half of it
		short, ok := findImprovement(report, PatternShort)
		require.True(t, ok)
		assert.InDelta(t, 0.56, short.NewWeights.VectorWeight, 1e-9)
	})

	t.Run("disabled", func(t *testing.T) {
		e := newTestEngine(t, func(c *Config) {
			mutate(c)
			c.EnableCrossPatternLearning = false
		})
		record(e)

		assert.Empty(t, e.Optimize().Improvements)
	})

	t.Run("cold neighbours are ignored", func(t *testing.T) {
		e := newTestEngine(t, mutate)
		for i := 0; i < 5; i++ {
			e.RecordFeedback(technicalFeatures, weights(0.2), 1, "")
		}
		e.RecordFeedback(shortFeatures, weights(0.9), 1, "")

		assert.Empty(t, e.Optimize().Improvements)
	})
}

func TestEngine_ImplementsWeightAdvisor(t *testing.T) {
	var advisor search.WeightAdvisor = newTestEngine(t, nil)
	_, ok := advisor.RecommendedWeights(shortFeatures)
	assert.False(t, ok)
}

// =============================================================================
// Persistence
// =============================================================================

type failingStore struct {
	saves int
}

func (s *failingStore) Save(context.Context, FeedbackRecord) error {
	s.saves++
	return errors.New("disk full")
}

func (s *failingStore) Recent(context.Context, int) ([]FeedbackRecord, error) {
	return nil, errors.New("disk full")
}

func (s *failingStore) Close() error { return nil }

func TestEngine_PersistenceFailureDoesNotLoseSamples(t *testing.T) {
	fs := &failingStore{}
	e := newTestEngine(t, nil, WithFeedbackStore(fs))

	e.RecordFeedback(shortFeatures, weights(0.3), 0.8, "")

	assert.Equal(t, 1, fs.saves)
	assert.Equal(t, int64(1), e.TotalSamples())

	err := e.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, agenterrors.ErrCodeStorageWrite, agenterrors.GetCode(err))
}

func TestEngine_LoadWithoutStore(t *testing.T) {
	e := newTestEngine(t, nil)
	assert.NoError(t, e.Load(context.Background()))
}

func TestEngine_PersistAndReplay(t *testing.T) {
	path := t.TempDir() + "/feedback.db"
	ctx := context.Background()

	st, err := NewSQLiteFeedbackStore(path)
	require.NoError(t, err)
	e := newTestEngine(t, func(c *Config) { c.MinSamplesForLearning = 3 }, WithFeedbackStore(st))
	for i := 0; i < 4; i++ {
		e.RecordFeedback(technicalFeatures, weights(0.35), 0.9, "accepted")
	}
	require.NoError(t, st.Close())

	reopened, err := NewSQLiteFeedbackStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	restored := newTestEngine(t, func(c *Config) { c.MinSamplesForLearning = 3 }, WithFeedbackStore(reopened))
	require.NoError(t, restored.Load(ctx))

	assert.Equal(t, int64(4), restored.TotalSamples())
	w, ok := restored.RecommendedWeights(technicalFeatures)
	require.True(t, ok)
	assert.InDelta(t, 0.35, w.VectorWeight, 1e-9)

	// Replay must not write the records a second time.
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
