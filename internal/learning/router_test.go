package learning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/agentmem/internal/search"
)

func newTestRouter(t *testing.T, mutate func(*RouterConfig)) *Router {
	t.Helper()
	cfg := DefaultRouterConfig()
	cfg.Seed = 42
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := NewRouter(cfg, WithRouterClock(func() time.Time { return time.Unix(1700000000, 0) }))
	require.NoError(t, err)
	return r
}

// =============================================================================
// Presets
// =============================================================================

func TestStrategy_Weights(t *testing.T) {
	for _, s := range Strategies() {
		w := s.Weights()
		assert.InDelta(t, 1.0, w.VectorWeight+w.FulltextWeight, 1e-9, s)
	}
	assert.Equal(t, 0.7, StrategyBalanced.Weights().VectorWeight)
	assert.Equal(t, 0.9, StrategyVectorHeavy.Weights().VectorWeight)
	assert.Equal(t, 0.0, StrategyFulltextOnly.Weights().VectorWeight)
}

func TestNearestStrategy(t *testing.T) {
	tests := []struct {
		vector float64
		want   StrategyID
	}{
		{0.95, StrategyVectorHeavy},
		{1.0, StrategyVectorOnly},
		{0.72, StrategyBalanced},
		{0.4, StrategyFulltextHeavy},
		{0.05, StrategyFulltextOnly},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NearestStrategy(weights(tt.vector)), tt.vector)
	}
}

// =============================================================================
// Arms
// =============================================================================

func TestArm_ExpectedRate(t *testing.T) {
	arm := newArm()
	assert.InDelta(t, 0.5, arm.ExpectedRate(), 1e-9)

	arm.update(1, time.Time{})
	assert.InDelta(t, 2.0/3.0, arm.ExpectedRate(), 1e-9)

	arm.update(0, time.Time{})
	assert.InDelta(t, 0.5, arm.ExpectedRate(), 1e-9)
	assert.Equal(t, 2, arm.Tries)
}

func TestRouter_Update(t *testing.T) {
	r := newTestRouter(t, nil)

	// When: one good and one partial reward land on the same arm
	r.Update(PatternQuestion, StrategyVectorHeavy, 1)
	r.Update(PatternQuestion, StrategyVectorHeavy, 0.25)

	// Then: alpha gains the rewards and beta the shortfall
	arm := r.Arms(PatternQuestion)[StrategyVectorHeavy]
	assert.InDelta(t, 2.25, arm.Alpha, 1e-9)
	assert.InDelta(t, 1.75, arm.Beta, 1e-9)
	assert.Equal(t, 2, arm.Tries)
	assert.Equal(t, time.Unix(1700000000, 0), arm.LastUpdated)

	// And: other patterns and presets keep their priors
	assert.Equal(t, 0, r.Arms(PatternTechnical)[StrategyVectorHeavy].Tries)
	assert.Equal(t, 0, r.Arms(PatternQuestion)[StrategyBalanced].Tries)

	// Out of range rewards clamp; unknown arms are ignored.
	r.Update(PatternQuestion, StrategyBalanced, 3)
	assert.InDelta(t, 2.0, r.Arms(PatternQuestion)[StrategyBalanced].Alpha, 1e-9)
	r.Update(PatternQuestion, StrategyID("bogus"), 1)
	assert.NotContains(t, r.Arms(PatternQuestion), StrategyID("bogus"))
}

func TestRouter_SamplingPrefersBetterArm(t *testing.T) {
	// Given: vector-heavy keeps winning on questions and fulltext-heavy keeps losing
	r := newTestRouter(t, func(c *RouterConfig) { c.ExplorationRate = 0 })
	for i := 0; i < 50; i++ {
		r.Update(PatternQuestion, StrategyVectorHeavy, 1)
		r.Update(PatternQuestion, StrategyFulltextHeavy, 0)
	}

	// When: the router decides many times
	picks := make(map[StrategyID]int)
	for i := 0; i < 200; i++ {
		picks[r.Decide(questionFeatures)]++
	}

	// Then: the winning arm dominates and the losing arm is all but dropped
	assert.Greater(t, picks[StrategyVectorHeavy], 150)
	assert.Less(t, picks[StrategyFulltextHeavy], 5)
}

func TestRouter_ExplorationStillTriesEveryArm(t *testing.T) {
	r := newTestRouter(t, func(c *RouterConfig) { c.ExplorationRate = 1 })
	for i := 0; i < 50; i++ {
		r.Update(PatternQuestion, StrategyVectorHeavy, 1)
	}

	picks := make(map[StrategyID]int)
	for i := 0; i < 500; i++ {
		picks[r.Decide(questionFeatures)]++
	}
	assert.Len(t, picks, len(Strategies()))
}

func TestRouter_SameSeedSameDecisions(t *testing.T) {
	a := newTestRouter(t, nil)
	b := newTestRouter(t, nil)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Decide(technicalFeatures), b.Decide(technicalFeatures))
	}
}

// =============================================================================
// Advisor
// =============================================================================

func TestRouter_ImplementsWeightAdvisor(t *testing.T) {
	var advisor search.WeightAdvisor = newTestRouter(t, nil)

	// Cold until the pattern has MinSamples feedback.
	_, ok := advisor.RecommendedWeights(shortFeatures)
	assert.False(t, ok)
}

func TestRouter_DecisionSticksUntilFeedback(t *testing.T) {
	// Given: a Warm pattern
	r := newTestRouter(t, func(c *RouterConfig) { c.MinSamples = 3 })
	for i := 0; i < 3; i++ {
		r.Update(PatternTechnical, StrategyBalanced, 0.5)
	}

	// When: the same features are planned twice
	first, ok := r.RecommendedWeights(technicalFeatures)
	require.True(t, ok)
	again, ok := r.RecommendedWeights(technicalFeatures)
	require.True(t, ok)

	// Then: both plans use the same preset
	assert.Equal(t, first, again)

	// And: feedback is credited to that preset, not the nearest one
	credited := r.RecordFeedback(technicalFeatures, weights(0.5), 1)
	assert.Equal(t, first, credited.Weights())
	arm := r.Arms(PatternTechnical)[credited]
	assert.Positive(t, arm.Tries)
	_, pending := r.decisions.Peek(technicalFeatures)
	assert.False(t, pending)
}

func TestRouter_RecordFeedback_WithoutDecisionUsesNearest(t *testing.T) {
	r := newTestRouter(t, nil)

	credited := r.RecordFeedback(shortFeatures, weights(0.3), 0.9)

	assert.Equal(t, StrategyFulltextHeavy, credited)
	arm := r.Arms(PatternShort)[StrategyFulltextHeavy]
	assert.Equal(t, 1, arm.Tries)
	assert.InDelta(t, 1.9, arm.Alpha, 1e-9)
}

func TestRouter_ConcurrentFeedback(t *testing.T) {
	r := newTestRouter(t, func(c *RouterConfig) { c.MinSamples = 0 })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.RecommendedWeights(questionFeatures)
			r.RecordFeedback(questionFeatures, weights(0.8), 0.7)
		}()
	}
	wg.Wait()

	total := 0
	for _, arm := range r.Arms(PatternQuestion) {
		total += arm.Tries
	}
	assert.Equal(t, 50, total)
}

// =============================================================================
// Replay
// =============================================================================

func TestRouter_LoadReplaysFeedback(t *testing.T) {
	ctx := context.Background()
	fs, err := NewSQLiteFeedbackStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	require.NoError(t, fs.Save(ctx, FeedbackRecord{Pattern: PatternQuestion, Features: questionFeatures, Weights: weights(0.9), Effectiveness: 1}))
	require.NoError(t, fs.Save(ctx, FeedbackRecord{Features: shortFeatures, Weights: weights(0.0), Effectiveness: 0}))

	r := newTestRouter(t, nil)
	require.NoError(t, r.Load(ctx, fs, 100))

	assert.Equal(t, 1, r.Arms(PatternQuestion)[StrategyVectorHeavy].Tries)
	short := r.Arms(PatternShort)[StrategyFulltextOnly]
	assert.Equal(t, 1, short.Tries)
	assert.InDelta(t, 2.0, short.Beta, 1e-9)

	assert.NoError(t, r.Load(ctx, nil, 100))
}
