package search

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThresholdCalculator_Calculate(t *testing.T) {
	calc := NewThresholdCalculator(DefaultThresholdConfig())

	tests := []struct {
		name     string
		qt       QueryType
		features QueryFeatures
		want     float64
	}{
		{"exact id is always zero", QueryTypeExactID, QueryFeatures{QueryLength: 7, HasExactTerms: true}, 0},
		{"short keyword loosens", QueryTypeShortKeyword, QueryFeatures{QueryLength: 7}, 0.24},
		{"very short", QueryTypeShortKeyword, QueryFeatures{QueryLength: 3}, 0.21},
		{"mid length keeps base", QueryTypeNaturalLanguage, QueryFeatures{QueryLength: 30}, 0.45},
		{"technical boost", QueryTypeTechnical, QueryFeatures{QueryLength: 30, HasTechnicalTerms: true}, 0.55},
		{"exact terms boost", QueryTypeGeneral, QueryFeatures{QueryLength: 30, HasExactTerms: true}, 0.55},
		{"long query tightens", QueryTypeSemantic, QueryFeatures{QueryLength: 200}, 0.66},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, calc.Calculate("", tt.qt, tt.features), 1e-9)
		})
	}
}

func TestThresholdCalculator_SemanticFloor(t *testing.T) {
	cfg := DefaultThresholdConfig()
	cfg.BaseThresholds[QueryTypeSemantic] = 0.3
	calc := NewThresholdCalculator(cfg)

	got := calc.Calculate("", QueryTypeSemantic, QueryFeatures{QueryLength: 3})
	assert.InDelta(t, DefaultSemanticFloor, got, 1e-9)
}

func TestThresholdCalculator_ClampsToMax(t *testing.T) {
	cfg := DefaultThresholdConfig()
	cfg.BaseThresholds[QueryTypeTechnical] = 1.0
	calc := NewThresholdCalculator(cfg)

	got := calc.Calculate("", QueryTypeTechnical, QueryFeatures{QueryLength: 500, HasTechnicalTerms: true})
	assert.InDelta(t, DefaultMaxThreshold, got, 1e-9)
}

func TestThresholdCalculator_MonotonicInLength(t *testing.T) {
	calc := NewThresholdCalculator(DefaultThresholdConfig())
	featureSets := []QueryFeatures{
		{},
		{HasTechnicalTerms: true},
		{HasExactTerms: true, IsQuestion: true},
	}

	for _, qt := range AllQueryTypes() {
		for _, base := range featureSets {
			prev := -1.0
			for length := 0; length <= 300; length++ {
				f := base
				f.QueryLength = length
				got := calc.Calculate("", qt, f)

				assert.GreaterOrEqual(t, got, 0.0)
				assert.LessOrEqual(t, got, 1.0)
				if got < prev {
					t.Fatalf("%s: threshold decreased at length %d: %v < %v", qt, length, got, prev)
				}
				prev = got
			}
		}
	}
}

// =============================================================================
// Feedback history
// =============================================================================

func TestThresholdCalculator_HistoryAdjustment(t *testing.T) {
	f := QueryFeatures{QueryLength: 30}

	t.Run("needs minimum samples", func(t *testing.T) {
		calc := NewThresholdCalculator(DefaultThresholdConfig())
		for i := 0; i < DefaultMinHistorySamples-1; i++ {
			calc.RecordFeedback(QueryTypeNaturalLanguage, 0.1)
		}
		assert.InDelta(t, 0.45, calc.Calculate("", QueryTypeNaturalLanguage, f), 1e-9)
	})

	t.Run("poor results lower the threshold", func(t *testing.T) {
		calc := NewThresholdCalculator(DefaultThresholdConfig())
		for i := 0; i < DefaultMinHistorySamples; i++ {
			calc.RecordFeedback(QueryTypeNaturalLanguage, 0.2)
		}
		assert.InDelta(t, 0.40, calc.Calculate("", QueryTypeNaturalLanguage, f), 1e-9)
	})

	t.Run("good results raise the threshold", func(t *testing.T) {
		calc := NewThresholdCalculator(DefaultThresholdConfig())
		for i := 0; i < DefaultMinHistorySamples; i++ {
			calc.RecordFeedback(QueryTypeNaturalLanguage, 0.95)
		}
		assert.InDelta(t, 0.50, calc.Calculate("", QueryTypeNaturalLanguage, f), 1e-9)
	})

	t.Run("middling results change nothing", func(t *testing.T) {
		calc := NewThresholdCalculator(DefaultThresholdConfig())
		for i := 0; i < 10; i++ {
			calc.RecordFeedback(QueryTypeNaturalLanguage, 0.65)
		}
		assert.InDelta(t, 0.45, calc.Calculate("", QueryTypeNaturalLanguage, f), 1e-9)
	})

	t.Run("history is per type", func(t *testing.T) {
		calc := NewThresholdCalculator(DefaultThresholdConfig())
		for i := 0; i < 10; i++ {
			calc.RecordFeedback(QueryTypeTechnical, 0.0)
		}
		assert.InDelta(t, 0.45, calc.Calculate("", QueryTypeNaturalLanguage, f), 1e-9)
	})
}

func TestThresholdCalculator_HistoryIsBounded(t *testing.T) {
	cfg := DefaultThresholdConfig()
	cfg.HistorySize = 5
	calc := NewThresholdCalculator(cfg)

	for i := 0; i < 5; i++ {
		calc.RecordFeedback(QueryTypeGeneral, 0.1)
	}
	for i := 0; i < 5; i++ {
		calc.RecordFeedback(QueryTypeGeneral, 0.95)
	}

	assert.Equal(t, 5, calc.HistoryLen(QueryTypeGeneral))
	// Only the recent high scores remain.
	assert.InDelta(t, 0.55, calc.Calculate("", QueryTypeGeneral, QueryFeatures{QueryLength: 30}), 1e-9)
}

func TestThresholdCalculator_ClampsEffectiveness(t *testing.T) {
	calc := NewThresholdCalculator(DefaultThresholdConfig())
	for i := 0; i < 5; i++ {
		calc.RecordFeedback(QueryTypeGeneral, 7)
	}
	assert.InDelta(t, 0.55, calc.Calculate("", QueryTypeGeneral, QueryFeatures{QueryLength: 30}), 1e-9)
}

func TestThresholdCalculator_ConcurrentFeedback(t *testing.T) {
	calc := NewThresholdCalculator(DefaultThresholdConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			calc.RecordFeedback(QueryTypeSemantic, 0.5)
			_ = calc.Calculate("q", QueryTypeSemantic, QueryFeatures{QueryLength: 50})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, calc.HistoryLen(QueryTypeSemantic))
}

func TestThresholdCalculator_TypesDoNotShareALock(t *testing.T) {
	calc := NewThresholdCalculator(DefaultThresholdConfig())

	// Given: a writer stalled inside the Semantic window
	sem := calc.history[QueryTypeSemantic]
	sem.mu.Lock()
	defer sem.mu.Unlock()

	// When: Technical feedback and lookups run meanwhile
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < DefaultMinHistorySamples; i++ {
			calc.RecordFeedback(QueryTypeTechnical, 0.1)
		}
		_ = calc.Calculate("q", QueryTypeTechnical, QueryFeatures{QueryLength: 30})
	}()

	// Then: they complete without waiting on Semantic
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("technical feedback blocked behind the semantic window")
	}
	assert.Equal(t, DefaultMinHistorySamples, calc.HistoryLen(QueryTypeTechnical))
}

func TestThresholdCalculator_UnknownTypeIgnored(t *testing.T) {
	calc := NewThresholdCalculator(DefaultThresholdConfig())
	for i := 0; i < 10; i++ {
		calc.RecordFeedback(QueryType("bogus"), 0)
	}
	assert.Zero(t, calc.HistoryLen(QueryType("bogus")))
	assert.InDelta(t, 0.5, calc.Calculate("", QueryType("bogus"), QueryFeatures{QueryLength: 30}), 1e-9)
}
