package search

import (
	"sync"
)

// Default threshold configuration values.
const (
	DefaultLengthFactor      = 0.3
	DefaultTechnicalBoost    = 0.05
	DefaultHistoryAdjustment = 0.05
	DefaultMinThreshold      = 0.0
	DefaultMaxThreshold      = 0.9
	DefaultSemanticFloor     = 0.4
	DefaultThresholdHistory  = 100
	DefaultMinHistorySamples = 5

	// History averages outside this band move the threshold.
	lowEffectiveness  = 0.5
	highEffectiveness = 0.8
)

// DefaultBaseThresholds returns the per-type base similarity thresholds.
func DefaultBaseThresholds() map[QueryType]float64 {
	return map[QueryType]float64{
		QueryTypeExactID:         0,
		QueryTypeShortKeyword:    0.3,
		QueryTypeNaturalLanguage: 0.45,
		QueryTypeSemantic:        0.6,
		QueryTypeTechnical:       0.5,
		QueryTypeConversational:  0.45,
		QueryTypeGeneral:         0.5,
	}
}

// lengthBucket maps an upper bound on query length (runes) to an adjustment.
type lengthBucket struct {
	maxLen     int
	adjustment float64
}

// lengthBuckets must stay ordered by maxLen with non-decreasing adjustments,
// otherwise Calculate stops being monotonic in length.
var lengthBuckets = []lengthBucket{
	{5, -0.3},
	{10, -0.2},
	{20, -0.1},
	{40, 0},
	{80, 0.1},
	{150, 0.15},
}

const longQueryAdjustment = 0.2

// ThresholdConfig configures the adaptive threshold calculator.
type ThresholdConfig struct {
	BaseThresholds    map[QueryType]float64 `yaml:"base_thresholds" json:"base_thresholds"`
	LengthFactor      float64               `yaml:"length_factor" json:"length_factor"`
	TechnicalBoost    float64               `yaml:"technical_boost" json:"technical_boost"`
	HistoryAdjustment float64               `yaml:"history_adjustment" json:"history_adjustment"`
	MinThreshold      float64               `yaml:"min_threshold" json:"min_threshold"`
	MaxThreshold      float64               `yaml:"max_threshold" json:"max_threshold"`
	SemanticFloor     float64               `yaml:"semantic_floor" json:"semantic_floor"`
	HistorySize       int                   `yaml:"history_size" json:"history_size"`
	MinHistorySamples int                   `yaml:"min_history_samples" json:"min_history_samples"`
}

// DefaultThresholdConfig returns the default threshold configuration.
func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		BaseThresholds:    DefaultBaseThresholds(),
		LengthFactor:      DefaultLengthFactor,
		TechnicalBoost:    DefaultTechnicalBoost,
		HistoryAdjustment: DefaultHistoryAdjustment,
		MinThreshold:      DefaultMinThreshold,
		MaxThreshold:      DefaultMaxThreshold,
		SemanticFloor:     DefaultSemanticFloor,
		HistorySize:       DefaultThresholdHistory,
		MinHistorySamples: DefaultMinHistorySamples,
	}
}

// ThresholdCalculator computes a per-query similarity cutoff from the query
// type, its length and specificity, and recorded outcomes for that type.
// history holds one window per query type, created up front; the map is
// never written afterwards, so each window's own lock is the only one taken.
type ThresholdCalculator struct {
	config  ThresholdConfig
	history map[QueryType]*effectivenessWindow
}

// effectivenessWindow is a fixed-size ring of effectiveness scores.
type effectivenessWindow struct {
	mu     sync.RWMutex
	values []float64
	next   int
	full   bool
	sum    float64
}

func newEffectivenessWindow(size int) *effectivenessWindow {
	return &effectivenessWindow{values: make([]float64, size)}
}

func (w *effectivenessWindow) add(v float64) {
	if w.full {
		w.sum -= w.values[w.next]
	}
	w.values[w.next] = v
	w.sum += v
	w.next = (w.next + 1) % len(w.values)
	if w.next == 0 {
		w.full = true
	}
}

func (w *effectivenessWindow) len() int {
	if w.full {
		return len(w.values)
	}
	return w.next
}

func (w *effectivenessWindow) mean() float64 {
	n := w.len()
	if n == 0 {
		return 0
	}
	return w.sum / float64(n)
}

// NewThresholdCalculator creates a calculator. A nil BaseThresholds map or a
// non-positive MaxThreshold take defaults.
func NewThresholdCalculator(config ThresholdConfig) *ThresholdCalculator {
	d := DefaultThresholdConfig()
	if config.BaseThresholds == nil {
		config.BaseThresholds = d.BaseThresholds
	}
	if config.MaxThreshold <= 0 || config.MaxThreshold > 1 {
		config.MaxThreshold = d.MaxThreshold
	}
	if config.MinThreshold < 0 || config.MinThreshold > config.MaxThreshold {
		config.MinThreshold = d.MinThreshold
	}
	if config.HistorySize <= 0 {
		config.HistorySize = d.HistorySize
	}
	if config.MinHistorySamples <= 0 {
		config.MinHistorySamples = d.MinHistorySamples
	}
	history := make(map[QueryType]*effectivenessWindow, len(AllQueryTypes()))
	for _, qt := range AllQueryTypes() {
		history[qt] = newEffectivenessWindow(config.HistorySize)
	}
	return &ThresholdCalculator{
		config:  config,
		history: history,
	}
}

// Calculate returns the similarity threshold for a query, in [0,1].
// Within one query type and feature set the result is non-decreasing in
// QueryLength.
func (c *ThresholdCalculator) Calculate(_ string, qt QueryType, features QueryFeatures) float64 {
	if qt == QueryTypeExactID {
		return 0
	}

	base, ok := c.config.BaseThresholds[qt]
	if !ok {
		base = DefaultBaseThresholds()[QueryTypeGeneral]
	}

	threshold := base + lengthAdjustment(features.QueryLength)*c.config.LengthFactor
	if features.HasTechnicalTerms || features.HasExactTerms {
		threshold += c.config.TechnicalBoost
	}
	threshold += c.historyAdjustment(qt)

	if qt == QueryTypeSemantic && threshold < c.config.SemanticFloor {
		threshold = c.config.SemanticFloor
	}
	return clamp(threshold, c.config.MinThreshold, c.config.MaxThreshold)
}

func lengthAdjustment(length int) float64 {
	for _, b := range lengthBuckets {
		if length <= b.maxLen {
			return b.adjustment
		}
	}
	return longQueryAdjustment
}

func (c *ThresholdCalculator) historyAdjustment(qt QueryType) float64 {
	w, ok := c.history[qt]
	if !ok {
		return 0
	}
	w.mu.RLock()
	n, avg := w.len(), w.mean()
	w.mu.RUnlock()

	if n < c.config.MinHistorySamples {
		return 0
	}
	switch {
	case avg < lowEffectiveness:
		return -c.config.HistoryAdjustment
	case avg > highEffectiveness:
		return c.config.HistoryAdjustment
	default:
		return 0
	}
}

// RecordFeedback records how effective the threshold used for a query of
// type qt turned out to be. Effectiveness is clamped to [0,1]. Unknown
// query types are ignored.
func (c *ThresholdCalculator) RecordFeedback(qt QueryType, effectiveness float64) {
	w, ok := c.history[qt]
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.add(clamp(effectiveness, 0, 1))
}

// HistoryLen reports how many feedback samples are held for qt.
func (c *ThresholdCalculator) HistoryLen(qt QueryType) int {
	w, ok := c.history[qt]
	if !ok {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.len()
}
