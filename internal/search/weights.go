package search

import "math"

// Default fusion weights used when nothing more specific applies.
const (
	DefaultVectorWeight   = 0.7
	DefaultFulltextWeight = 0.3
)

// PredictorConfig holds the base weights and feature boosts of the weight
// predictor.
type PredictorConfig struct {
	VectorWeight         float64 `yaml:"vector_weight" json:"vector_weight"`
	FulltextWeight       float64 `yaml:"fulltext_weight" json:"fulltext_weight"`
	ConfidenceBase       float64 `yaml:"confidence_base" json:"confidence_base"`
	ExactTermBoost       float64 `yaml:"exact_term_boost" json:"exact_term_boost"`
	ExactConfidenceBoost float64 `yaml:"exact_confidence_boost" json:"exact_confidence_boost"`
	ComplexityCutoff     float64 `yaml:"complexity_cutoff" json:"complexity_cutoff"`
	ComplexityBoost      float64 `yaml:"complexity_boost" json:"complexity_boost"`
	ShortQueryWords      int     `yaml:"short_query_words" json:"short_query_words"`
	ShortQueryBoost      float64 `yaml:"short_query_boost" json:"short_query_boost"`
	QuestionBoost        float64 `yaml:"question_boost" json:"question_boost"`
	EntityBoost          float64 `yaml:"entity_boost" json:"entity_boost"`
	MaxEntityBoost       float64 `yaml:"max_entity_boost" json:"max_entity_boost"`
	TemporalBoost        float64 `yaml:"temporal_boost" json:"temporal_boost"`
	TechnicalBoost       float64 `yaml:"technical_boost" json:"technical_boost"`
}

// DefaultPredictorConfig returns the default predictor configuration.
func DefaultPredictorConfig() PredictorConfig {
	return PredictorConfig{
		VectorWeight:         DefaultVectorWeight,
		FulltextWeight:       DefaultFulltextWeight,
		ConfidenceBase:       0.7,
		ExactTermBoost:       0.25,
		ExactConfidenceBoost: 0.1,
		ComplexityCutoff:     0.6,
		ComplexityBoost:      0.2,
		ShortQueryWords:      3,
		ShortQueryBoost:      0.15,
		QuestionBoost:        0.15,
		EntityBoost:          0.05,
		MaxEntityBoost:       0.15,
		TemporalBoost:        0.1,
		TechnicalBoost:       0.1,
	}
}

// WeightPredictor maps query features to a continuous vector/fulltext split.
// It holds no mutable state; Predict is deterministic.
type WeightPredictor struct {
	config PredictorConfig
}

// NewWeightPredictor creates a predictor.
func NewWeightPredictor(config PredictorConfig) *WeightPredictor {
	return &WeightPredictor{config: config}
}

// Predict returns normalized weights for the given features.
func (p *WeightPredictor) Predict(f QueryFeatures) SearchWeights {
	cfg := p.config
	w := SearchWeights{
		VectorWeight:   cfg.VectorWeight,
		FulltextWeight: cfg.FulltextWeight,
		Confidence:     cfg.ConfidenceBase,
	}

	if f.HasExactTerms {
		w.FulltextWeight += cfg.ExactTermBoost
		w.Confidence += cfg.ExactConfidenceBoost
	}
	if f.SemanticComplexity > cfg.ComplexityCutoff {
		w.VectorWeight += cfg.ComplexityBoost * f.SemanticComplexity
	}
	if f.IsQuestion {
		w.VectorWeight += cfg.QuestionBoost
	} else if f.WordCount > 0 && f.WordCount <= cfg.ShortQueryWords {
		w.FulltextWeight += cfg.ShortQueryBoost
	}
	if f.EntityCount > 0 {
		w.FulltextWeight += math.Min(cfg.EntityBoost*float64(f.EntityCount), cfg.MaxEntityBoost)
	}
	if f.HasTemporalIndicator {
		w.VectorWeight += cfg.TemporalBoost
	}
	if f.HasTechnicalTerms {
		w.FulltextWeight += cfg.TechnicalBoost
	}

	w.Confidence = math.Min(w.Confidence, 1)
	return w.Normalize()
}
