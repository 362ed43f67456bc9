// Package learning tunes retrieval weights from feedback.
//
// Feedback samples are bucketed by QueryPattern. Each pattern has its own
// shard and lock, so recording feedback for one pattern never waits on
// another. A pattern is Cold until it has MinSamplesForLearning samples and
// Warm afterwards; only Warm patterns recommend weights or take part in
// Optimize.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
	"github.com/Aman-CERP/agentmem/internal/search"
)

// State is the learning state of one pattern.
type State string

const (
	StateCold State = "cold"
	StateWarm State = "warm"
)

const (
	// minWeightDelta is the smallest weight change Optimize commits.
	minWeightDelta = 1e-6

	// persistTimeout bounds one feedback write.
	persistTimeout = 5 * time.Second
)

// Config controls the learning engine. It is fixed at construction.
type Config struct {
	// MinSamplesForLearning is the sample count at which a pattern turns Warm.
	MinSamplesForLearning int `yaml:"min_samples_for_learning" json:"min_samples_for_learning"`

	// LearningRate scales each optimize step. Values above 1 act as 1.
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`

	// SmoothingFactor is the share of the observed best weights in a target.
	SmoothingFactor float64 `yaml:"smoothing_factor" json:"smoothing_factor"`

	// FeedbackThreshold is the effectiveness a sample needs to count as good.
	FeedbackThreshold float64 `yaml:"feedback_threshold" json:"feedback_threshold"`

	// MaxHistorySize bounds the samples kept per pattern (FIFO).
	MaxHistorySize int `yaml:"max_history_size" json:"max_history_size"`

	EnableCrossPatternLearning bool `yaml:"enable_cross_pattern_learning" json:"enable_cross_pattern_learning"`

	// Adjacency holds the cross-pattern blend factors.
	Adjacency Adjacency `yaml:"adjacency" json:"adjacency"`

	// KernelBandwidth is the vector-weight bandwidth used to estimate the
	// effectiveness of a candidate weighting.
	KernelBandwidth float64 `yaml:"kernel_bandwidth" json:"kernel_bandwidth"`

	// Advisor selects which learner supplies search weights: AdvisorEngine
	// or AdvisorRouter. Both always receive feedback.
	Advisor string `yaml:"advisor" json:"advisor"`

	Router RouterConfig `yaml:"router" json:"router"`
}

// Weight advisors.
const (
	AdvisorEngine = "engine"
	AdvisorRouter = "router"
)

// DefaultConfig returns the default learning configuration.
func DefaultConfig() Config {
	return Config{
		MinSamplesForLearning:      10,
		LearningRate:               0.1,
		SmoothingFactor:            0.3,
		FeedbackThreshold:          0.7,
		MaxHistorySize:             1000,
		EnableCrossPatternLearning: true,
		Adjacency:                  DefaultAdjacency(),
		KernelBandwidth:            0.1,
		Advisor:                    AdvisorEngine,
		Router:                     DefaultRouterConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.MinSamplesForLearning < 1:
		return agenterrors.ConfigError("learning.min_samples_for_learning must be at least 1", nil)
	case c.LearningRate < 0 || math.IsNaN(c.LearningRate):
		return agenterrors.ConfigError("learning.learning_rate must not be negative", nil)
	case !inUnit(c.SmoothingFactor):
		return agenterrors.ConfigError(fmt.Sprintf("learning.smoothing_factor must be in [0,1], got %v", c.SmoothingFactor), nil)
	case !inUnit(c.FeedbackThreshold):
		return agenterrors.ConfigError(fmt.Sprintf("learning.feedback_threshold must be in [0,1], got %v", c.FeedbackThreshold), nil)
	case c.MaxHistorySize < 1:
		return agenterrors.ConfigError("learning.max_history_size must be at least 1", nil)
	case c.KernelBandwidth <= 0:
		return agenterrors.ConfigError("learning.kernel_bandwidth must be positive", nil)
	}
	switch c.Advisor {
	case "", AdvisorEngine, AdvisorRouter:
	default:
		return agenterrors.ConfigError(fmt.Sprintf("learning.advisor must be 'engine' or 'router', got %q", c.Advisor), nil)
	}
	if err := c.Router.Validate(); err != nil {
		return err
	}
	for p, row := range c.Adjacency {
		if _, ok := ParsePattern(string(p)); !ok {
			return agenterrors.ConfigError(fmt.Sprintf("learning.adjacency: unknown pattern %q", p), nil)
		}
		for q, f := range row {
			if _, ok := ParsePattern(string(q)); !ok {
				return agenterrors.ConfigError(fmt.Sprintf("learning.adjacency.%s: unknown pattern %q", p, q), nil)
			}
			if f < 0 || f > 1 {
				return agenterrors.ConfigError(fmt.Sprintf("learning.adjacency.%s.%s must be in [0,1]", p, q), nil)
			}
		}
	}
	return nil
}

// PatternImprovement records one committed weight change.
type PatternImprovement struct {
	Pattern                  QueryPattern         `json:"pattern"`
	OldWeights               search.SearchWeights `json:"old_weights"`
	NewWeights               search.SearchWeights `json:"new_weights"`
	EffectivenessImprovement float64              `json:"effectiveness_improvement"`
	SampleCount              int                  `json:"sample_count"`
}

// OptimizationReport is the outcome of one Optimize pass.
type OptimizationReport struct {
	Improvements []PatternImprovement `json:"improvements"`
	TotalSamples int64                `json:"total_samples"`
	Timestamp    time.Time            `json:"timestamp"`
}

// PatternStats describes one pattern.
type PatternStats struct {
	Pattern          QueryPattern         `json:"pattern"`
	State            State                `json:"state"`
	Samples          int                  `json:"samples"`
	AvgEffectiveness float64              `json:"avg_effectiveness"`
	Weights          search.SearchWeights `json:"weights"`
	Optimized        bool                 `json:"optimized"`
	UpdatedAt        time.Time            `json:"updated_at,omitzero"`
}

// sample is one in-memory feedback observation.
type sample struct {
	weights       search.SearchWeights
	effectiveness float64
	label         string
	at            time.Time
}

// shard holds one pattern's history and committed weights.
type shard struct {
	mu        sync.Mutex
	history   []sample
	current   *search.SearchWeights
	updatedAt time.Time
}

func (s *shard) add(x sample, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, x)
	if over := len(s.history) - limit; over > 0 {
		n := copy(s.history, s.history[over:])
		clear(s.history[n:])
		s.history = s.history[:n]
	}
	s.updatedAt = x.at
}

// snapshot is a consistent copy of a shard taken under its lock.
type snapshot struct {
	samples   []sample
	current   *search.SearchWeights
	updatedAt time.Time
}

func (s *shard) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		samples:   append([]sample(nil), s.history...),
		updatedAt: s.updatedAt,
	}
	if s.current != nil {
		w := *s.current
		snap.current = &w
	}
	return snap
}

// recommend returns the shard's weights and sample count without copying
// the history. Weights are only computed once the shard holds warm samples.
func (s *shard) recommend(warm int) (search.SearchWeights, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.history)
	switch {
	case n < warm:
		return search.SearchWeights{}, n
	case s.current != nil:
		return *s.current, n
	default:
		return weightedMean(s.history), n
	}
}

func (s *shard) commit(w search.SearchWeights, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &w
	s.updatedAt = at
}

// weights returns the committed weights, or the effectiveness-weighted mean
// of the history when nothing was committed yet.
func (s snapshot) weights() search.SearchWeights {
	if s.current != nil {
		return *s.current
	}
	return weightedMean(s.samples)
}

// Engine learns per-pattern weights from feedback. It is safe for
// concurrent use and implements search.WeightAdvisor.
type Engine struct {
	config Config
	shards map[QueryPattern]*shard // fixed at construction, read-only
	total  atomic.Int64

	store FeedbackStore
	now   func() time.Time

	optMu sync.Mutex
}

var _ search.WeightAdvisor = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithFeedbackStore persists every recorded sample to s.
func WithFeedbackStore(s FeedbackStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates a learning engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Adjacency = cfg.Adjacency.clone()

	e := &Engine{
		config: cfg,
		shards: make(map[QueryPattern]*shard, len(AllPatterns())),
		now:    time.Now,
	}
	for _, p := range AllPatterns() {
		e.shards[p] = &shard{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	cfg := e.config
	cfg.Adjacency = cfg.Adjacency.clone()
	return cfg
}

// RecordFeedback adds one observation: the weights a search used and how
// effective its results were. Effectiveness is clamped to [0,1]. It never
// fails; persistence errors are logged.
func (e *Engine) RecordFeedback(features search.QueryFeatures, weights search.SearchWeights, effectiveness float64, label string) {
	rec := FeedbackRecord{
		Pattern:       PatternFromFeatures(features),
		Features:      features,
		Weights:       weights.Normalize(),
		Effectiveness: clampUnit(effectiveness),
		Label:         label,
		CreatedAt:     e.now(),
	}
	e.record(rec)

	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.store.Save(ctx, rec); err != nil {
		slog.Warn("failed to persist feedback",
			slog.String("pattern", string(rec.Pattern)),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) record(rec FeedbackRecord) {
	e.shards[rec.Pattern].add(sample{
		weights:       rec.Weights,
		effectiveness: rec.Effectiveness,
		label:         rec.Label,
		at:            rec.CreatedAt,
	}, e.config.MaxHistorySize)
	e.total.Add(1)
}

// Load replays stored feedback into the engine. Replayed records are not
// written back.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	recs, err := e.store.Recent(ctx, e.config.MaxHistorySize*len(AllPatterns()))
	if err != nil {
		return agenterrors.StorageError("failed to load feedback", err)
	}
	for _, rec := range recs {
		if _, ok := ParsePattern(string(rec.Pattern)); !ok {
			rec.Pattern = PatternFromFeatures(rec.Features)
		}
		rec.Weights = rec.Weights.Normalize()
		rec.Effectiveness = clampUnit(rec.Effectiveness)
		e.record(rec)
	}
	slog.Debug("feedback loaded", slog.Int("records", len(recs)))
	return nil
}

// TotalSamples returns the number of samples recorded since construction,
// including replayed ones.
func (e *Engine) TotalSamples() int64 {
	return e.total.Load()
}

// RecommendedWeights returns the learned weights for the features' pattern.
// It returns false while the pattern is Cold.
func (e *Engine) RecommendedWeights(features search.QueryFeatures) (search.SearchWeights, bool) {
	w, n := e.shards[PatternFromFeatures(features)].recommend(e.config.MinSamplesForLearning)
	if n < e.config.MinSamplesForLearning {
		return search.SearchWeights{}, false
	}
	w.Confidence = e.confidence(n)
	return w.Normalize(), true
}

// confidence grows linearly with samples and reaches 1 at twice the Warm
// threshold, so a pattern that just turned Warm is trusted only halfway.
func (e *Engine) confidence(samples int) float64 {
	return math.Min(1, float64(samples)/float64(2*e.config.MinSamplesForLearning))
}

// Optimize moves each Warm pattern's weights toward the weights that
// performed best, committing a change only when the estimated
// effectiveness does not drop. Cold patterns are skipped.
func (e *Engine) Optimize() OptimizationReport {
	e.optMu.Lock()
	defer e.optMu.Unlock()

	now := e.now()
	report := OptimizationReport{
		Improvements: []PatternImprovement{},
		TotalSamples: e.total.Load(),
		Timestamp:    now,
	}

	// Snapshot every shard up front; blending reads other patterns and
	// shard locks are never nested.
	snaps := make(map[QueryPattern]snapshot, len(e.shards))
	for p, s := range e.shards {
		snaps[p] = s.snapshot()
	}

	step := clampUnit(e.config.LearningRate)
	for _, p := range AllPatterns() {
		snap := snaps[p]
		if len(snap.samples) < e.config.MinSamplesForLearning {
			continue
		}

		old := snap.weights().Normalize()
		best := bestObserved(snap.samples, e.config.FeedbackThreshold)
		target := lerp(old, best, e.config.SmoothingFactor)
		if e.config.EnableCrossPatternLearning {
			target = e.blendRelated(p, target, snaps)
		}

		next := lerp(old, target, step).Normalize()
		if math.Abs(next.VectorWeight-old.VectorWeight) <= minWeightDelta {
			continue
		}

		gain := e.estimate(snap.samples, next) - e.estimate(snap.samples, old)
		if gain < 0 {
			slog.Debug("optimize rejected",
				slog.String("pattern", string(p)),
				slog.Float64("gain", gain))
			continue
		}

		next.Confidence = e.confidence(len(snap.samples))
		old.Confidence = next.Confidence
		e.shards[p].commit(next, now)

		report.Improvements = append(report.Improvements, PatternImprovement{
			Pattern:                  p,
			OldWeights:               old,
			NewWeights:               next,
			EffectivenessImprovement: gain,
			SampleCount:              len(snap.samples),
		})
		slog.Debug("optimize committed",
			slog.String("pattern", string(p)),
			slog.Float64("vector_weight", next.VectorWeight),
			slog.Float64("gain", gain))
	}
	return report
}

// blendRelated mixes target with the weights of Warm related patterns. Each
// neighbour pulls with its blend factor scaled by its own confidence.
func (e *Engine) blendRelated(p QueryPattern, target search.SearchWeights, snaps map[QueryPattern]snapshot) search.SearchWeights {
	var (
		share  float64
		vector = target.VectorWeight
		full   = target.FulltextWeight
	)
	for _, rel := range e.config.Adjacency.related(p) {
		snap := snaps[rel.pattern]
		if len(snap.samples) < e.config.MinSamplesForLearning {
			continue
		}
		w := snap.weights().Normalize()
		pull := rel.factor * e.confidence(len(snap.samples))
		vector += pull * (w.VectorWeight - target.VectorWeight)
		full += pull * (w.FulltextWeight - target.FulltextWeight)
		share += pull
	}
	if share == 0 {
		return target
	}
	target.VectorWeight = vector
	target.FulltextWeight = full
	return target
}

// estimate predicts the effectiveness of w from the history with a
// Gaussian kernel over the vector weight.
func (e *Engine) estimate(samples []sample, w search.SearchWeights) float64 {
	xs := make([]float64, len(samples))
	ks := make([]float64, len(samples))
	h := e.config.KernelBandwidth
	for i, s := range samples {
		xs[i] = s.effectiveness
		d := (s.weights.VectorWeight - w.VectorWeight) / h
		ks[i] = math.Exp(-0.5 * d * d)
	}
	if floats.Sum(ks) < 1e-12 {
		return stat.Mean(xs, nil)
	}
	return stat.Mean(xs, ks)
}

// Stats returns one entry per pattern in AllPatterns order.
func (e *Engine) Stats() []PatternStats {
	out := make([]PatternStats, 0, len(e.shards))
	for _, p := range AllPatterns() {
		snap := e.shards[p].snapshot()
		n := len(snap.samples)
		st := PatternStats{
			Pattern:   p,
			State:     StateCold,
			Samples:   n,
			Optimized: snap.current != nil,
			UpdatedAt: snap.updatedAt,
		}
		if n > 0 {
			st.AvgEffectiveness = stat.Mean(effectiveness(snap.samples), nil)
		}
		if n >= e.config.MinSamplesForLearning {
			st.State = StateWarm
			st.Weights = snap.weights()
			st.Weights.Confidence = e.confidence(n)
			st.Weights = st.Weights.Normalize()
		}
		out = append(out, st)
	}
	return out
}

// bestObserved is the effectiveness-weighted mean over samples at or above
// threshold, or over all samples when none qualify.
func bestObserved(samples []sample, threshold float64) search.SearchWeights {
	var good []sample
	for _, s := range samples {
		if s.effectiveness >= threshold {
			good = append(good, s)
		}
	}
	if len(good) == 0 {
		good = samples
	}
	return weightedMean(good)
}

// weightedMean averages sample weights by effectiveness. When every sample
// has zero effectiveness the plain mean is used.
func weightedMean(samples []sample) search.SearchWeights {
	if len(samples) == 0 {
		return search.SearchWeights{}.Normalize()
	}
	vs := make([]float64, len(samples))
	fs := make([]float64, len(samples))
	for i, s := range samples {
		vs[i] = s.weights.VectorWeight
		fs[i] = s.weights.FulltextWeight
	}
	eff := effectiveness(samples)
	if floats.Sum(eff) == 0 {
		eff = nil
	}
	return search.SearchWeights{
		VectorWeight:   stat.Mean(vs, eff),
		FulltextWeight: stat.Mean(fs, eff),
	}.Normalize()
}

func effectiveness(samples []sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.effectiveness
	}
	return out
}

// lerp returns a + t·(b − a) for both weights.
func lerp(a, b search.SearchWeights, t float64) search.SearchWeights {
	return search.SearchWeights{
		VectorWeight:   a.VectorWeight + t*(b.VectorWeight-a.VectorWeight),
		FulltextWeight: a.FulltextWeight + t*(b.FulltextWeight-a.FulltextWeight),
		Confidence:     a.Confidence,
	}
}

func clampUnit(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}

func inUnit(x float64) bool {
	return x >= 0 && x <= 1
}
