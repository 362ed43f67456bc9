package learning

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gonum.org/v1/gonum/stat/distuv"

	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
	"github.com/Aman-CERP/agentmem/internal/search"
)

// StrategyID names one fixed weight preset the router can pick.
type StrategyID string

const (
	StrategyVectorHeavy   StrategyID = "vector_heavy"
	StrategyBalanced      StrategyID = "balanced"
	StrategyFulltextHeavy StrategyID = "fulltext_heavy"
	StrategyVectorOnly    StrategyID = "vector_only"
	StrategyFulltextOnly  StrategyID = "fulltext_only"
)

// Strategies lists every preset in a fixed order.
func Strategies() []StrategyID {
	return []StrategyID{
		StrategyVectorHeavy,
		StrategyBalanced,
		StrategyFulltextHeavy,
		StrategyVectorOnly,
		StrategyFulltextOnly,
	}
}

// Weights returns the preset weights. Extreme presets carry less confidence.
func (s StrategyID) Weights() search.SearchWeights {
	switch s {
	case StrategyVectorHeavy:
		return search.SearchWeights{VectorWeight: 0.9, FulltextWeight: 0.1, Confidence: 0.8}
	case StrategyFulltextHeavy:
		return search.SearchWeights{VectorWeight: 0.3, FulltextWeight: 0.7, Confidence: 0.8}
	case StrategyVectorOnly:
		return search.SearchWeights{VectorWeight: 1, FulltextWeight: 0, Confidence: 0.7}
	case StrategyFulltextOnly:
		return search.SearchWeights{VectorWeight: 0, FulltextWeight: 1, Confidence: 0.7}
	default:
		return search.SearchWeights{VectorWeight: 0.7, FulltextWeight: 0.3, Confidence: 0.9}
	}
}

// NearestStrategy returns the preset whose vector weight is closest to w's.
// Ties go to the earlier preset.
func NearestStrategy(w search.SearchWeights) StrategyID {
	w = w.Normalize()
	best, bestDist := StrategyBalanced, math.Inf(1)
	for _, s := range Strategies() {
		if d := math.Abs(s.Weights().VectorWeight - w.VectorWeight); d < bestDist {
			best, bestDist = s, d
		}
	}
	return best
}

// Arm is the Beta(Alpha, Beta) posterior of one preset's reward.
type Arm struct {
	Alpha       float64   `json:"alpha"`
	Beta        float64   `json:"beta"`
	Tries       int       `json:"tries"`
	LastUpdated time.Time `json:"last_updated"`
}

func newArm() *Arm { return &Arm{Alpha: 1, Beta: 1} }

// ExpectedRate is the posterior mean.
func (a Arm) ExpectedRate() float64 {
	return a.Alpha / (a.Alpha + a.Beta)
}

func (a *Arm) update(reward float64, now time.Time) {
	a.Alpha += reward
	a.Beta += 1 - reward
	a.Tries++
	a.LastUpdated = now
}

// RouterConfig controls the Thompson-sampling router.
type RouterConfig struct {
	// ExplorationRate is the chance of picking a preset uniformly at random
	// instead of sampling the posteriors.
	ExplorationRate float64 `yaml:"exploration_rate" json:"exploration_rate"`

	// MinSamples is the feedback a pattern needs before the router
	// recommends anything for it.
	MinSamples int `yaml:"min_samples" json:"min_samples"`

	// DecisionCacheSize bounds the decisions held until their feedback.
	DecisionCacheSize int `yaml:"decision_cache_size" json:"decision_cache_size"`

	// Seed fixes the sampler. Zero seeds from the clock.
	Seed uint64 `yaml:"seed" json:"seed"`
}

// DefaultRouterConfig returns the default router configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		ExplorationRate:   0.1,
		MinSamples:        10,
		DecisionCacheSize: 4096,
	}
}

// Validate checks the configuration.
func (c RouterConfig) Validate() error {
	switch {
	case !inUnit(c.ExplorationRate):
		return agenterrors.ConfigError(fmt.Sprintf("learning.router.exploration_rate must be in [0,1], got %v", c.ExplorationRate), nil)
	case c.MinSamples < 0:
		return agenterrors.ConfigError("learning.router.min_samples must not be negative", nil)
	case c.DecisionCacheSize < 1:
		return agenterrors.ConfigError("learning.router.decision_cache_size must be at least 1", nil)
	}
	return nil
}

// Router picks one weight preset per query pattern by Thompson sampling
// over Beta posteriors, and credits feedback to the preset that served the
// query.
//
// A decision sticks to its features until feedback for them arrives, so the
// weights credited are the weights the search ran with. Sampling resumes
// with the next search after that feedback.
type Router struct {
	config RouterConfig
	now    func() time.Time

	mu   sync.Mutex // guards arms, src and rng
	arms map[QueryPattern]map[StrategyID]*Arm
	src  *rand.PCG
	rng  *rand.Rand

	decisions *lru.Cache[search.QueryFeatures, StrategyID]
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterClock overrides the clock used for arm timestamps.
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRouter creates a router with uniform priors on every arm.
func NewRouter(config RouterConfig, opts ...RouterOption) (*Router, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	decisions, err := lru.New[search.QueryFeatures, StrategyID](config.DecisionCacheSize)
	if err != nil {
		return nil, agenterrors.ConfigError("failed to create decision cache", err)
	}

	seed := config.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)

	r := &Router{
		config:    config,
		now:       time.Now,
		arms:      make(map[QueryPattern]map[StrategyID]*Arm, len(AllPatterns())),
		src:       src,
		rng:       rand.New(src),
		decisions: decisions,
	}
	for _, p := range AllPatterns() {
		row := make(map[StrategyID]*Arm, len(Strategies()))
		for _, s := range Strategies() {
			row[s] = newArm()
		}
		r.arms[p] = row
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Decide picks a preset for the features' pattern without remembering it.
func (r *Router) Decide(features search.QueryFeatures) StrategyID {
	p := PatternFromFeatures(features)

	r.mu.Lock()
	defer r.mu.Unlock()

	all := Strategies()
	if r.rng.Float64() < r.config.ExplorationRate {
		return all[r.rng.IntN(len(all))]
	}

	best, bestDraw := all[0], -1.0
	for _, s := range all {
		arm := r.arms[p][s]
		draw := distuv.Beta{Alpha: arm.Alpha, Beta: arm.Beta, Src: r.src}.Rand()
		if draw > bestDraw {
			best, bestDraw = s, draw
		}
	}
	return best
}

// RecommendedWeights implements search.WeightAdvisor. It returns false until
// the pattern has MinSamples feedback; after that it returns the preset
// decided for these features, deciding anew if none is pending.
func (r *Router) RecommendedWeights(features search.QueryFeatures) (search.SearchWeights, bool) {
	if r.tries(PatternFromFeatures(features)) < r.config.MinSamples {
		return search.SearchWeights{}, false
	}
	if s, ok := r.decisions.Get(features); ok {
		return s.Weights(), true
	}
	s := r.Decide(features)
	r.decisions.Add(features, s)
	return s.Weights(), true
}

// RecordFeedback credits effectiveness to the preset pending for features,
// or to the preset nearest weights when none is. The pending decision is
// cleared so the next search samples again.
func (r *Router) RecordFeedback(features search.QueryFeatures, weights search.SearchWeights, effectiveness float64) StrategyID {
	s, ok := r.decisions.Peek(features)
	if ok {
		r.decisions.Remove(features)
	} else {
		s = NearestStrategy(weights)
	}
	r.Update(PatternFromFeatures(features), s, effectiveness)
	return s
}

// Update adds one reward in [0,1] to an arm. Out-of-range rewards are
// clamped; unknown patterns or presets are ignored.
func (r *Router) Update(p QueryPattern, s StrategyID, reward float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	arm, ok := r.arms[p][s]
	if !ok {
		return
	}
	arm.update(clampUnit(reward), r.now())
}

// Arms returns a copy of the pattern's arms.
func (r *Router) Arms(p QueryPattern) map[StrategyID]Arm {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[StrategyID]Arm, len(r.arms[p]))
	for s, arm := range r.arms[p] {
		out[s] = *arm
	}
	return out
}

func (r *Router) tries(p QueryPattern) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, arm := range r.arms[p] {
		n += arm.Tries
	}
	return n
}

// Load replays up to limit persisted feedback records into the arms. A nil
// store is a no-op.
func (r *Router) Load(ctx context.Context, store FeedbackStore, limit int) error {
	if store == nil {
		return nil
	}
	recs, err := store.Recent(ctx, limit)
	if err != nil {
		return agenterrors.StorageError("failed to load feedback", err)
	}
	for _, rec := range recs {
		p, ok := ParsePattern(string(rec.Pattern))
		if !ok {
			p = PatternFromFeatures(rec.Features)
		}
		r.Update(p, NearestStrategy(rec.Weights), rec.Effectiveness)
	}
	slog.Debug("router arms replayed", slog.Int("records", len(recs)))
	return nil
}
