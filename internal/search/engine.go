package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
)

// ErrNilDependency is returned when an option is given a nil dependency.
var ErrNilDependency = errors.New("nil dependency")

// EnhancedHybridConfig is the engine's flat configuration surface.
type EnhancedHybridConfig struct {
	EnableQueryClassification bool          `yaml:"enable_query_classification" json:"enable_query_classification"`
	EnableAdaptiveThreshold   bool          `yaml:"enable_adaptive_threshold" json:"enable_adaptive_threshold"`
	EnableParallel            bool          `yaml:"enable_parallel" json:"enable_parallel"`
	EnableMetrics             bool          `yaml:"enable_metrics" json:"enable_metrics"`
	EnableCache               bool          `yaml:"enable_cache" json:"enable_cache"`
	EnableLearning            bool          `yaml:"enable_learning" json:"enable_learning"`
	RRFK                      int           `yaml:"rrf_k" json:"rrf_k"`
	VectorWeight              float64       `yaml:"vector_weight" json:"vector_weight"`
	FulltextWeight            float64       `yaml:"fulltext_weight" json:"fulltext_weight"`
	SearcherTimeout           time.Duration `yaml:"searcher_timeout" json:"searcher_timeout"`
	CacheTTL                  time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	CacheMaxItems             int           `yaml:"cache_max_items" json:"cache_max_items"`
	DefaultLimit              int           `yaml:"default_limit" json:"default_limit"`
	MaxLimit                  int           `yaml:"max_limit" json:"max_limit"`
}

// DefaultEngineConfig returns sensible default configuration.
func DefaultEngineConfig() EnhancedHybridConfig {
	return EnhancedHybridConfig{
		EnableQueryClassification: true,
		EnableAdaptiveThreshold:   true,
		EnableParallel:            true,
		EnableMetrics:             true,
		EnableCache:               false,
		EnableLearning:            true,
		RRFK:                      DefaultRRFConstant,
		VectorWeight:              DefaultVectorWeight,
		FulltextWeight:            DefaultFulltextWeight,
		SearcherTimeout:           2 * time.Second,
		CacheTTL:                  defaultCacheTTL,
		CacheMaxItems:             defaultCacheMaxItems,
		DefaultLimit:              10,
		MaxLimit:                  100,
	}
}

// Validate reports configuration values the engine cannot run with.
func (c EnhancedHybridConfig) Validate() error {
	switch {
	case c.RRFK <= 0:
		return agenterrors.ConfigError(fmt.Sprintf("rrf_k must be positive, got %d", c.RRFK), nil)
	case c.VectorWeight < 0 || c.FulltextWeight < 0:
		return agenterrors.ConfigError("fusion weights must not be negative", nil)
	case c.SearcherTimeout <= 0:
		return agenterrors.ConfigError("searcher_timeout must be positive", nil)
	case c.DefaultLimit <= 0 || c.MaxLimit < c.DefaultLimit:
		return agenterrors.ConfigError(
			fmt.Sprintf("invalid limits: default %d, max %d", c.DefaultLimit, c.MaxLimit), nil)
	}
	return nil
}

// Engine is the adaptive hybrid retrieval engine.
type Engine struct {
	config EnhancedHybridConfig

	vector VectorSearcher
	bm25   BM25Searcher
	exact  ExactMatcher

	classifier *Classifier
	thresholds *ThresholdCalculator
	predictor  *WeightPredictor
	fusion     *RRFFusion
	reranker   Reranker
	advisor    WeightAdvisor
	metrics    MetricsRecorder
	cache      *ResultCache

	optErr error
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithVectorSearcher registers the vector retrieval path.
func WithVectorSearcher(s VectorSearcher) EngineOption {
	return func(e *Engine) {
		if s == nil {
			e.optErr = fmt.Errorf("%w: vector searcher", ErrNilDependency)
			return
		}
		e.vector = s
	}
}

// WithBM25Searcher registers the lexical retrieval path.
func WithBM25Searcher(s BM25Searcher) EngineOption {
	return func(e *Engine) {
		if s == nil {
			e.optErr = fmt.Errorf("%w: bm25 searcher", ErrNilDependency)
			return
		}
		e.bm25 = s
	}
}

// WithExactMatcher registers the exact-ID retrieval path.
func WithExactMatcher(m ExactMatcher) EngineOption {
	return func(e *Engine) {
		if m == nil {
			e.optErr = fmt.Errorf("%w: exact matcher", ErrNilDependency)
			return
		}
		e.exact = m
	}
}

// WithClassifier replaces the default classifier.
func WithClassifier(c *Classifier) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.classifier = c
		}
	}
}

// WithThresholdCalculator replaces the default threshold calculator.
func WithThresholdCalculator(t *ThresholdCalculator) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.thresholds = t
		}
	}
}

// WithWeightPredictor replaces the default weight predictor.
func WithWeightPredictor(p *WeightPredictor) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.predictor = p
		}
	}
}

// WithReranker sets the post-fusion reranker. Without one, fused order is final.
func WithReranker(r Reranker) EngineOption {
	return func(e *Engine) {
		e.reranker = r
	}
}

// WithWeightAdvisor sets the source of learned weights.
func WithWeightAdvisor(a WeightAdvisor) EngineOption {
	return func(e *Engine) {
		e.advisor = a
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine. Searchers are optional; a strategy that needs
// only unregistered searchers fails at search time with ErrSearcherMissing.
func NewEngine(config EnhancedHybridConfig, opts ...EngineOption) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	classifierCfg := DefaultClassifierConfig()
	classifierCfg.GeneralVectorWeight = config.VectorWeight
	classifierCfg.GeneralFulltextWeight = config.FulltextWeight
	predictorCfg := DefaultPredictorConfig()
	predictorCfg.VectorWeight = config.VectorWeight
	predictorCfg.FulltextWeight = config.FulltextWeight

	e := &Engine{
		config:     config,
		classifier: NewClassifier(classifierCfg),
		thresholds: NewThresholdCalculator(DefaultThresholdConfig()),
		predictor:  NewWeightPredictor(predictorCfg),
		fusion:     NewRRFFusionWithK(config.RRFK),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.optErr != nil {
		return nil, e.optErr
	}

	if config.EnableCache {
		cache, err := NewResultCache(config.CacheMaxItems, config.CacheTTL)
		if err != nil {
			return nil, err
		}
		e.cache = cache
	}
	return e, nil
}

// Classifier returns the engine's classifier.
func (e *Engine) Classifier() *Classifier { return e.classifier }

// Thresholds returns the engine's threshold calculator, for feedback.
func (e *Engine) Thresholds() *ThresholdCalculator { return e.thresholds }

// Plan returns the query type, features, strategy and weights Search would
// use for query, without retrieving anything.
func (e *Engine) Plan(query string, overrides *SearchQuery) (QueryType, QueryFeatures, SearchStrategy, SearchWeights) {
	return e.plan(strings.TrimSpace(query), overrides)
}

// InvalidateCache drops cached results. Call it after the corpus changes.
func (e *Engine) InvalidateCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

// Close releases the result cache.
func (e *Engine) Close() error {
	if e.cache != nil {
		e.cache.Close()
	}
	return nil
}

// Search classifies query, runs the enabled searchers, fuses and reranks.
//
// overrides may be nil. A limit <= 0 falls back to overrides.Limit, then to
// the configured default; limits above MaxLimit are capped.
func (e *Engine) Search(ctx context.Context, query string, limit int, overrides *SearchQuery) (*EnhancedSearchResult, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	if query == "" && overrides != nil {
		query = strings.TrimSpace(overrides.Query)
	}
	limit = e.effectiveLimit(limit, overrides)

	if overrides != nil && overrides.MetadataFilters != nil {
		if err := overrides.MetadataFilters.Validate(); err != nil {
			return nil, err
		}
	}

	var key string
	if e.cache != nil {
		key = cacheKey(query, limit, overrides)
		if cached, ok := e.cache.Get(key); ok {
			cached.Stats.CacheHit = true
			cached.Stats.TotalTimeMs = msSince(start)
			e.record(cached.QueryType, cached.Stats)
			return cached, nil
		}
	}

	qt, features, strategy, weights := e.plan(query, overrides)
	stats := SearchStats{
		ClassificationTimeMs: msSince(start),
		ThresholdUsed:        strategy.Threshold,
	}
	result := &EnhancedSearchResult{
		Results:   []*SearchResult{},
		QueryType: qt,
		Strategy:  strategy,
		Weights:   weights,
		Features:  features,
	}

	// Nothing to look up for an empty query.
	if query == "" {
		stats.TotalTimeMs = msSince(start)
		result.Stats = stats
		e.record(qt, stats)
		return result, nil
	}

	calls := e.retrievalCalls(query, limit, strategy)
	if len(calls) == 0 {
		return nil, agenterrors.New(agenterrors.ErrCodeSearcherMissing,
			"no searcher registered for strategy", nil).WithDetail("query_type", string(qt))
	}

	outcomes, err := e.fanOut(ctx, calls)
	if err != nil {
		return nil, err
	}

	sources, failures := e.collect(outcomes, &stats)
	if len(failures) == len(outcomes) {
		return nil, agenterrors.New(agenterrors.ErrCodeNoRetrievalPath,
			"no retrieval path succeeded", errors.Join(failures...)).
			WithDetail("query_type", string(qt))
	}

	equals, group := filtersOf(overrides)
	fuseStart := time.Now()
	var ranked []*SearchResult
	if exact := sources[SourceExact]; len(exact) > 0 {
		// An exact ID hit is unambiguous: no fusion, no rerank.
		ranked = ApplyFilters(exactResults(exact, 0), equals, group)
		stats.FusionTimeMs = msSince(fuseStart)
	} else {
		ranked = e.fusion.Fuse(sources, map[string]float64{
			SourceBM25:   strategy.BM25Weight,
			SourceVector: strategy.VectorWeight,
		})
		ranked = ApplyFilters(ranked, equals, group)
		stats.FusionTimeMs = msSince(fuseStart)
		ranked = e.rerank(ctx, query, ranked)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	result.Results = ranked
	stats.TotalTimeMs = msSince(start)
	result.Stats = stats

	e.record(qt, stats)
	if e.cache != nil {
		e.cache.Set(key, result)
	}
	return result, nil
}

func (e *Engine) effectiveLimit(limit int, overrides *SearchQuery) int {
	if limit <= 0 && overrides != nil {
		limit = overrides.Limit
	}
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}
	if limit > e.config.MaxLimit {
		limit = e.config.MaxLimit
	}
	return limit
}

func filtersOf(q *SearchQuery) (map[string]string, *FilterGroup) {
	if q == nil {
		return nil, nil
	}
	return q.Filters, q.MetadataFilters
}

// plan derives the query type, features, strategy and final weights.
func (e *Engine) plan(query string, overrides *SearchQuery) (QueryType, QueryFeatures, SearchStrategy, SearchWeights) {
	features := ExtractFeatures(query)

	qt := QueryTypeGeneral
	if e.config.EnableQueryClassification {
		qt = e.classifier.ClassifyFeatures(query, features)
	}
	strategy := e.classifier.Strategy(qt)

	weights := SearchWeights{
		VectorWeight:   strategy.VectorWeight,
		FulltextWeight: strategy.BM25Weight,
		Confidence:     1,
	}
	if e.config.EnableQueryClassification && strategy.UseVector && strategy.UseBM25 {
		weights = e.refineWeights(weights, features)
	}

	threshold := strategy.Threshold
	if e.config.EnableAdaptiveThreshold {
		threshold = e.thresholds.Calculate(query, qt, features)
	}

	if overrides != nil {
		if overrides.Threshold != nil {
			threshold = clamp(*overrides.Threshold, 0, 1)
		}
		if overrides.VectorWeight != nil {
			weights.VectorWeight = *overrides.VectorWeight
		}
		if overrides.FulltextWeight != nil {
			weights.FulltextWeight = *overrides.FulltextWeight
		}
		if overrides.VectorWeight != nil && *overrides.VectorWeight <= 0 {
			strategy.UseVector = false
		}
		if overrides.FulltextWeight != nil && *overrides.FulltextWeight <= 0 {
			strategy.UseBM25 = false
		}
	}

	switch {
	case strategy.UseVector && strategy.UseBM25:
		weights = weights.Normalize()
	case strategy.UseVector:
		weights.VectorWeight, weights.FulltextWeight = 1, 0
	case strategy.UseBM25:
		weights.VectorWeight, weights.FulltextWeight = 0, 1
	}

	strategy.VectorWeight = weights.VectorWeight
	strategy.BM25Weight = weights.FulltextWeight
	strategy.Threshold = threshold
	return qt, features, strategy, weights
}

// refineWeights blends the strategy's coarse split with the predictor's and,
// when available, the learned recommendation scaled by its confidence.
func (e *Engine) refineWeights(coarse SearchWeights, features QueryFeatures) SearchWeights {
	predicted := e.predictor.Predict(features)
	w := SearchWeights{
		VectorWeight:   (coarse.VectorWeight + predicted.VectorWeight) / 2,
		FulltextWeight: (coarse.FulltextWeight + predicted.FulltextWeight) / 2,
		Confidence:     predicted.Confidence,
	}

	if e.config.EnableLearning && e.advisor != nil {
		if learned, ok := e.advisor.RecommendedWeights(features); ok {
			c := clamp(learned.Confidence, 0, 1)
			w.VectorWeight = (1-c)*w.VectorWeight + c*learned.VectorWeight
			w.FulltextWeight = (1-c)*w.FulltextWeight + c*learned.FulltextWeight
			w.Confidence = max(w.Confidence, c)
		}
	}
	return w.Normalize()
}

// retrievalCall is one searcher invocation planned for this query.
type retrievalCall struct {
	source string
	run    func(ctx context.Context) ([]*SearchResult, error)
}

type retrievalOutcome struct {
	source   string
	results  []*SearchResult
	err      error
	duration time.Duration
}

// retrievalCalls lists the enabled and registered searchers, in fusion order.
// Each asks for twice the limit so fusion has candidates to reorder.
func (e *Engine) retrievalCalls(query string, limit int, s SearchStrategy) []retrievalCall {
	fetch := limit * 2
	var calls []retrievalCall
	if s.UseExactMatch && e.exact != nil {
		calls = append(calls, retrievalCall{SourceExact, func(ctx context.Context) ([]*SearchResult, error) {
			return e.exact.MatchExact(ctx, query, fetch)
		}})
	}
	if s.UseBM25 && e.bm25 != nil {
		calls = append(calls, retrievalCall{SourceBM25, func(ctx context.Context) ([]*SearchResult, error) {
			return e.bm25.SearchBM25(ctx, query, fetch)
		}})
	}
	if s.UseVector && e.vector != nil {
		threshold := s.Threshold
		calls = append(calls, retrievalCall{SourceVector, func(ctx context.Context) ([]*SearchResult, error) {
			return e.vector.SearchVector(ctx, query, fetch, threshold)
		}})
	}
	return calls
}

// fanOut runs every call, concurrently unless EnableParallel is off. A
// failing searcher never cancels its siblings. If the caller's context ends
// first, partial results are discarded and ctx.Err() is returned.
func (e *Engine) fanOut(ctx context.Context, calls []retrievalCall) ([]retrievalOutcome, error) {
	outcomes := make([]retrievalOutcome, len(calls))

	if !e.config.EnableParallel {
		for i, call := range calls {
			outcomes[i] = e.runOne(ctx, call)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		return outcomes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for i, call := range calls {
		g.Go(func() error {
			out := e.runOne(gctx, call)
			mu.Lock()
			outcomes[i] = out
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// runOne calls one searcher under the per-searcher timeout.
func (e *Engine) runOne(ctx context.Context, call retrievalCall) retrievalOutcome {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, e.config.SearcherTimeout)
	defer cancel()

	type reply struct {
		results []*SearchResult
		err     error
	}
	done := make(chan reply, 1)
	go func() {
		res, err := call.run(sctx)
		done <- reply{res, err}
	}()

	out := retrievalOutcome{source: call.source}
	select {
	case r := <-done:
		out.results, out.err = r.results, r.err
		if out.err != nil && sctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			out.err = agenterrors.New(agenterrors.ErrCodeSearcherTimeout, "searcher timed out", out.err).
				WithDetail("source", call.source)
		}
	case <-sctx.Done():
		if ctx.Err() != nil {
			out.err = ctx.Err()
		} else {
			out.err = agenterrors.New(agenterrors.ErrCodeSearcherTimeout, "searcher timed out", sctx.Err()).
				WithDetail("source", call.source)
		}
	}
	out.duration = time.Since(start)
	return out
}

// collect turns outcomes into per-source lists, filling stats. Failed
// sources are logged and contribute an empty list.
func (e *Engine) collect(outcomes []retrievalOutcome, stats *SearchStats) (map[string][]*SearchResult, []error) {
	sources := make(map[string][]*SearchResult, len(outcomes))
	var failures []error

	for _, out := range outcomes {
		ms := float64(out.duration.Microseconds()) / 1000
		switch out.source {
		case SourceExact:
			stats.ExactMatchTimeMs = ms
		case SourceBM25:
			stats.BM25SearchTimeMs = ms
		case SourceVector:
			stats.VectorSearchTimeMs = ms
		}

		if out.err != nil {
			slog.Warn("searcher failed, continuing without it",
				slog.String("source", out.source),
				slog.String("code", agenterrors.GetCode(out.err)),
				slog.Duration("elapsed", out.duration),
				slog.String("error", out.err.Error()))
			stats.DegradedSources = append(stats.DegradedSources, out.source)
			failures = append(failures, fmt.Errorf("%s: %w", out.source, out.err))
			sources[out.source] = nil
			continue
		}

		sources[out.source] = out.results
		switch out.source {
		case SourceExact:
			stats.ExactResultsCount = len(out.results)
		case SourceBM25:
			stats.BM25ResultsCount = len(out.results)
		case SourceVector:
			stats.VectorResultsCount = len(out.results)
		}
	}
	return sources, failures
}

// rerank applies the reranker, keeping fused order if it fails.
func (e *Engine) rerank(ctx context.Context, query string, fused []*SearchResult) []*SearchResult {
	if e.reranker == nil || len(fused) == 0 {
		return fused
	}
	reranked, err := e.reranker.Rerank(ctx, query, fused)
	if err != nil {
		slog.Debug("rerank failed, keeping fused order", slog.String("error", err.Error()))
		return fused
	}
	return reranked
}

func (e *Engine) record(qt QueryType, stats SearchStats) {
	if !e.config.EnableMetrics || e.metrics == nil {
		return
	}
	e.metrics.Record(qt, stats)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
