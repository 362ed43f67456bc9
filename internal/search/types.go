// Package search implements adaptive hybrid retrieval over agent memories.
//
// A query is classified, a strategy (which retrieval paths to run and how to
// weight them) is derived, the enabled searchers run concurrently, and their
// ranked lists are merged with Reciprocal Rank Fusion before a cheap
// metadata-driven rerank.
package search

import (
	"context"
	"math"
)

// QueryType is the routing category of a query.
type QueryType string

const (
	// QueryTypeExactID is a strict identifier such as P000001 or ABC-123.
	QueryTypeExactID QueryType = "exact_id"

	// QueryTypeShortKeyword is one or two bare keywords.
	QueryTypeShortKeyword QueryType = "short_keyword"

	// QueryTypeNaturalLanguage is a plain sentence of moderate length.
	QueryTypeNaturalLanguage QueryType = "natural_language"

	// QueryTypeSemantic is a long, varied question.
	QueryTypeSemantic QueryType = "semantic"

	// QueryTypeTechnical contains identifiers, error codes or technical vocabulary.
	QueryTypeTechnical QueryType = "technical"

	// QueryTypeConversational refers back to an earlier exchange ("you said", "remember").
	QueryTypeConversational QueryType = "conversational"

	// QueryTypeGeneral is everything else.
	QueryTypeGeneral QueryType = "general"
)

// AllQueryTypes lists every query type in classification priority order.
func AllQueryTypes() []QueryType {
	return []QueryType{
		QueryTypeExactID,
		QueryTypeShortKeyword,
		QueryTypeConversational,
		QueryTypeSemantic,
		QueryTypeNaturalLanguage,
		QueryTypeTechnical,
		QueryTypeGeneral,
	}
}

// Source names used as fusion keys and in stats.
const (
	SourceExact  = "exact"
	SourceBM25   = "bm25"
	SourceVector = "vector"
)

// sourceOrder fixes the visiting order for fusion tie-breaks.
var sourceOrder = []string{SourceExact, SourceBM25, SourceVector}

// SearchQuery carries caller overrides for one search call.
// Nil pointers mean "no override". A weight override of 0 disables that source.
type SearchQuery struct {
	Query           string
	Limit           int
	Threshold       *float64
	VectorWeight    *float64
	FulltextWeight  *float64
	Filters         map[string]string
	MetadataFilters *FilterGroup
}

// SearchStrategy says which retrieval paths run and how they are weighted.
// When both vector and BM25 are enabled the weights sum to 1.
type SearchStrategy struct {
	UseVector     bool    `json:"use_vector"`
	UseBM25       bool    `json:"use_bm25"`
	UseExactMatch bool    `json:"use_exact_match"`
	VectorWeight  float64 `json:"vector_weight"`
	BM25Weight    float64 `json:"bm25_weight"`
	Threshold     float64 `json:"threshold"`
}

// SearchWeights is a vector/fulltext split with a confidence in [0,1].
type SearchWeights struct {
	VectorWeight   float64 `json:"vector_weight"`
	FulltextWeight float64 `json:"fulltext_weight"`
	Confidence     float64 `json:"confidence"`
}

// Normalize clamps negatives to zero and rescales the pair to sum to 1.
// A (0,0) pair splits evenly. Normalize is idempotent.
func (w SearchWeights) Normalize() SearchWeights {
	v := clampNonNegative(w.VectorWeight)
	f := clampNonNegative(w.FulltextWeight)
	total := v + f
	if total == 0 {
		v, f = 0.5, 0.5
	} else {
		v /= total
		f = 1 - v
	}
	w.VectorWeight = v
	w.FulltextWeight = f
	w.Confidence = clamp(w.Confidence, 0, 1)
	return w
}

func clampNonNegative(x float64) float64 {
	if x < 0 || math.IsNaN(x) {
		return 0
	}
	if math.IsInf(x, 1) {
		return math.MaxFloat64 / 4
	}
	return x
}

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	return math.Max(lo, math.Min(hi, x))
}

// SearchResult is one retrieved memory.
type SearchResult struct {
	ID            string         `json:"id"`
	Content       string         `json:"content"`
	Score         float64        `json:"score"`
	VectorScore   *float64       `json:"vector_score,omitempty"`
	FulltextScore *float64       `json:"fulltext_score,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// clone returns a shallow copy with its own metadata map.
func (r *SearchResult) clone() *SearchResult {
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// SearchStats is the latency and count breakdown of one search call.
type SearchStats struct {
	TotalTimeMs          float64  `json:"total_time_ms"`
	ClassificationTimeMs float64  `json:"classification_time_ms"`
	VectorSearchTimeMs   float64  `json:"vector_search_time_ms"`
	BM25SearchTimeMs     float64  `json:"bm25_search_time_ms"`
	ExactMatchTimeMs     float64  `json:"exact_match_time_ms"`
	FusionTimeMs         float64  `json:"fusion_time_ms"`
	ThresholdUsed        float64  `json:"threshold_used"`
	VectorResultsCount   int      `json:"vector_results_count"`
	BM25ResultsCount     int      `json:"bm25_results_count"`
	ExactResultsCount    int      `json:"exact_results_count"`
	CacheHit             bool     `json:"cache_hit"`
	DegradedSources      []string `json:"degraded_sources,omitempty"`
}

// EnhancedSearchResult is the outcome of one search call.
type EnhancedSearchResult struct {
	Results   []*SearchResult `json:"results"`
	QueryType QueryType       `json:"query_type"`
	Strategy  SearchStrategy  `json:"strategy"`
	Weights   SearchWeights   `json:"weights"`
	Features  QueryFeatures   `json:"features"`
	Stats     SearchStats     `json:"stats"`
}

// VectorSearcher embeds the query and runs nearest-neighbour search.
// Results carry VectorScore and have similarity >= threshold.
type VectorSearcher interface {
	SearchVector(ctx context.Context, query string, limit int, threshold float64) ([]*SearchResult, error)
}

// BM25Searcher runs lexical search. Results carry FulltextScore.
type BM25Searcher interface {
	SearchBM25(ctx context.Context, query string, limit int) ([]*SearchResult, error)
}

// ExactMatcher looks the query up as a memory ID. Results score 1.0.
type ExactMatcher interface {
	MatchExact(ctx context.Context, query string, limit int) ([]*SearchResult, error)
}

// WeightAdvisor supplies learned weights for a query. ok is false while
// there is not enough evidence.
type WeightAdvisor interface {
	RecommendedWeights(features QueryFeatures) (weights SearchWeights, ok bool)
}

// MetricsRecorder receives the stats of every completed search.
type MetricsRecorder interface {
	Record(queryType QueryType, stats SearchStats)
}

// Float64Ptr returns a pointer to v, for SearchQuery overrides.
func Float64Ptr(v float64) *float64 {
	return &v
}
