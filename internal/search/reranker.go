package search

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"
)

// Metadata keys read by SignalReranker.
const (
	MetadataCreatedAt  = "created_at"
	MetadataImportance = "importance"
)

// Reranker reorders fused results with secondary signals. Implementations
// must return a permutation of the input: no new documents, no duplicates.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []*SearchResult) ([]*SearchResult, error)
}

// RerankerFunc adapts a function to the Reranker interface.
type RerankerFunc func(ctx context.Context, query string, results []*SearchResult) ([]*SearchResult, error)

// Rerank calls f.
func (f RerankerFunc) Rerank(ctx context.Context, query string, results []*SearchResult) ([]*SearchResult, error) {
	return f(ctx, query, results)
}

// NoOpReranker returns results in their original order.
type NoOpReranker struct{}

// Rerank returns results unchanged.
func (NoOpReranker) Rerank(_ context.Context, _ string, results []*SearchResult) ([]*SearchResult, error) {
	return results, nil
}

// RerankConfig configures SignalReranker.
type RerankConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// DecayDays is the age at which the recency factor halves.
	DecayDays float64 `yaml:"decay_days" json:"decay_days"`
	MinDecay  float64 `yaml:"min_decay" json:"min_decay"`

	ImportanceWeight float64 `yaml:"importance_weight" json:"importance_weight"`

	ShortContentChars int     `yaml:"short_content_chars" json:"short_content_chars"`
	ShortPenalty      float64 `yaml:"short_penalty" json:"short_penalty"`
	LongContentChars  int     `yaml:"long_content_chars" json:"long_content_chars"`
	LongPenalty       float64 `yaml:"long_penalty" json:"long_penalty"`
}

// DefaultRerankConfig returns the default rerank configuration.
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		Enabled:           true,
		DecayDays:         30,
		MinDecay:          0.5,
		ImportanceWeight:  0.2,
		ShortContentChars: 20,
		ShortPenalty:      0.9,
		LongContentChars:  1000,
		LongPenalty:       0.95,
	}
}

// SignalReranker multiplies each score by recency, importance and length
// factors taken from the result's metadata and content, then stable-sorts.
type SignalReranker struct {
	config RerankConfig
	now    func() time.Time
}

// NewSignalReranker creates a reranker. now may be nil for time.Now.
func NewSignalReranker(config RerankConfig, now func() time.Time) *SignalReranker {
	if now == nil {
		now = time.Now
	}
	if config.DecayDays <= 0 {
		config.DecayDays = DefaultRerankConfig().DecayDays
	}
	return &SignalReranker{config: config, now: now}
}

// Rerank adjusts scores in place and returns the results reordered.
func (r *SignalReranker) Rerank(ctx context.Context, _ string, results []*SearchResult) ([]*SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := r.now()
	for _, res := range results {
		res.Score *= r.factor(res, now)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// factor is the combined multiplier for one result.
func (r *SignalReranker) factor(res *SearchResult, now time.Time) float64 {
	f := 1.0

	if created, ok := timeFromMetadata(res.Metadata[MetadataCreatedAt]); ok {
		days := now.Sub(created).Hours() / 24
		if days < 0 {
			days = 0
		}
		f *= math.Max(r.config.MinDecay, 1/(1+days/r.config.DecayDays))
	}

	if imp, ok := floatFromMetadata(res.Metadata[MetadataImportance]); ok {
		f *= 1 + r.config.ImportanceWeight*clamp(imp, 0, 1)
	}

	switch n := utf8.RuneCountInString(res.Content); {
	case n < r.config.ShortContentChars:
		f *= r.config.ShortPenalty
	case r.config.LongContentChars > 0 && n > r.config.LongContentChars:
		f *= r.config.LongPenalty
	}

	return f
}

// timeFromMetadata accepts time.Time, unix seconds (any numeric type) and
// RFC 3339 strings.
func timeFromMetadata(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
		if secs, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.Unix(secs, 0), true
		}
		return time.Time{}, false
	default:
		if secs, ok := floatFromMetadata(v); ok {
			return time.Unix(int64(secs), 0), true
		}
		return time.Time{}, false
	}
}

// floatFromMetadata converts the numeric types a metadata map may hold,
// including values decoded from JSON.
func floatFromMetadata(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
