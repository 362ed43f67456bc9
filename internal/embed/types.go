// Package embed turns memory text into vectors for the semantic searcher.
//
// The engine never calls an embedder directly; the semantic searcher adapter
// in internal/search embeds the query and hands the vector to the vector
// store. StaticEmbedder is the reference implementation: hash-based, offline,
// deterministic.
package embed

import (
	"context"
	"fmt"
	"math"
)

// Static embedder constants
const (
	// StaticDimensions is the embedding dimension for static embedder
	StaticDimensions = 256

	// StaticModelName identifies vectors produced by StaticEmbedder.
	StaticModelName = "static-ngram-v1"
)

// Provider names accepted by New.
const (
	ProviderStatic = "static"
)

// Embedder generates vector embeddings for text
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Close releases resources
	Close() error
}

// Config selects and sizes the embedder.
type Config struct {
	Provider  string `yaml:"provider" json:"provider"`
	CacheSize int    `yaml:"cache_size" json:"cache_size"`
}

// DefaultConfig returns the static provider with the default cache.
func DefaultConfig() Config {
	return Config{
		Provider:  ProviderStatic,
		CacheSize: DefaultEmbeddingCacheSize,
	}
}

// New builds the embedder named by cfg.Provider, wrapped in an LRU cache
// unless CacheSize is negative.
func New(cfg Config) (Embedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case "", ProviderStatic:
		inner = NewStaticEmbedder()
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if cfg.CacheSize < 0 {
		return inner, nil
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
