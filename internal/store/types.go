// Package store holds the retrieval collaborators: lexical indexes (an
// in-memory BM25 engine, SQLite FTS5, bleve), the HNSW vector store and the
// SQLite memory catalog used for exact-ID lookups and result hydration.
package store

import (
	"context"
	"fmt"
	"time"
)

// Memory is one stored agent memory (a fact or a conversation turn).
type Memory struct {
	ID         string
	Content    string
	Metadata   map[string]any
	Importance float64 // 0-1, optional
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Document is the lexical view of a memory.
type Document struct {
	ID      string
	Content string
}

// BM25Result represents a single BM25 search result.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about a lexical index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Config configures lexical scoring.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.5).
	K1 float64 `yaml:"k1" json:"k1"`

	// B is the length normalization parameter (default: 0.75).
	B float64 `yaml:"b" json:"b"`

	// MinIDF floors every term's IDF (default: 0).
	MinIDF float64 `yaml:"min_idf" json:"min_idf"`

	// MinTokenLength drops shorter tokens (default: 3, i.e. length <= 2 is dropped).
	MinTokenLength int `yaml:"min_token_length" json:"min_token_length"`

	// IDFCacheSize bounds the per-snapshot IDF cache (default: 4096).
	IDFCacheSize int `yaml:"idf_cache_size" json:"idf_cache_size"`
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.5,
		B:              0.75,
		MinIDF:         0,
		MinTokenLength: 3,
		IDFCacheSize:   4096,
	}
}

// BM25Index provides keyword search. Implementations: BM25Engine (memory),
// SQLiteBM25Index (FTS5) and BleveBM25Index.
type BM25Index interface {
	// Index adds documents, replacing any with the same ID.
	Index(ctx context.Context, docs []*Document) error

	// Search returns documents matching query, best first.
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	Delete(ctx context.Context, docIDs []string) error

	// AllIDs returns every indexed document ID.
	AllIDs() ([]string, error)

	Stats() *IndexStats
	Close() error
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// M is HNSW max connections per layer (default: 16).
	M int `yaml:"m" json:"m"`

	// EfSearch is HNSW query-time search width (default: 64).
	EfSearch int `yaml:"ef_search" json:"ef_search"`
}

// DefaultVectorStoreConfig returns defaults for the vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore provides nearest-neighbour search.
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k nearest neighbours to query.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	Delete(ctx context.Context, ids []string) error
	Contains(id string) bool
	AllIDs() []string
	Count() int

	Save(path string) error
	Load(path string) error
	Close() error
}

// Catalog persists memories and answers direct ID lookups.
type Catalog interface {
	Put(ctx context.Context, memories []*Memory) error
	Get(ctx context.Context, id string) (*Memory, error)

	// GetMany returns the memories that exist, keyed by ID.
	GetMany(ctx context.Context, ids []string) (map[string]*Memory, error)

	List(ctx context.Context, limit int) ([]*Memory, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
