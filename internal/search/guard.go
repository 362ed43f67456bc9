package search

import (
	"context"

	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
)

// GuardedVectorSearcher runs a VectorSearcher behind a circuit breaker.
type GuardedVectorSearcher struct {
	inner   VectorSearcher
	breaker *agenterrors.CircuitBreaker
}

// NewGuardedVectorSearcher wraps inner with a breaker named "vector".
func NewGuardedVectorSearcher(inner VectorSearcher, opts ...agenterrors.CircuitBreakerOption) *GuardedVectorSearcher {
	return &GuardedVectorSearcher{inner: inner, breaker: agenterrors.NewCircuitBreaker(SourceVector, opts...)}
}

// SearchVector fails fast with ErrCodeCircuitOpen while the breaker is open.
func (g *GuardedVectorSearcher) SearchVector(ctx context.Context, query string, limit int, threshold float64) ([]*SearchResult, error) {
	return agenterrors.Guard(ctx, g.breaker, func(ctx context.Context) ([]*SearchResult, error) {
		return g.inner.SearchVector(ctx, query, limit, threshold)
	})
}

// Breaker exposes the breaker state for stats.
func (g *GuardedVectorSearcher) Breaker() *agenterrors.CircuitBreaker { return g.breaker }

// GuardedBM25Searcher runs a BM25Searcher behind a circuit breaker.
type GuardedBM25Searcher struct {
	inner   BM25Searcher
	breaker *agenterrors.CircuitBreaker
}

// NewGuardedBM25Searcher wraps inner with a breaker named "bm25".
func NewGuardedBM25Searcher(inner BM25Searcher, opts ...agenterrors.CircuitBreakerOption) *GuardedBM25Searcher {
	return &GuardedBM25Searcher{inner: inner, breaker: agenterrors.NewCircuitBreaker(SourceBM25, opts...)}
}

// SearchBM25 fails fast with ErrCodeCircuitOpen while the breaker is open.
func (g *GuardedBM25Searcher) SearchBM25(ctx context.Context, query string, limit int) ([]*SearchResult, error) {
	return agenterrors.Guard(ctx, g.breaker, func(ctx context.Context) ([]*SearchResult, error) {
		return g.inner.SearchBM25(ctx, query, limit)
	})
}

// Breaker exposes the breaker state for stats.
func (g *GuardedBM25Searcher) Breaker() *agenterrors.CircuitBreaker { return g.breaker }

// GuardedExactMatcher runs an ExactMatcher behind a circuit breaker.
type GuardedExactMatcher struct {
	inner   ExactMatcher
	breaker *agenterrors.CircuitBreaker
}

// NewGuardedExactMatcher wraps inner with a breaker named "exact".
func NewGuardedExactMatcher(inner ExactMatcher, opts ...agenterrors.CircuitBreakerOption) *GuardedExactMatcher {
	return &GuardedExactMatcher{inner: inner, breaker: agenterrors.NewCircuitBreaker(SourceExact, opts...)}
}

// MatchExact fails fast with ErrCodeCircuitOpen while the breaker is open.
func (g *GuardedExactMatcher) MatchExact(ctx context.Context, query string, limit int) ([]*SearchResult, error) {
	return agenterrors.Guard(ctx, g.breaker, func(ctx context.Context) ([]*SearchResult, error) {
		return g.inner.MatchExact(ctx, query, limit)
	})
}

// Breaker exposes the breaker state for stats.
func (g *GuardedExactMatcher) Breaker() *agenterrors.CircuitBreaker { return g.breaker }
