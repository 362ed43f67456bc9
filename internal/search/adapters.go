package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Aman-CERP/agentmem/internal/embed"
	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
	"github.com/Aman-CERP/agentmem/internal/store"
)

// documentSource is implemented by lexical indexes that keep content in
// memory (store.BM25Engine).
type documentSource interface {
	Document(id string) (*store.Document, bool)
}

// LexicalSearcher adapts a store.BM25Index to BM25Searcher. When a catalog
// is set, results are hydrated from it and IDs the catalog no longer knows
// are dropped.
type LexicalSearcher struct {
	index   store.BM25Index
	catalog store.Catalog
}

var _ BM25Searcher = (*LexicalSearcher)(nil)

// NewLexicalSearcher creates a lexical searcher. catalog may be nil.
func NewLexicalSearcher(index store.BM25Index, catalog store.Catalog) *LexicalSearcher {
	return &LexicalSearcher{index: index, catalog: catalog}
}

// SearchBM25 runs the lexical query.
func (s *LexicalSearcher) SearchBM25(ctx context.Context, query string, limit int) ([]*SearchResult, error) {
	hits, err := s.index.Search(ctx, query, limit)
	if err != nil {
		return nil, agenterrors.New(agenterrors.ErrCodeSearcherFailed, "bm25 search failed", err)
	}

	results := make([]*SearchResult, 0, len(hits))
	for _, h := range hits {
		score := h.Score
		r := &SearchResult{ID: h.DocID, Score: score, FulltextScore: &score}
		if len(h.MatchedTerms) > 0 {
			r.Metadata = map[string]any{"matched_terms": h.MatchedTerms}
		}
		results = append(results, r)
	}

	if s.catalog != nil {
		return hydrate(ctx, s.catalog, results)
	}
	if src, ok := s.index.(documentSource); ok {
		for _, r := range results {
			if doc, ok := src.Document(r.ID); ok {
				r.Content = doc.Content
			}
		}
	}
	return results, nil
}

// SemanticSearcher adapts an embedder plus a store.VectorStore to
// VectorSearcher.
type SemanticSearcher struct {
	embedder embed.Embedder
	vectors  store.VectorStore
	catalog  store.Catalog
}

var _ VectorSearcher = (*SemanticSearcher)(nil)

// NewSemanticSearcher creates a semantic searcher. catalog may be nil.
func NewSemanticSearcher(embedder embed.Embedder, vectors store.VectorStore, catalog store.Catalog) *SemanticSearcher {
	return &SemanticSearcher{embedder: embedder, vectors: vectors, catalog: catalog}
}

// SearchVector embeds query and returns neighbours with similarity >= threshold.
func (s *SemanticSearcher) SearchVector(ctx context.Context, query string, limit int, threshold float64) ([]*SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, agenterrors.New(agenterrors.ErrCodeEmbeddingFailed, "failed to embed query", err)
	}

	hits, err := s.vectors.Search(ctx, vec, limit)
	if err != nil {
		return nil, agenterrors.New(agenterrors.ErrCodeSearcherFailed, "vector search failed", err)
	}

	results := make([]*SearchResult, 0, len(hits))
	for _, h := range hits {
		score := float64(h.Score)
		if score < threshold {
			continue
		}
		results = append(results, &SearchResult{ID: h.ID, Score: score, VectorScore: &score})
	}

	if s.catalog != nil {
		return hydrate(ctx, s.catalog, results)
	}
	return results, nil
}

// IndexMemories embeds memories and adds them to the vector store.
func (s *SemanticSearcher) IndexMemories(ctx context.Context, memories []*store.Memory) error {
	if len(memories) == 0 {
		return nil
	}
	ids := make([]string, len(memories))
	texts := make([]string, len(memories))
	for i, m := range memories {
		ids[i] = m.ID
		texts[i] = m.Content
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return agenterrors.New(agenterrors.ErrCodeEmbeddingFailed, "failed to embed memories", err)
	}
	return s.vectors.Add(ctx, ids, vecs)
}

// CatalogMatcher adapts a store.Catalog to ExactMatcher.
type CatalogMatcher struct {
	catalog store.Catalog
}

var _ ExactMatcher = (*CatalogMatcher)(nil)

// NewCatalogMatcher creates an exact matcher over catalog.
func NewCatalogMatcher(catalog store.Catalog) *CatalogMatcher {
	return &CatalogMatcher{catalog: catalog}
}

// MatchExact looks the trimmed query up as a memory ID.
func (m *CatalogMatcher) MatchExact(ctx context.Context, query string, limit int) ([]*SearchResult, error) {
	id := strings.TrimSpace(query)
	if id == "" || limit == 0 {
		return []*SearchResult{}, nil
	}
	mem, err := m.catalog.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return []*SearchResult{}, nil
	}
	if err != nil {
		return nil, agenterrors.New(agenterrors.ErrCodeSearcherFailed, "exact lookup failed", err)
	}
	return []*SearchResult{{
		ID:       mem.ID,
		Content:  mem.Content,
		Score:    1.0,
		Metadata: MemoryMetadata(mem),
	}}, nil
}

// MemoryMetadata flattens a memory's metadata together with the fields the
// reranker reads.
func MemoryMetadata(m *store.Memory) map[string]any {
	md := make(map[string]any, len(m.Metadata)+2)
	for k, v := range m.Metadata {
		md[k] = v
	}
	if !m.CreatedAt.IsZero() {
		md[MetadataCreatedAt] = m.CreatedAt
	}
	if m.Importance > 0 {
		md[MetadataImportance] = m.Importance
	}
	return md
}

// hydrate fills content and metadata from the catalog, dropping IDs that
// are no longer stored.
func hydrate(ctx context.Context, catalog store.Catalog, results []*SearchResult) ([]*SearchResult, error) {
	if len(results) == 0 {
		return results, nil
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	memories, err := catalog.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate results: %w", err)
	}

	out := results[:0]
	for _, r := range results {
		m, ok := memories[r.ID]
		if !ok {
			continue
		}
		r.Content = m.Content
		md := MemoryMetadata(m)
		for k, v := range r.Metadata {
			md[k] = v
		}
		r.Metadata = md
		out = append(out, r)
	}
	return out, nil
}
